package middleware

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// NewRateLimiter builds a limiter allowing requestsPerMinute generations with the given burst.
// It returns nil when requestsPerMinute is not positive.
func NewRateLimiter(requestsPerMinute float64, burst int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst)
}

// NewRateLimitMiddleware waits for the limiter before each generation. Waiting is cancelled with
// the context; there is no retry. A nil limiter disables the middleware.
func NewRateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, req Request) (<-chan helpers.Result[string], error) {
			if err := limiter.Wait(ctx); err != nil {
				log.Debug().Err(err).Msg("ratelimit: wait aborted")
				return nil, errors.Wrap(err, "rate limit")
			}
			return next(ctx, req)
		}
	}
}
