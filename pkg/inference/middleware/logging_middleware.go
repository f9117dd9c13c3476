package middleware

import (
	"context"
	"time"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens of a text.
type TokenCounter func(text string) int

// NewTokenCounter returns a counter for the given encoding, falling back to a rough
// four-bytes-per-token estimate when the codec cannot be loaded.
func NewTokenCounter(encoding tokenizer.Encoding) TokenCounter {
	codec, err := tokenizer.Get(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", string(encoding)).Msg("logging: tokenizer unavailable, estimating token counts")
		return func(text string) int { return (len(text) + 3) / 4 }
	}
	return func(text string) int {
		ids, _, err := codec.Encode(text)
		if err != nil {
			return (len(text) + 3) / 4
		}
		return len(ids)
	}
}

func promptTokens(count TokenCounter, messages []engine.Message) int {
	n := 0
	for _, m := range messages {
		n += count(m.Text)
	}
	return n
}

// NewLoggingMiddleware logs each generation with prompt and completion token counts.
func NewLoggingMiddleware(logger zerolog.Logger, count TokenCounter) Middleware {
	if count == nil {
		count = NewTokenCounter(tokenizer.Cl100kBase)
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (<-chan helpers.Result[string], error) {
			lg := logger
			// fall back to global if uninitialized
			if lg.GetLevel() == zerolog.NoLevel {
				lg = log.Logger
			}
			lg = lg.With().
				Int("messages", len(req.Messages)).
				Bool("stream", req.Stream).
				Float64("temperature", req.Temperature).
				Logger()

			lg.Debug().Int("prompt_tokens", promptTokens(count, req.Messages)).Msg("generation: starting")
			start := time.Now()

			c, err := next(ctx, req)
			if err != nil {
				lg.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("generation: failed")
				return nil, err
			}

			return tap(ctx, c, func(text string, err error) {
				if err != nil {
					lg.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("generation: stream failed")
					return
				}
				lg.Debug().
					Int("completion_tokens", count(text)).
					Int("completion_len", len(text)).
					Dur("elapsed", time.Since(start)).
					Msg("generation: completed")
			}), nil
		}
	}
}
