package middleware

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
)

// Request is what flows through a middleware chain.
type Request struct {
	Messages    []engine.Message
	Temperature float64
	// Stream asks for incremental fragments. Blocking engines answer with a single fragment.
	Stream bool
}

// HandlerFunc processes a generation request. Every call yields a fragment channel so that
// middleware only has to handle one shape.
type HandlerFunc func(ctx context.Context, req Request) (<-chan helpers.Result[string], error)

// Middleware wraps a HandlerFunc with additional functionality.
// Middleware are applied in order: Chain(m1, m2, m3) results in m1(m2(m3(handler))).
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes multiple middleware into a single HandlerFunc.
func Chain(handler HandlerFunc, middlewares ...Middleware) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func engineHandlerFunc(e engine.Engine) HandlerFunc {
	return func(ctx context.Context, req Request) (<-chan helpers.Result[string], error) {
		if req.Stream {
			return engine.Stream(ctx, e, req.Messages, req.Temperature)
		}
		text, err := e.Generate(ctx, req.Messages, req.Temperature)
		if err != nil {
			return nil, err
		}
		c := make(chan helpers.Result[string], 1)
		c <- helpers.NewValueResult[string](text)
		close(c)
		return c, nil
	}
}

// EngineWithMiddleware wraps an Engine with a middleware chain.
type EngineWithMiddleware struct {
	handler HandlerFunc
}

var _ engine.StreamingEngine = (*EngineWithMiddleware)(nil)

func NewEngineWithMiddleware(e engine.Engine, middlewares ...Middleware) *EngineWithMiddleware {
	return &EngineWithMiddleware{
		handler: Chain(engineHandlerFunc(e), middlewares...),
	}
}

func (e *EngineWithMiddleware) Generate(ctx context.Context, messages []engine.Message, temperature float64) (string, error) {
	c, err := e.handler(ctx, Request{Messages: messages, Temperature: temperature})
	if err != nil {
		return "", err
	}
	return engine.Collect(ctx, c, nil)
}

func (e *EngineWithMiddleware) GenerateStream(ctx context.Context, messages []engine.Message, temperature float64) (<-chan helpers.Result[string], error) {
	return e.handler(ctx, Request{Messages: messages, Temperature: temperature, Stream: true})
}

// tap forwards every result of in and calls done once with the concatenated text or the
// first error when the stream ends.
func tap(ctx context.Context, in <-chan helpers.Result[string], done func(text string, err error)) <-chan helpers.Result[string] {
	out := make(chan helpers.Result[string])
	go func() {
		defer close(out)
		var text []byte
		for r := range in {
			select {
			case out <- r:
			case <-ctx.Done():
				done(string(text), ctx.Err())
				return
			}
			v, err := r.Value()
			if err != nil {
				done(string(text), err)
				return
			}
			text = append(text, v...)
		}
		done(string(text), nil)
	}()
	return out
}
