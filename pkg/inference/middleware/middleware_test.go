package middleware

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/inference/fixtures"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestMiddlewareChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req Request) (<-chan helpers.Result[string], error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	e := NewEngineWithMiddleware(fixtures.NewScriptedEngine("ok"), mark("first"), mark("second"))
	text, err := e.Generate(context.Background(), []engine.Message{engine.NewUserMessage("hi")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEngineWithMiddleware_StreamsThroughChain(t *testing.T) {
	scripted := fixtures.NewScriptedEngine("Thought: a\nAction: finish")
	e := NewEngineWithMiddleware(scripted.Streaming(4))

	ctx := context.Background()
	c, err := e.GenerateStream(ctx, nil, 0)
	require.NoError(t, err)
	var fragments int
	text, err := engine.Collect(ctx, c, func(string) { fragments++ })
	require.NoError(t, err)
	assert.Equal(t, "Thought: a\nAction: finish", text)
	assert.Greater(t, fragments, 1)
}

func TestEngineWithMiddleware_PropagatesFailure(t *testing.T) {
	scripted := fixtures.NewScriptedEngine().Fail("service unavailable")
	e := NewEngineWithMiddleware(scripted, NewLoggingMiddleware(zerolog.Nop(), func(string) int { return 1 }))

	_, err := e.Generate(context.Background(), []engine.Message{engine.NewUserMessage("hi")}, 0)
	assert.EqualError(t, err, "service unavailable")
}

func TestSystemPromptMiddleware(t *testing.T) {
	scripted := fixtures.NewScriptedEngine("a", "b")
	e := NewEngineWithMiddleware(scripted, NewSystemPromptMiddleware("Answer briefly."))

	in := []engine.Message{engine.NewUserMessage("hi")}
	_, err := e.Generate(context.Background(), in, 0)
	require.NoError(t, err)
	_, err = e.Generate(context.Background(), []engine.Message{engine.NewSystemMessage("You are helpful."), engine.NewUserMessage("hi")}, 0)
	require.NoError(t, err)

	calls := scripted.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []engine.Message{engine.NewSystemMessage("Answer briefly."), engine.NewUserMessage("hi")}, calls[0].Messages)
	assert.Equal(t, "You are helpful.\n\nAnswer briefly.", calls[1].Messages[0].Text)
	assert.Len(t, in, 1, "caller messages must not be modified")
}

func TestLoggingMiddleware_LogsTokenCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	words := func(s string) int { return len(strings.Fields(s)) }

	e := NewEngineWithMiddleware(fixtures.NewScriptedEngine("three word answer"), NewLoggingMiddleware(logger, words))
	_, err := e.Generate(context.Background(), []engine.Message{engine.NewUserMessage("how are you")}, 0)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"prompt_tokens":3`)
	assert.Contains(t, out, `"completion_tokens":3`)
	assert.Contains(t, out, "generation: completed")
}

func TestRateLimitMiddleware(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 1))

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	e := NewEngineWithMiddleware(fixtures.NewScriptedEngine("a", "b"), NewRateLimitMiddleware(limiter))

	_, err := e.Generate(context.Background(), nil, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = e.Generate(ctx, nil, 0)
	assert.Error(t, err)
}
