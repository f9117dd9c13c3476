package ollama

import (
	"context"
	"testing"

	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays fixed chat responses and records the request.
type scriptedClient struct {
	responses []string
	err       error
	req       *api.ChatRequest
}

func (c *scriptedClient) Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	c.req = req
	for i, text := range c.responses {
		resp := api.ChatResponse{
			Model:   req.Model,
			Message: &api.Message{Role: "assistant", Content: text},
			Done:    i == len(c.responses)-1,
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
	return c.err
}

func newTestEngine(t *testing.T, c *scriptedClient) *Engine {
	t.Helper()
	s := settings.NewSettings()
	s.Chat.Model = "llama2"
	s.Chat.MaxResponseTokens = 256
	e, err := NewEngine(c, s.Chat, settings.OllamaSettings{NumCtx: 4096, Seed: 7})
	require.NoError(t, err)
	return e
}

func TestNewEngine_RequiresClientAndModel(t *testing.T) {
	s := settings.NewSettings()
	_, err := NewEngine(nil, s.Chat, s.Ollama)
	assert.Error(t, err)

	s.Chat.Model = ""
	_, err = NewEngine(&scriptedClient{}, s.Chat, s.Ollama)
	assert.Error(t, err)
}

func TestGenerate_ConcatenatesResponses(t *testing.T) {
	c := &scriptedClient{responses: []string{"Thought: done\n", "Final Answer: 42"}}
	e := newTestEngine(t, c)

	out, err := e.Generate(context.Background(), []engine.Message{
		engine.NewSystemMessage("be brief"),
		engine.NewUserMessage("6*7?"),
	}, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "Thought: done\nFinal Answer: 42", out)

	require.NotNil(t, c.req)
	assert.Equal(t, "llama2", c.req.Model)
	require.NotNil(t, c.req.Stream)
	assert.False(t, *c.req.Stream)
	require.Len(t, c.req.Messages, 2)
	assert.Equal(t, "system", c.req.Messages[0].Role)
	assert.Equal(t, "6*7?", c.req.Messages[1].Content)
	assert.Equal(t, 0.3, c.req.Options["temperature"])
	assert.Equal(t, 256, c.req.Options["num_predict"])
	assert.Equal(t, 4096, c.req.Options["num_ctx"])
	assert.Equal(t, 7, c.req.Options["seed"])
	assert.NotContains(t, c.req.Options, "top_k")
}

func TestGenerate_Errors(t *testing.T) {
	e := newTestEngine(t, &scriptedClient{err: errors.New("connection refused")})
	_, err := e.Generate(context.Background(), []engine.Message{engine.NewUserMessage("hi")}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	e = newTestEngine(t, &scriptedClient{})
	_, err = e.Generate(context.Background(), []engine.Message{engine.NewUserMessage("hi")}, 0)
	assert.ErrorIs(t, err, engine.ErrNoResponse)
}

func TestGenerateStream_EmitsDeltas(t *testing.T) {
	c := &scriptedClient{responses: []string{"Final ", "", "Answer: 42"}}
	e := newTestEngine(t, c)

	ch, err := e.GenerateStream(context.Background(), []engine.Message{engine.NewUserMessage("6*7?")}, 0)
	require.NoError(t, err)

	var fragments []string
	out, err := engine.Collect(context.Background(), ch, func(s string) { fragments = append(fragments, s) })
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: 42", out)
	assert.Equal(t, []string{"Final ", "Answer: 42"}, fragments)
	assert.True(t, *c.req.Stream)
}

func TestGenerateStream_Errors(t *testing.T) {
	e := newTestEngine(t, &scriptedClient{responses: []string{"partial"}, err: errors.New("eof")})
	ch, err := e.GenerateStream(context.Background(), []engine.Message{engine.NewUserMessage("hi")}, 0)
	require.NoError(t, err)
	_, err = engine.Collect(context.Background(), ch, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eof")

	e = newTestEngine(t, &scriptedClient{})
	ch, err = e.GenerateStream(context.Background(), []engine.Message{engine.NewUserMessage("hi")}, 0)
	require.NoError(t, err)
	_, err = engine.Collect(context.Background(), ch, nil)
	assert.ErrorIs(t, err, engine.ErrNoResponse)
}
