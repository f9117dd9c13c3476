package openai

import (
	"context"
	"io"
	"net/http"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// Engine talks to an OpenAI compatible chat completion endpoint.
type Engine struct {
	client    *go_openai.Client
	model     string
	maxTokens int
}

var _ engine.StreamingEngine = (*Engine)(nil)

type Option func(*go_openai.ClientConfig)

// WithHTTPClient replaces the HTTP client, e.g. for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *go_openai.ClientConfig) {
		cfg.HTTPClient = c
	}
}

// NewEngine creates an engine from explicit settings.
func NewEngine(api settings.APISettings, chat settings.ChatSettings, options ...Option) (*Engine, error) {
	if api.APIKey == "" {
		return nil, errors.New("no API key configured (api.api-key)")
	}
	if chat.Model == "" {
		return nil, errors.New("no model configured (chat.model)")
	}

	config := go_openai.DefaultConfig(api.APIKey)
	if api.BaseURL != "" {
		config.BaseURL = api.BaseURL
	}
	config.OrgID = api.Organization
	if api.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: api.Timeout}
	}
	for _, o := range options {
		o(&config)
	}

	return &Engine{
		client:    go_openai.NewClientWithConfig(config),
		model:     chat.Model,
		maxTokens: chat.MaxResponseTokens,
	}, nil
}

func (e *Engine) makeRequest(messages []engine.Message, temperature float64, stream bool) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Text,
		})
	}
	return go_openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    msgs,
		Temperature: float32(temperature),
		MaxTokens:   e.maxTokens,
		Stream:      stream,
	}
}

func (e *Engine) Generate(ctx context.Context, messages []engine.Message, temperature float64) (string, error) {
	req := e.makeRequest(messages, temperature, false)
	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("openai: chat completion")

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", engine.ErrNoResponse
	}

	log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("openai: chat completion done")
	return resp.Choices[0].Message.Content, nil
}

func (e *Engine) GenerateStream(ctx context.Context, messages []engine.Message, temperature float64) (<-chan helpers.Result[string], error) {
	req := e.makeRequest(messages, temperature, true)
	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("openai: streaming chat completion")

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "openai chat completion stream")
	}

	c := make(chan helpers.Result[string])
	go func() {
		defer close(c)
		defer stream.Close()

		send := func(r helpers.Result[string]) bool {
			select {
			case c <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		chunks := 0
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				log.Debug().Int("chunks_received", chunks).Msg("openai: stream completed")
				if chunks == 0 {
					send(helpers.NewErrorResult[string](engine.ErrNoResponse))
				}
				return
			}
			if err != nil {
				log.Error().Err(err).Int("chunks_received", chunks).Msg("openai: stream receive failed")
				send(helpers.NewErrorResult[string](errors.Wrap(err, "openai stream")))
				return
			}
			chunks++

			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !send(helpers.NewValueResult[string](delta)) {
				return
			}
		}
	}()

	return c, nil
}
