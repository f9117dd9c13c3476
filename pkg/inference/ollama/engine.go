// Package ollama implements the generation service on top of a local Ollama server.
package ollama

import (
	"context"
	"strings"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ChatClient is the part of *api.Client the engine uses.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

var _ ChatClient = (*api.Client)(nil)

// Engine sends chat requests to Ollama's /api/chat endpoint.
type Engine struct {
	client    ChatClient
	model     string
	maxTokens int
	options   settings.OllamaSettings
}

var _ engine.StreamingEngine = (*Engine)(nil)

func NewEngine(client ChatClient, chat settings.ChatSettings, options settings.OllamaSettings) (*Engine, error) {
	if client == nil {
		return nil, errors.New("no ollama client")
	}
	if chat.Model == "" {
		return nil, errors.New("no model configured (chat.model)")
	}
	return &Engine{
		client:    client,
		model:     chat.Model,
		maxTokens: chat.MaxResponseTokens,
		options:   options,
	}, nil
}

// requestOptions maps settings onto Ollama's model options; unset values are left to the model.
func (e *Engine) requestOptions(temperature float64) map[string]interface{} {
	opts := map[string]interface{}{
		"temperature": temperature,
	}
	if e.maxTokens > 0 {
		opts["num_predict"] = e.maxTokens
	}
	o := e.options
	if o.NumCtx > 0 {
		opts["num_ctx"] = o.NumCtx
	}
	if o.TopK > 0 {
		opts["top_k"] = o.TopK
	}
	if o.TopP > 0 {
		opts["top_p"] = o.TopP
	}
	if o.RepeatPenalty > 0 {
		opts["repeat_penalty"] = o.RepeatPenalty
	}
	if o.Seed != 0 {
		opts["seed"] = o.Seed
	}
	return opts
}

func (e *Engine) makeRequest(messages []engine.Message, temperature float64, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{
			Role:    string(m.Role),
			Content: m.Text,
		})
	}
	return &api.ChatRequest{
		Model:    e.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  e.requestOptions(temperature),
	}
}

func responseContent(resp api.ChatResponse) string {
	if resp.Message == nil {
		return ""
	}
	return resp.Message.Content
}

func (e *Engine) Generate(ctx context.Context, messages []engine.Message, temperature float64) (string, error) {
	req := e.makeRequest(messages, temperature, false)
	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("ollama: chat")

	var sb strings.Builder
	responses := 0
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responses++
		sb.WriteString(responseContent(resp))
		if resp.Done {
			log.Debug().Int("responses", responses).Msg("ollama: chat done")
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat")
	}
	if responses == 0 {
		return "", engine.ErrNoResponse
	}
	return sb.String(), nil
}

func (e *Engine) GenerateStream(ctx context.Context, messages []engine.Message, temperature float64) (<-chan helpers.Result[string], error) {
	req := e.makeRequest(messages, temperature, true)
	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("ollama: streaming chat")

	c := make(chan helpers.Result[string])
	go func() {
		defer close(c)

		send := func(r helpers.Result[string]) bool {
			select {
			case c <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		chunks := 0
		err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			chunks++
			delta := responseContent(resp)
			if delta == "" {
				return nil
			}
			if !send(helpers.NewValueResult[string](delta)) {
				return ctx.Err()
			}
			return nil
		})
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			log.Error().Err(err).Int("chunks_received", chunks).Msg("ollama: stream failed")
			send(helpers.NewErrorResult[string](errors.Wrap(err, "ollama stream")))
		case chunks == 0:
			send(helpers.NewErrorResult[string](engine.ErrNoResponse))
		default:
			log.Debug().Int("chunks_received", chunks).Msg("ollama: stream completed")
		}
	}()

	return c, nil
}
