package engine

import (
	"context"
	"strings"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the prompt sent to a generation service.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Text: text}
}

// ErrNoResponse is returned by engines when the service produced no completion at all.
// An empty completion is a valid answer and is not reported with it.
var ErrNoResponse = errors.New("generation service returned no response")

// Engine is a blocking generation service.
//
// A non-nil error always means failure; "" with a nil error is a valid, if unhelpful, answer.
type Engine interface {
	Generate(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// StreamingEngine produces the completion as a sequence of fragments. The concatenation of all
// fragments equals what Generate would have returned. The channel is closed when the stream
// ends; an error result terminates the stream.
type StreamingEngine interface {
	Engine
	GenerateStream(ctx context.Context, messages []Message, temperature float64) (<-chan helpers.Result[string], error)
}

// Stream returns a fragment channel for any engine. Engines without streaming support deliver
// their whole completion as a single fragment.
func Stream(ctx context.Context, e Engine, messages []Message, temperature float64) (<-chan helpers.Result[string], error) {
	if se, ok := e.(StreamingEngine); ok {
		return se.GenerateStream(ctx, messages, temperature)
	}

	c := make(chan helpers.Result[string], 1)
	go func() {
		defer close(c)
		text, err := e.Generate(ctx, messages, temperature)
		if err != nil {
			c <- helpers.NewErrorResult[string](err)
			return
		}
		c <- helpers.NewValueResult[string](text)
	}()
	return c, nil
}

// Collect drains a fragment channel and returns the concatenated text. onFragment, if set, is
// called for each non-empty fragment as it arrives. An in-band error or context cancellation
// fails the whole generation and the partial text is discarded.
func Collect(ctx context.Context, c <-chan helpers.Result[string], onFragment func(string)) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r, ok := <-c:
			if !ok {
				return sb.String(), nil
			}
			fragment, err := r.Value()
			if err != nil {
				return "", err
			}
			if fragment == "" {
				continue
			}
			sb.WriteString(fragment)
			if onFragment != nil {
				onFragment(fragment)
			}
		}
	}
}
