package fixtures

import (
	"context"
	"os"
	"sync"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrScriptExhausted is returned once every scripted response has been consumed.
var ErrScriptExhausted = errors.New("scripted engine: no responses left")

// Response is one scripted generation. Error, when set, makes the call fail.
type Response struct {
	Text  string `yaml:"text"`
	Error string `yaml:"error,omitempty"`
	// Fragments overrides how the text is split when streamed.
	Fragments []string `yaml:"fragments,omitempty"`
}

// Script is the YAML fixture format.
type Script struct {
	Version   int        `yaml:"version,omitempty"`
	Responses []Response `yaml:"responses"`
}

// Call records one request made to a scripted engine.
type Call struct {
	Messages    []engine.Message
	Temperature float64
}

// ScriptedEngine returns canned responses in order and records every request. It is safe for
// concurrent use.
type ScriptedEngine struct {
	mu        sync.Mutex
	responses []Response
	calls     []Call
	chunkSize int
}

var _ engine.Engine = (*ScriptedEngine)(nil)

// NewScriptedEngine creates an engine answering with texts, one per call.
func NewScriptedEngine(texts ...string) *ScriptedEngine {
	s := &ScriptedEngine{}
	for _, t := range texts {
		s.responses = append(s.responses, Response{Text: t})
	}
	return s
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (*ScriptedEngine, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read script %s", path)
	}
	var script Script
	if err := yaml.Unmarshal(b, &script); err != nil {
		return nil, errors.Wrapf(err, "decode script %s", path)
	}
	return &ScriptedEngine{responses: script.Responses}, nil
}

// Respond appends a successful response.
func (s *ScriptedEngine) Respond(text string) *ScriptedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, Response{Text: text})
	return s
}

// Fail appends a failing response.
func (s *ScriptedEngine) Fail(message string) *ScriptedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, Response{Error: message})
	return s
}

func (s *ScriptedEngine) next(messages []engine.Message, temperature float64) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{
		Messages:    append([]engine.Message(nil), messages...),
		Temperature: temperature,
	})
	if len(s.responses) == 0 {
		return Response{}, ErrScriptExhausted
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	if r.Error != "" {
		return Response{}, errors.New(r.Error)
	}
	return r, nil
}

func (s *ScriptedEngine) Generate(ctx context.Context, messages []engine.Message, temperature float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, err := s.next(messages, temperature)
	if err != nil {
		return "", err
	}
	log.Trace().Int("call", s.CallCount()).Str("text", r.Text).Msg("scripted engine: response")
	return r.Text, nil
}

// Calls returns a copy of the recorded requests.
func (s *ScriptedEngine) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *ScriptedEngine) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// LastPrompt returns the text of the last message of the most recent call.
func (s *ScriptedEngine) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	msgs := s.calls[len(s.calls)-1].Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

// Remaining is the number of unconsumed responses.
func (s *ScriptedEngine) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

// Streaming wraps the engine so that responses are delivered in fragments of chunkSize bytes
// (or their scripted Fragments).
func (s *ScriptedEngine) Streaming(chunkSize int) *StreamingScriptedEngine {
	if chunkSize <= 0 {
		chunkSize = 8
	}
	return &StreamingScriptedEngine{ScriptedEngine: s, chunkSize: chunkSize}
}

type StreamingScriptedEngine struct {
	*ScriptedEngine
	chunkSize int
}

var _ engine.StreamingEngine = (*StreamingScriptedEngine)(nil)

func (s *StreamingScriptedEngine) GenerateStream(ctx context.Context, messages []engine.Message, temperature float64) (<-chan helpers.Result[string], error) {
	r, err := s.next(messages, temperature)
	if err != nil {
		return nil, err
	}

	fragments := r.Fragments
	if len(fragments) == 0 {
		fragments = chunk(r.Text, s.chunkSize)
	}

	c := make(chan helpers.Result[string])
	go func() {
		defer close(c)
		for _, f := range fragments {
			select {
			case <-ctx.Done():
				select {
				case c <- helpers.NewErrorResult[string](ctx.Err()):
				default:
				}
				return
			case c <- helpers.NewValueResult[string](f):
			}
		}
	}()
	return c, nil
}

func chunk(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
