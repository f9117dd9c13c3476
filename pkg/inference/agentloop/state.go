package agentloop

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateInit       State = "init"
	StateThinking   State = "thinking"
	StateActing     State = "acting"
	StateObserving  State = "observing"
	StateTerminated State = "terminated"
)

// session is the per-run state. It is created by Run and discarded when Run returns.
type session struct {
	meta          events.EventMetadata
	state         State
	iteration     int
	maxIterations int
	terminal      bool
	answer        string
	stopReason    StopReason
	truncations   int
}

func newSession(runID string, variant Variant, maxIterations int) *session {
	return &session{
		meta:          events.EventMetadata{RunID: runID, Variant: string(variant)},
		state:         StateInit,
		maxIterations: maxIterations,
	}
}

func (s *session) transition(ctx context.Context, to State) {
	log.Debug().
		Str("run_id", s.meta.RunID).
		Str("variant", s.meta.Variant).
		Int("iteration", s.iteration).
		Str("from", string(s.state)).
		Str("to", string(to)).
		Msg("agentloop: state transition")
	s.state = to
	s.meta.Iteration = s.iteration
	events.PublishEventToContext(ctx, events.NewStateEvent(s.meta, string(to)))
}

func (s *session) exhausted() bool {
	return s.iteration >= s.maxIterations
}

// finish records a terminal answer.
func (s *session) finish(ctx context.Context, answer string, reason StopReason) {
	s.terminal = true
	s.answer = answer
	s.stopReason = reason
	s.transition(ctx, StateTerminated)
}

// abort ends the run without a final answer.
func (s *session) abort(ctx context.Context, reason StopReason) {
	s.terminal = false
	s.stopReason = reason
	s.transition(ctx, StateTerminated)
}
