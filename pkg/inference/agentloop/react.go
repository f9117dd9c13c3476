package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/parse"
	"github.com/go-go-golems/marionette/pkg/turns"
	"github.com/rs/zerolog/log"
)

// ReActLoop runs the reason-act cycle: one Thought/Action per generation, tool results fed
// back as observations, until a finish action or the iteration cap.
type ReActLoop struct {
	base
}

func NewReActLoop(opts ...Option) *ReActLoop {
	return &ReActLoop{base: newBase(opts...)}
}

// diagnostic is the observation appended when a response carries no usable action.
func diagnostic(reason string) string {
	return fmt.Sprintf(
		"Invalid response (%s). Reply with one \"Thought: ...\" line followed by one \"Action: ...\" line, "+
			"using tool_name[argument] or finish(answer=\"...\").",
		reason,
	)
}

func (l *ReActLoop) prompt() ([]engine.Message, error) {
	system, err := render("react-system", l.prompts.ReActSystem, map[string]interface{}{
		"Tools": l.registry.DescribeAll(),
	})
	if err != nil {
		return nil, err
	}
	user, err := render("react-user", l.prompts.ReActUser, map[string]interface{}{
		"History": l.store.Render(),
	})
	if err != nil {
		return nil, err
	}
	return []engine.Message{
		engine.NewSystemMessage(system),
		engine.NewUserMessage(user),
	}, nil
}

// Run solves task. A nil error with Outcome == OutcomeNoAnswer means the iteration cap was hit;
// generation failures return the no-answer result together with a *GenerationError.
func (l *ReActLoop) Run(ctx context.Context, task string) (*Result, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	sess := l.begin(ctx, VariantReAct, task)
	l.store.MustAppend(turns.KindUser, task)

	if sess.maxIterations == 0 {
		sess.abort(ctx, StopMaxIterations)
		return l.result(ctx, sess, VariantReAct, task), nil
	}

	for {
		sess.transition(ctx, StateThinking)

		messages, err := l.prompt()
		if err != nil {
			sess.abort(ctx, StopGenerationFailed)
			return l.result(ctx, sess, VariantReAct, task), err
		}
		text, err := l.generate(ctx, sess, messages)
		if err != nil {
			gerr := l.failGeneration(ctx, sess, "reason-act", err)
			return l.result(ctx, sess, VariantReAct, task), gerr
		}

		d := parse.ParseReAct(text, l.registry)
		if d.Truncated {
			sess.truncations++
			log.Warn().Str("run_id", sess.meta.RunID).Int("iteration", sess.iteration).
				Msg("agentloop: response contained more than one Thought/Action pair, truncated to the first")
		}
		events.PublishEventToContext(ctx, events.NewDecisionEvent(sess.meta, d.Thought, d.Action.ToolName))

		switch d.Kind {
		case parse.DecisionFinal:
			l.store.MustAppend(turns.KindAssistant, d.Raw)
			sess.finish(ctx, d.Action.FinalAnswer, StopFinished)
			return l.result(ctx, sess, VariantReAct, task), nil

		case parse.DecisionNone:
			log.Debug().Str("run_id", sess.meta.RunID).Int("iteration", sess.iteration).Str("reason", d.Reason).
				Msg("agentloop: no decision in response")
			if raw := strings.TrimSpace(text); raw != "" {
				l.store.MustAppend(turns.KindAssistant, raw)
			}
			l.store.MustAppend(turns.KindToolResult, diagnostic(d.Reason))

		case parse.DecisionAction:
			sess.transition(ctx, StateActing)
			l.store.MustAppend(turns.KindAssistant, d.Raw)
			obs := l.dispatcher.Execute(events.WithEventMetadata(ctx, sess.meta), d.Action.Call())

			sess.transition(ctx, StateObserving)
			l.store.MustAppend(turns.KindToolResult, obs.Text)
		}

		sess.iteration++
		if sess.exhausted() {
			log.Warn().Str("run_id", sess.meta.RunID).Int("max_iterations", sess.maxIterations).
				Msg("agentloop: maximum iterations reached")
			sess.abort(ctx, StopMaxIterations)
			return l.result(ctx, sess, VariantReAct, task), nil
		}
		if ctx.Err() != nil {
			sess.abort(ctx, StopCancelled)
			return l.result(ctx, sess, VariantReAct, task), ctx.Err()
		}
	}
}
