package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/turns"
	"github.com/rs/zerolog/log"
)

// ReflectLoop produces an artifact and then alternates critique and refinement until the critic
// reports the stop phrase or the iteration cap is reached.
type ReflectLoop struct {
	base
}

func NewReflectLoop(opts ...Option) *ReflectLoop {
	return &ReflectLoop{base: newBase(opts...)}
}

// Run returns the latest artifact. Once an initial artifact exists, a failing generation ends the
// run with that artifact as the answer and StopGenerationFailed, without an error.
func (l *ReflectLoop) Run(ctx context.Context, task string) (*Result, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	sess := l.begin(ctx, VariantReflect, task)
	taskTurn := l.store.MustAppend(turns.KindUser, task)

	if sess.maxIterations == 0 {
		sess.abort(ctx, StopMaxIterations)
		return l.result(ctx, sess, VariantReflect, task), nil
	}

	sess.transition(ctx, StateThinking)
	initial, err := render("reflect-initial", l.prompts.ReflectInitial, map[string]interface{}{
		"Task": task,
	})
	if err != nil {
		sess.abort(ctx, StopGenerationFailed)
		return l.result(ctx, sess, VariantReflect, task), err
	}
	artifact, err := l.generate(ctx, sess, []engine.Message{engine.NewUserMessage(initial)})
	if err != nil {
		gerr := l.failGeneration(ctx, sess, "initial artifact", err)
		return l.result(ctx, sess, VariantReflect, task), gerr
	}
	l.store.MustAppend(turns.KindAssistant, artifact)

	stopPhrase := l.cfg.stopPhrase()
	for !sess.exhausted() {
		sess.iteration++

		sess.transition(ctx, StateActing)
		critiquePrompt, err := render("reflect-critique", l.prompts.ReflectCritique, map[string]interface{}{
			"Task":       task,
			"Artifact":   artifact,
			"StopPhrase": stopPhrase,
		})
		if err != nil {
			sess.finish(ctx, artifact, StopGenerationFailed)
			return l.result(ctx, sess, VariantReflect, task), err
		}
		critique, err := l.generate(ctx, sess, []engine.Message{engine.NewUserMessage(critiquePrompt)})
		if err != nil {
			return l.keepArtifact(ctx, sess, task, artifact, "critique", err), nil
		}
		history := l.refineHistory(taskTurn.Sequence)
		l.store.MustAppend(turns.KindReflection, critique)
		events.PublishEventToContext(ctx, events.NewCritiqueEvent(sess.meta, critique))

		if containsFold(critique, stopPhrase) {
			log.Debug().Str("run_id", sess.meta.RunID).Int("iteration", sess.iteration).
				Msg("agentloop: critic reported no further improvement")
			sess.finish(ctx, artifact, StopNoImprovement)
			return l.result(ctx, sess, VariantReflect, task), nil
		}

		sess.transition(ctx, StateObserving)
		refinePrompt, err := render("reflect-refine", l.prompts.ReflectRefine, map[string]interface{}{
			"Task":     task,
			"Artifact": artifact,
			"Critique": critique,
			"History":  history,
		})
		if err != nil {
			sess.finish(ctx, artifact, StopGenerationFailed)
			return l.result(ctx, sess, VariantReflect, task), err
		}
		refined, err := l.generate(ctx, sess, []engine.Message{engine.NewUserMessage(refinePrompt)})
		if err != nil {
			return l.keepArtifact(ctx, sess, task, artifact, "refine", err), nil
		}
		l.store.MustAppend(turns.KindAssistant, refined)
		artifact = refined
	}

	log.Debug().Str("run_id", sess.meta.RunID).Int("max_iterations", sess.maxIterations).
		Msg("agentloop: maximum reflection rounds reached")
	sess.finish(ctx, artifact, StopMaxIterations)
	return l.result(ctx, sess, VariantReflect, task), nil
}

// keepArtifact ends the run after a failed critique or refinement with the previous artifact.
func (l *ReflectLoop) keepArtifact(ctx context.Context, sess *session, task string, artifact string, phase string, err error) *Result {
	log.Warn().Err(err).Str("run_id", sess.meta.RunID).Str("phase", phase).Int("iteration", sess.iteration).
		Msg("agentloop: keeping previous artifact after generation failure")
	reason := StopGenerationFailed
	if ctx.Err() != nil {
		reason = StopCancelled
	}
	sess.finish(ctx, artifact, reason)
	return l.result(ctx, sess, VariantReflect, task)
}

// refineHistory renders earlier attempts and critiques, skipping the task turn.
func (l *ReflectLoop) refineHistory(taskSeq int) string {
	n := 0
	return l.store.RenderWith(func(t turns.Turn) string {
		if t.Sequence <= taskSeq {
			return ""
		}
		switch t.Kind {
		case turns.KindAssistant:
			n++
			return fmt.Sprintf("Attempt %d:\n%s", n, t.Text)
		case turns.KindReflection:
			return "Feedback:\n" + t.Text
		default:
			return ""
		}
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
