package agentloop

import (
	"context"
	"fmt"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/parse"
	"github.com/go-go-golems/marionette/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StepAgent executes a single plan step. *ReActLoop implements it, which turns plan-execute into
// a hybrid where every step may call tools.
type StepAgent interface {
	Run(ctx context.Context, task string) (*Result, error)
}

// WithStepAgent routes every plan step through agent instead of a single generation.
func WithStepAgent(agent StepAgent) Option {
	return func(b *base) { b.stepAgent = agent }
}

// noStepAnswer is recorded as the output of a step whose sub-loop ended without an answer.
const noStepAnswer = "No answer was found for this step."

// PlanExecuteLoop asks for a complete plan once and then executes its steps in order, feeding
// earlier step results forward. The answer is the output of the last step.
type PlanExecuteLoop struct {
	base
}

func NewPlanExecuteLoop(opts ...Option) *PlanExecuteLoop {
	return &PlanExecuteLoop{base: newBase(opts...)}
}

func (l *PlanExecuteLoop) Run(ctx context.Context, task string) (*Result, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	sess := l.begin(ctx, VariantPlan, task)
	l.store.MustAppend(turns.KindUser, task)

	if sess.maxIterations == 0 {
		sess.abort(ctx, StopMaxIterations)
		return l.result(ctx, sess, VariantPlan, task), nil
	}

	sess.transition(ctx, StateThinking)
	language := l.cfg.PlanLanguage
	if language == "" {
		language = parse.DefaultPlanLanguage
	}
	plannerPrompt, err := render("planner", l.prompts.Planner, map[string]interface{}{
		"Task":     task,
		"Language": language,
	})
	if err != nil {
		sess.abort(ctx, StopGenerationFailed)
		return l.result(ctx, sess, VariantPlan, task), err
	}

	planText, err := l.generate(ctx, sess, []engine.Message{engine.NewUserMessage(plannerPrompt)})
	if err != nil {
		gerr := l.failGeneration(ctx, sess, "planning", err)
		return l.result(ctx, sess, VariantPlan, task), gerr
	}
	planTurn := l.store.MustAppend(turns.KindAssistant, planText)

	plan, err := parse.ParsePlan(planText, language)
	if err != nil {
		log.Warn().Err(err).Str("run_id", sess.meta.RunID).Str("raw", planText).Msg("agentloop: could not parse plan")
		events.PublishEventToContext(ctx, events.NewErrorEvent(sess.meta, err))
		sess.abort(ctx, StopPlanFormat)
		return l.result(ctx, sess, VariantPlan, task), errors.Wrapf(err, "plan response %q", planText)
	}
	events.PublishEventToContext(ctx, events.NewPlanEvent(sess.meta, plan.Steps()))

	if plan.IsEmpty() {
		sess.abort(ctx, StopEmptyPlan)
		r := l.result(ctx, sess, VariantPlan, task)
		r.Plan = []string{}
		if l.cfg.AllowEmptyPlan {
			return r, nil
		}
		return r, ErrEmptyPlan
	}

	var last string
	for i, step := range plan.Steps() {
		sess.transition(ctx, StateActing)
		log.Debug().Str("run_id", sess.meta.RunID).Int("step", i+1).Int("steps", plan.Len()).Str("description", step).
			Msg("agentloop: executing plan step")

		stepPrompt, err := render("plan-step", l.prompts.PlanStep, map[string]interface{}{
			"Task":       task,
			"Plan":       plan.Steps(),
			"History":    l.stepHistory(planTurn.Sequence),
			"StepNumber": i + 1,
			"Step":       step,
		})
		if err != nil {
			sess.abort(ctx, StopGenerationFailed)
			r := l.result(ctx, sess, VariantPlan, task)
			r.Plan = plan.Steps()
			return r, err
		}

		l.store.MustAppend(turns.KindUser, step)
		output, err := l.executeStep(ctx, sess, stepPrompt)
		if err != nil {
			var gerr error = err
			if !errors.Is(err, ErrGeneration) {
				gerr = &GenerationError{Phase: fmt.Sprintf("step %d", i+1), Iteration: sess.iteration, Err: err}
			}
			reason := StopGenerationFailed
			if ctx.Err() != nil {
				reason = StopCancelled
			}
			sess.abort(ctx, reason)
			r := l.result(ctx, sess, VariantPlan, task)
			r.Plan = plan.Steps()
			return r, gerr
		}

		sess.transition(ctx, StateObserving)
		l.store.MustAppend(turns.KindAssistant, output)
		last = output
		sess.iteration++
	}

	sess.finish(ctx, last, StopFinished)
	r := l.result(ctx, sess, VariantPlan, task)
	r.Plan = plan.Steps()
	return r, nil
}

func (l *PlanExecuteLoop) executeStep(ctx context.Context, sess *session, prompt string) (string, error) {
	if l.stepAgent == nil {
		return l.generate(ctx, sess, []engine.Message{engine.NewUserMessage(prompt)})
	}

	sub, err := l.stepAgent.Run(ctx, prompt)
	if err != nil {
		return "", err
	}
	if !sub.HasAnswer() {
		log.Warn().Str("run_id", sess.meta.RunID).Str("stop_reason", string(sub.StopReason)).
			Msg("agentloop: step agent found no answer")
		return noStepAnswer, nil
	}
	return sub.Answer, nil
}

// stepHistory renders the steps executed so far, skipping the task and the plan itself.
func (l *PlanExecuteLoop) stepHistory(planSeq int) string {
	n := 0
	return l.store.RenderWith(func(t turns.Turn) string {
		if t.Sequence <= planSeq {
			return ""
		}
		switch t.Kind {
		case turns.KindUser:
			n++
			return fmt.Sprintf("Step %d: %s", n, t.Text)
		case turns.KindAssistant:
			return "Result: " + t.Text
		default:
			return ""
		}
	})
}
