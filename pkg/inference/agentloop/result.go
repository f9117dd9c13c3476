package agentloop

import (
	"fmt"

	"github.com/go-go-golems/marionette/pkg/turns"
	"github.com/pkg/errors"
)

type Outcome string

const (
	OutcomeAnswer   Outcome = "answer"
	OutcomeNoAnswer Outcome = "no-answer"
)

type StopReason string

const (
	StopFinished         StopReason = "finished"
	StopMaxIterations    StopReason = "max-iterations"
	StopGenerationFailed StopReason = "generation-failed"
	StopPlanFormat       StopReason = "plan-format"
	StopEmptyPlan        StopReason = "empty-plan"
	StopNoImprovement    StopReason = "no-improvement"
	StopCancelled        StopReason = "cancelled"
)

type Variant string

const (
	VariantReAct   Variant = "react"
	VariantPlan    Variant = "plan"
	VariantReflect Variant = "reflect"
)

// Result is the outcome of one run. A run that ends without a final answer has
// Outcome == OutcomeNoAnswer; that is distinct from an answer that happens to be empty.
type Result struct {
	RunID      string
	Variant    Variant
	Task       string
	Outcome    Outcome
	Answer     string
	StopReason StopReason
	// Iterations counts completed cycles: reason-act cycles, executed plan steps or critique rounds.
	Iterations int
	Turns      []turns.Turn
	Plan       []string
	// Truncations counts responses that echoed more than one Thought/Action pair.
	Truncations int
}

func (r *Result) HasAnswer() bool {
	return r != nil && r.Outcome == OutcomeAnswer
}

func (r *Result) String() string {
	if r.HasAnswer() {
		return r.Answer
	}
	return fmt.Sprintf("no answer (%s after %d iterations)", r.StopReason, r.Iterations)
}

var (
	// ErrGeneration matches every *GenerationError.
	ErrGeneration = errors.New("generation failed")
	// ErrEmptyPlan is returned when the planner produced no steps.
	ErrEmptyPlan = errors.New("plan has no steps")
)

// GenerationError reports a generation service failure that ended a run.
type GenerationError struct {
	Phase     string
	Iteration int
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s (iteration %d): %v", e.Phase, e.Iteration, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}
