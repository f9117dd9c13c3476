package agentloop

import (
	"github.com/go-go-golems/marionette/pkg/parse"
)

// DefaultStopPhrase is the critique verdict that ends a reflect-refine run.
const DefaultStopPhrase = "no further improvement"

// LoopConfig configures the loop controller.
type LoopConfig struct {
	// MaxIterations caps reason-act cycles and critique rounds. 0 ends every run immediately
	// without calling the generation service.
	MaxIterations int
	Temperature   float64
	// Stream consumes completions incrementally and publishes partial events.
	Stream bool
	// StopPhrase is matched case-insensitively against critiques.
	StopPhrase   string
	PlanLanguage string
	// AllowEmptyPlan turns an empty plan into a no-answer result without error.
	AllowEmptyPlan bool
}

// DefaultLoopConfig creates a default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:  5,
		Temperature:    0,
		Stream:         false,
		StopPhrase:     DefaultStopPhrase,
		PlanLanguage:   parse.DefaultPlanLanguage,
		AllowEmptyPlan: false,
	}
}

// WithMaxIterations sets the maximum number of iterations.
func (c LoopConfig) WithMaxIterations(maxIterations int) LoopConfig {
	c.MaxIterations = maxIterations
	return c
}

func (c LoopConfig) WithTemperature(temperature float64) LoopConfig {
	c.Temperature = temperature
	return c
}

func (c LoopConfig) WithStream(stream bool) LoopConfig {
	c.Stream = stream
	return c
}

func (c LoopConfig) WithStopPhrase(phrase string) LoopConfig {
	c.StopPhrase = phrase
	return c
}

func (c LoopConfig) WithPlanLanguage(language string) LoopConfig {
	c.PlanLanguage = language
	return c
}

func (c LoopConfig) WithAllowEmptyPlan(allow bool) LoopConfig {
	c.AllowEmptyPlan = allow
	return c
}

func (c LoopConfig) maxIterations() int {
	if c.MaxIterations < 0 {
		return 0
	}
	return c.MaxIterations
}

func (c LoopConfig) stopPhrase() string {
	if c.StopPhrase == "" {
		return DefaultStopPhrase
	}
	return c.StopPhrase
}
