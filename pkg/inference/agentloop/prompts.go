package agentloop

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

// Prompts holds the text/template sources used by the loops. Templates have the sprig function
// map available. Every template must be a deterministic function of its data.
type Prompts struct {
	// ReActSystem receives .Tools.
	ReActSystem string
	// ReActUser receives .History, the rendered transcript including the task.
	ReActUser string
	// Planner receives .Task and .Language.
	Planner string
	// PlanStep receives .Task, .Plan, .History, .StepNumber and .Step.
	PlanStep string
	// ReflectInitial receives .Task.
	ReflectInitial string
	// ReflectCritique receives .Task, .Artifact and .StopPhrase.
	ReflectCritique string
	// ReflectRefine receives .Task, .Artifact, .Critique and .History.
	ReflectRefine string
}

const reactSystemTemplate = `You are an assistant that solves tasks step by step and may call external tools.

Available tools:
{{ .Tools | trim }}

Answer in exactly this format:
Thought: your reasoning about what to do next.
Action: one of
- tool_name[argument] or tool_name(key="value", other="value") to call a tool
- finish(answer="your final answer") once you can answer the question

Output exactly one Thought and one Action per reply. Never write the Observation yourself;
it is provided after the tool runs.`

const reactUserTemplate = `{{ .History }}`

const plannerTemplate = `You are a planner. Break the following question into a short ordered list of concrete steps.

Question: {{ .Task | trim }}

Reply only with a {{ .Language }} list of strings inside a fenced code block, for example:
` + "```{{ .Language }}" + `
["Step 1", "Step 2", "Step 3"]
` + "```"

const planStepTemplate = `You are executing a plan step by step.

Original question: {{ .Task | trim }}

Full plan:
{{- range $i, $s := .Plan }}
{{ add1 $i }}. {{ $s }}
{{- end }}

{{ if .History -}}
Completed steps and results:
{{ .History }}

{{ end -}}
Current step {{ .StepNumber }}: {{ .Step }}

Reply only with the result of the current step.`

const reflectInitialTemplate = `Complete the following task.

Task: {{ .Task | trim }}

Reply only with your solution.`

const reflectCritiqueTemplate = `You are a strict reviewer. Review the solution below for the given task.

Task: {{ .Task | trim }}

Solution:
{{ .Artifact }}

Point out concrete problems and how to fix them. If the solution cannot be improved further,
reply with exactly: {{ .StopPhrase | quote }}`

const reflectRefineTemplate = `Improve your solution to the task using the review feedback.

Task: {{ .Task | trim }}

{{ if .History -}}
Previous attempts and feedback:
{{ .History }}

{{ end -}}
Latest solution:
{{ .Artifact }}

Feedback:
{{ .Critique }}

Reply only with the improved solution.`

// DefaultPrompts returns the built-in prompt templates.
func DefaultPrompts() Prompts {
	return Prompts{
		ReActSystem:     reactSystemTemplate,
		ReActUser:       reactUserTemplate,
		Planner:         plannerTemplate,
		PlanStep:        planStepTemplate,
		ReflectInitial:  reflectInitialTemplate,
		ReflectCritique: reflectCritiqueTemplate,
		ReflectRefine:   reflectRefineTemplate,
	}
}

// withDefaults fills empty templates from the defaults.
func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&p.ReActSystem, d.ReActSystem)
	fill(&p.ReActUser, d.ReActUser)
	fill(&p.Planner, d.Planner)
	fill(&p.PlanStep, d.PlanStep)
	fill(&p.ReflectInitial, d.ReflectInitial)
	fill(&p.ReflectCritique, d.ReflectCritique)
	fill(&p.ReflectRefine, d.ReflectRefine)
	return p
}

// Validate parses every template.
func (p Prompts) Validate() error {
	p = p.withDefaults()
	for name, src := range map[string]string{
		"react-system":     p.ReActSystem,
		"react-user":       p.ReActUser,
		"planner":          p.Planner,
		"plan-step":        p.PlanStep,
		"reflect-initial":  p.ReflectInitial,
		"reflect-critique": p.ReflectCritique,
		"reflect-refine":   p.ReflectRefine,
	} {
		if _, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(src); err != nil {
			return errors.Wrapf(err, "parse prompt template %s", name)
		}
	}
	return nil
}

func render(name string, src string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", errors.Wrapf(err, "parse prompt template %s", name)
	}
	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, data); err != nil {
		return "", errors.Wrapf(err, "render prompt template %s", name)
	}
	return buf.String(), nil
}
