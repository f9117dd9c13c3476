package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPlanLanguage is the fence tag looked for first when extracting a plan.
const DefaultPlanLanguage = "python"

// ErrPlanFormat matches every *PlanFormatError.
var ErrPlanFormat = errors.New("plan format error")

// PlanFormatError reports a plan response that could not be read as a list of strings.
type PlanFormatError struct {
	// Raw is the complete response, kept for diagnosis.
	Raw string
	// Extracted is the text that was decoded after fence extraction.
	Extracted string
	Reason    string
}

func (e *PlanFormatError) Error() string {
	return fmt.Sprintf("plan format error: %s", e.Reason)
}

func (e *PlanFormatError) Is(target error) bool {
	return target == ErrPlanFormat
}

// Plan is an immutable ordered list of step descriptions.
type Plan struct {
	steps []string
}

func NewPlan(steps ...string) Plan {
	out := make([]string, len(steps))
	copy(out, steps)
	return Plan{steps: out}
}

// Steps returns a copy of the steps.
func (p Plan) Steps() []string {
	out := make([]string, len(p.steps))
	copy(out, p.steps)
	return out
}

func (p Plan) Len() int {
	return len(p.steps)
}

func (p Plan) Step(i int) string {
	return p.steps[i]
}

func (p Plan) IsEmpty() bool {
	return len(p.steps) == 0
}

// String renders the plan as a JSON list literal, which ParsePlan reads back unchanged.
func (p Plan) String() string {
	steps := p.steps
	if steps == nil {
		steps = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(steps); err != nil {
		return "[]"
	}
	return strings.TrimRight(buf.String(), "\n")
}

// ExtractPlanText picks the text a plan is decoded from: the first fenced block tagged with
// language, else the first fenced block of any language, else the whole trimmed body.
func ExtractPlanText(text string, language string) string {
	if language == "" {
		language = DefaultPlanLanguage
	}
	blocks := ExtractCodeBlocks(text)
	for _, b := range blocks {
		if strings.EqualFold(b.Language, language) {
			return strings.TrimSpace(b.Code)
		}
	}
	if len(blocks) > 0 {
		return strings.TrimSpace(blocks[0].Code)
	}
	return strings.TrimSpace(text)
}

// ParsePlan reads a list literal of quoted strings, in JSON or Python syntax, out of a model
// response. On failure it returns an empty plan and a *PlanFormatError.
func ParsePlan(text string, language string) (Plan, error) {
	extracted := ExtractPlanText(text, language)
	fail := func(reason string) (Plan, error) {
		return Plan{}, &PlanFormatError{Raw: text, Extracted: extracted, Reason: reason}
	}

	if extracted == "" {
		return fail("empty response")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(pythonStringsToDoubleQuoted(extracted)), &doc); err != nil {
		return fail(fmt.Sprintf("not a list literal: %v", err))
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return fail("not a list literal")
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return fail("value is not a list")
	}

	steps := make([]string, 0, len(root.Content))
	for i, item := range root.Content {
		if item.Kind != yaml.ScalarNode {
			return fail(fmt.Sprintf("step %d is not a string", i+1))
		}
		if item.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) == 0 {
			return fail(fmt.Sprintf("step %d is not a quoted string: %s", i+1, item.Value))
		}
		steps = append(steps, item.Value)
	}

	return Plan{steps: steps}, nil
}

// pythonStringsToDoubleQuoted rewrites Python string literals as YAML double-quoted scalars so
// that escapes decode the way Python reads them. In a single-quoted literal \' becomes ' and a
// bare " is escaped; in either kind \' is accepted. Other escapes such as \n, \t and \\ are
// kept for the YAML decoder. Text outside literals is copied unchanged.
func pythonStringsToDoubleQuoted(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\'' && c != '"' {
			out.WriteByte(c)
			continue
		}

		quote := c
		out.WriteByte('"')
		i++
		for ; i < len(s); i++ {
			c = s[i]
			if c == quote {
				break
			}
			switch {
			case c == '\\' && i+1 < len(s):
				i++
				if s[i] == '\'' {
					out.WriteByte('\'')
				} else {
					out.WriteByte('\\')
					out.WriteByte(s[i])
				}
			case c == '"':
				out.WriteString(`\"`)
			default:
				out.WriteByte(c)
			}
		}
		// an unterminated literal stays unterminated so the decoder reports it
		if i < len(s) {
			out.WriteByte('"')
		}
	}
	return out.String()
}
