package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Tool is a named capability that the agent loop can invoke.
//
// Invoke receives the coerced argument mapping and returns the observation text. Failures are
// reported through the error return, preferably as a *ToolError; they never escape the Dispatcher.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args Arguments) (string, error)
}

// SchemaProvider is implemented by tools that describe their parameters with a JSON schema.
type SchemaProvider interface {
	Schema() *jsonschema.Schema
}

// PositionalTool is implemented by tools that name the parameter receiving a bare,
// non key=value argument string.
type PositionalTool interface {
	PositionalParameter() string
}

// DefaultPositionalParameter is used when a tool declares no positional convention.
const DefaultPositionalParameter = "input"

// Argument is a single named argument value.
type Argument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Arguments is an ordered mapping from parameter name to textual value.
type Arguments []Argument

// Get returns the value of the first argument with the given name.
func (a Arguments) Get(name string) (string, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return "", false
}

// Names returns the argument names in order.
func (a Arguments) Names() []string {
	out := make([]string, 0, len(a))
	for _, arg := range a {
		out = append(out, arg.Name)
	}
	return out
}

// Map returns the arguments as a plain map. Later duplicates win.
func (a Arguments) Map() map[string]string {
	out := make(map[string]string, len(a))
	for _, arg := range a {
		out[arg.Name] = arg.Value
	}
	return out
}

// Equal compares two argument lists ignoring order.
func (a Arguments) Equal(b Arguments) bool {
	am, bm := a.Map(), b.Map()
	if len(am) != len(bm) {
		return false
	}
	for k, v := range am {
		if bv, ok := bm[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func (a Arguments) String() string {
	parts := make([]string, 0, len(a))
	for _, arg := range a {
		parts = append(parts, fmt.Sprintf("%s=%q", arg.Name, arg.Value))
	}
	return strings.Join(parts, ", ")
}

// Call is a request to run a tool, as produced by the response parser.
type Call struct {
	Name      string
	Arguments Arguments
}
