package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FuncTool adapts a typed Go function into a Tool. The input struct is described by a JSON
// schema reflected from its type, and incoming textual arguments are coerced to that schema
// before being decoded into In.
type FuncTool[In any] struct {
	name        string
	description string
	positional  string
	schema      *jsonschema.Schema
	fn          func(ctx context.Context, in In) (string, error)
}

type FuncToolOption func(*funcToolOptions)

type funcToolOptions struct {
	positional string
}

// WithPositionalParameter names the parameter that receives a bare argument string.
func WithPositionalParameter(name string) FuncToolOption {
	return func(o *funcToolOptions) { o.positional = name }
}

// NewFuncTool creates a tool from fn. In must be a struct type.
func NewFuncTool[In any](name, description string, fn func(ctx context.Context, in In) (string, error), opts ...FuncToolOption) (*FuncTool[In], error) {
	if name == "" {
		return nil, errors.New("tool name cannot be empty")
	}
	if fn == nil {
		return nil, errors.Errorf("tool %s has no function", name)
	}
	o := &funcToolOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var zero In
	reflector := jsonschema.Reflector{
		// expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(zero)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	if schema.Type != "object" {
		return nil, errors.Errorf("tool %s: input must be a struct, got schema type %q", name, schema.Type)
	}

	return &FuncTool[In]{
		name:        name,
		description: description,
		positional:  o.positional,
		schema:      schema,
		fn:          fn,
	}, nil
}

// MustFuncTool is NewFuncTool for tools defined at init time.
func MustFuncTool[In any](name, description string, fn func(ctx context.Context, in In) (string, error), opts ...FuncToolOption) *FuncTool[In] {
	t, err := NewFuncTool[In](name, description, fn, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *FuncTool[In]) Name() string               { return f.name }
func (f *FuncTool[In]) Description() string        { return f.description }
func (f *FuncTool[In]) Schema() *jsonschema.Schema { return f.schema }

func (f *FuncTool[In]) PositionalParameter() string {
	return f.positional
}

func (f *FuncTool[In]) Invoke(ctx context.Context, args Arguments) (string, error) {
	values := CoerceArguments(f.schema, args)
	b, err := json.Marshal(values)
	if err != nil {
		return "", NewToolError(f.name, ToolErrorValidation, "could not encode arguments: %v", err)
	}

	var in In
	if err := json.Unmarshal(b, &in); err != nil {
		log.Debug().Err(err).Str("tool", f.name).Str("args", string(b)).Msg("tools: failed to decode arguments")
		return "", NewToolError(f.name, ToolErrorValidation, "invalid arguments: %v", err)
	}
	return f.fn(ctx, in)
}

var _ Tool = (*FuncTool[struct{}])(nil)
var _ SchemaProvider = (*FuncTool[struct{}])(nil)
var _ PositionalTool = (*FuncTool[struct{}])(nil)
