package mcp

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ToolCaller is the part of Client used by RemoteTool.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, bool, error)
}

// RemoteTool proxies a tool exposed by a remote server. To the loop it is indistinguishable from
// a local tool.
type RemoteTool struct {
	caller      ToolCaller
	name        string
	description string
	schema      *jsonschema.Schema
}

var _ tools.Tool = (*RemoteTool)(nil)
var _ tools.SchemaProvider = (*RemoteTool)(nil)

func NewRemoteTool(caller ToolCaller, def ToolDefinition) *RemoteTool {
	return &RemoteTool{
		caller:      caller,
		name:        def.Name,
		description: def.Description,
		schema:      decodeSchema(def),
	}
}

// decodeSchema returns nil for missing or unsupported schemas, which disables argument
// validation and coercion for the tool.
func decodeSchema(def ToolDefinition) *jsonschema.Schema {
	if len(def.InputSchema) == 0 {
		return nil
	}
	s := &jsonschema.Schema{}
	if err := json.Unmarshal(def.InputSchema, s); err != nil {
		log.Warn().Err(err).Str("tool", def.Name).Msg("mcp: ignoring unsupported input schema")
		return nil
	}
	return s
}

func (t *RemoteTool) Name() string               { return t.name }
func (t *RemoteTool) Description() string        { return t.description }
func (t *RemoteTool) Schema() *jsonschema.Schema { return t.schema }

func (t *RemoteTool) Invoke(ctx context.Context, args tools.Arguments) (string, error) {
	text, isError, err := t.caller.CallTool(ctx, t.name, tools.CoerceArguments(t.schema, args))
	if err != nil {
		return "", tools.NewToolError(t.name, tools.ToolErrorExecution, "%s", err.Error())
	}
	if isError {
		return "", tools.NewToolError(t.name, tools.ToolErrorExecution, "%s", text)
	}
	return text, nil
}

// Discover lists the tools of client and wraps each one in a RemoteTool.
func Discover(ctx context.Context, client *Client) ([]*RemoteTool, error) {
	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "discover tools of %s", client.Name())
	}
	out := make([]*RemoteTool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			log.Warn().Str("mcp_server", client.Name()).Msg("mcp: skipping tool without a name")
			continue
		}
		out = append(out, NewRemoteTool(client, def))
	}
	return out, nil
}

// RegisterAll adds every remote tool to reg and returns how many were registered.
func RegisterAll(reg *tools.Registry, remote []*RemoteTool) int {
	for _, t := range remote {
		reg.Register(t)
	}
	return len(remote)
}
