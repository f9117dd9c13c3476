package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherIn struct {
	City string `json:"city" jsonschema:"description=City to look up"`
}

type addIn struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newWeatherTool(t *testing.T) *FuncTool[weatherIn] {
	t.Helper()
	tool, err := NewFuncTool("get_weather", "Current weather for a city", func(ctx context.Context, in weatherIn) (string, error) {
		return in.City + ": 22C", nil
	})
	require.NoError(t, err)
	return tool
}

func TestRegistry_DescribeAllKeepsRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, NoToolsAvailable, reg.DescribeAll())

	reg.RegisterFunc("search", "Search the web", func(ctx context.Context, args Arguments) (string, error) { return "", nil })
	reg.RegisterFunc("calc", "Evaluate arithmetic", func(ctx context.Context, args Arguments) (string, error) { return "", nil })

	assert.Equal(t, "search: Search the web\ncalc: Evaluate arithmetic", reg.DescribeAll())
	assert.Equal(t, []string{"search", "calc"}, reg.Names())
}

func TestRegistry_OverwriteKeepsSlot(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.RegisterFunc("a", "first", nil))
	assert.False(t, reg.RegisterFunc("b", "second", nil))
	assert.True(t, reg.RegisterFunc("a", "replaced", nil))

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, "a: replaced\nb: second", reg.DescribeAll())
}

func TestRegistry_LookupMissing(t *testing.T) {
	reg := NewRegistry()
	tool, ok := reg.Lookup("nope")
	assert.False(t, ok)
	assert.Nil(t, tool)

	var zero Registry
	_, ok = zero.Lookup("nope")
	assert.False(t, ok)
}

func TestRegistry_PositionalParameter(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	reg.Register(MustFuncTool("add", "Add numbers", func(ctx context.Context, in addIn) (string, error) {
		return fmt.Sprint(in.A + in.B), nil
	}))
	reg.Register(MustFuncTool("add2", "Add numbers", func(ctx context.Context, in addIn) (string, error) {
		return fmt.Sprint(in.A + in.B), nil
	}, WithPositionalParameter("a")))
	reg.RegisterFunc("plain", "plain", nil)

	assert.Equal(t, "city", reg.PositionalParameter("get_weather"))
	assert.Equal(t, DefaultPositionalParameter, reg.PositionalParameter("add"))
	assert.Equal(t, "a", reg.PositionalParameter("add2"))
	assert.Equal(t, DefaultPositionalParameter, reg.PositionalParameter("plain"))
	assert.Equal(t, DefaultPositionalParameter, reg.PositionalParameter("missing"))
}

func TestFuncTool_CoercesArgumentsToSchemaTypes(t *testing.T) {
	tool := MustFuncTool("add", "Add numbers", func(ctx context.Context, in addIn) (string, error) {
		return fmt.Sprint(in.A + in.B), nil
	})
	out, err := tool.Invoke(context.Background(), Arguments{{Name: "a", Value: "40"}, {Name: "b", Value: " 2 "}})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, err = tool.Invoke(context.Background(), Arguments{{Name: "a", Value: "forty"}})
	require.Error(t, err)
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ToolErrorValidation, te.Type)
}

func TestNewFuncTool_RejectsNonStructInput(t *testing.T) {
	_, err := NewFuncTool("bad", "bad", func(ctx context.Context, in string) (string, error) { return in, nil })
	assert.Error(t, err)

	_, err = NewFuncTool[weatherIn]("", "no name", nil)
	assert.Error(t, err)
}

func TestArguments_EqualIgnoresOrder(t *testing.T) {
	a := Arguments{{Name: "k1", Value: "v1"}, {Name: "k2", Value: "v2"}}
	b := Arguments{{Name: "k2", Value: "v2"}, {Name: "k1", Value: "v1"}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Arguments{{Name: "k1", Value: "v1"}}))
	assert.Equal(t, `k1="v1", k2="v2"`, a.String())
	assert.Equal(t, "", Arguments{}.String())
	assert.Equal(t, `q="say \"hi\""`, Arguments{{Name: "q", Value: `say "hi"`}}.String())
}

func TestDispatcher_StampsEventsWithContextMetadata(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	d := NewDispatcher(reg, DefaultToolConfig())

	sink := &events.CollectingSink{}
	ctx := events.WithEventSinks(context.Background(), sink)
	for _, runID := range []string{"run-a", "run-b"} {
		runCtx := events.WithEventMetadata(ctx, events.EventMetadata{RunID: runID, Iteration: 1})
		d.Execute(runCtx, Call{Name: "get_weather", Arguments: Arguments{{Name: "city", Value: "Oslo"}}})
	}

	calls := sink.OfType(events.EventTypeToolCall)
	results := sink.OfType(events.EventTypeToolResult)
	require.Len(t, calls, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "run-a", calls[0].Metadata.RunID)
	assert.Equal(t, "run-a", results[0].Metadata.RunID)
	assert.Equal(t, "run-b", calls[1].Metadata.RunID)
	assert.Equal(t, "run-b", results[1].Metadata.RunID)

	assert.Equal(t, events.EventMetadata{}, events.GetEventMetadata(context.Background()))
}

func TestValidateArguments_ReportsSchemaViolations(t *testing.T) {
	tool := MustFuncTool("add", "Add numbers", func(ctx context.Context, in addIn) (string, error) { return "", nil })

	values := CoerceArguments(tool.Schema(), Arguments{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}})
	assert.NoError(t, ValidateArguments(tool.Schema(), values))

	values = CoerceArguments(tool.Schema(), Arguments{{Name: "a", Value: "x"}, {Name: "b", Value: "2"}})
	assert.Error(t, ValidateArguments(tool.Schema(), values))

	values = CoerceArguments(tool.Schema(), Arguments{{Name: "a", Value: "1"}})
	assert.Error(t, ValidateArguments(tool.Schema(), values))
}

func TestDispatcher_ExecutesTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	sink := &events.CollectingSink{}
	ctx := events.WithEventSinks(context.Background(), sink)

	d := NewDispatcher(reg, DefaultToolConfig())
	obs := d.Execute(ctx, Call{Name: "get_weather", Arguments: Arguments{{Name: "city", Value: "Nanjing"}}})

	assert.False(t, obs.Failed())
	assert.Equal(t, "Nanjing: 22C", obs.Text)
	require.Len(t, sink.OfType(events.EventTypeToolCall), 1)
	require.Len(t, sink.OfType(events.EventTypeToolResult), 1)
	assert.Equal(t, map[string]string{"city": "Nanjing"}, sink.OfType(events.EventTypeToolCall)[0].Arguments)
	assert.Equal(t, "Nanjing: 22C", sink.OfType(events.EventTypeToolResult)[0].Text)
}

func TestDispatcher_FailuresBecomeObservations(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	reg.RegisterFunc("boom", "always fails", func(ctx context.Context, args Arguments) (string, error) {
		return "", errors.New("backend unavailable")
	})
	reg.RegisterFunc("panics", "panics", func(ctx context.Context, args Arguments) (string, error) {
		panic("kaboom")
	})
	reg.RegisterFunc("slow", "sleeps", func(ctx context.Context, args Arguments) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	cfg := DefaultToolConfig().WithExecutionTimeout(20 * time.Millisecond)
	d := NewDispatcher(reg, cfg)
	ctx := context.Background()

	tests := []struct {
		name     string
		call     Call
		errType  ToolErrorType
		contains string
	}{
		{"unknown", Call{Name: "nope"}, ToolErrorNotFound, `unknown tool "nope"`},
		{"error", Call{Name: "boom"}, ToolErrorExecution, "Error: tool boom failed: backend unavailable"},
		{"panic", Call{Name: "panics"}, ToolErrorExecution, "Error: tool panics failed: panic: kaboom"},
		{"timeout", Call{Name: "slow"}, ToolErrorTimeout, "Error: tool slow failed: timed out"},
		{"validation", Call{Name: "get_weather", Arguments: Arguments{{Name: "town", Value: "x"}}}, ToolErrorValidation, "invalid arguments for tool get_weather"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := d.Execute(ctx, tt.call)
			require.NotNil(t, obs.Err)
			assert.Equal(t, tt.errType, obs.Err.Type)
			assert.Contains(t, obs.Text, tt.contains)
		})
	}
}

func TestDispatcher_UnknownToolListsAvailable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	obs := NewDispatcher(reg, DefaultToolConfig()).Execute(context.Background(), Call{Name: "weather"})
	assert.Contains(t, obs.Text, "Available tools: get_weather")

	obs = NewDispatcher(NewRegistry(), DefaultToolConfig()).Execute(context.Background(), Call{Name: "weather"})
	assert.Contains(t, obs.Text, "Available tools: none")
}

func TestDispatcher_AllowList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	d := NewDispatcher(reg, DefaultToolConfig().WithAllowedTools([]string{"search"}))

	obs := d.Execute(context.Background(), Call{Name: "get_weather", Arguments: Arguments{{Name: "city", Value: "Paris"}}})
	require.NotNil(t, obs.Err)
	assert.Equal(t, ToolErrorNotAllowed, obs.Err.Type)
	assert.Equal(t, `Error: tool "get_weather" is not allowed`, obs.Text)
}

func TestToolConfig_AllowListGlobs(t *testing.T) {
	cfg := DefaultToolConfig().WithAllowedTools([]string{"get_*", "calculator"})
	assert.True(t, cfg.IsToolAllowed("get_weather"))
	assert.True(t, cfg.IsToolAllowed("calculator"))
	assert.False(t, cfg.IsToolAllowed("search"))

	all := DefaultToolConfig()
	assert.True(t, all.IsToolAllowed("anything"))
}

func TestDispatcher_SkipsValidationWhenDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newWeatherTool(t))
	d := NewDispatcher(reg, DefaultToolConfig().WithValidateArguments(false))

	// unknown fields are ignored by the decoder once validation is off
	obs := d.Execute(context.Background(), Call{Name: "get_weather", Arguments: Arguments{{Name: "town", Value: "x"}}})
	assert.False(t, obs.Failed())
	assert.Equal(t, ": 22C", obs.Text)
}
