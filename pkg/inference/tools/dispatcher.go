package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Observation is the outcome of executing a Call. Text is always set and is what gets fed back
// to the model; Err is non-nil when the tool was missing or failed.
type Observation struct {
	Text     string
	Err      *ToolError
	Duration time.Duration
}

func (o Observation) Failed() bool {
	return o.Err != nil
}

// Dispatcher looks tools up in a Registry and turns every failure into observation text. It holds
// no per-run state, so one dispatcher can serve several loops; event metadata comes from ctx.
type Dispatcher struct {
	registry *Registry
	config   ToolConfig
}

func NewDispatcher(registry *Registry, config ToolConfig) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		config:   config,
	}
}

// Execute runs the call and returns its observation. It never returns an error and never panics
// because of a tool.
func (d *Dispatcher) Execute(ctx context.Context, call Call) Observation {
	start := time.Now()
	meta := events.GetEventMetadata(ctx)
	events.PublishEventToContext(ctx, events.NewToolCallEvent(meta, call.Name, call.Arguments.Map()))

	obs := d.execute(ctx, call)
	obs.Duration = time.Since(start)

	errMsg := ""
	if obs.Err != nil {
		errMsg = obs.Err.Message
		log.Debug().
			Str("tool", call.Name).
			Str("error_type", string(obs.Err.Type)).
			Str("error", obs.Err.Message).
			Msg("tools: tool call failed")
	} else {
		log.Debug().
			Str("tool", call.Name).
			Dur("duration", obs.Duration).
			Int("result_len", len(obs.Text)).
			Msg("tools: tool call completed")
	}
	events.PublishEventToContext(ctx, events.NewToolResultEvent(meta, call.Name, obs.Text, errMsg))

	return obs
}

func (d *Dispatcher) execute(ctx context.Context, call Call) Observation {
	if d.registry == nil {
		te := NewToolError(call.Name, ToolErrorNotFound, "no tool registry configured")
		return Observation{Text: fmt.Sprintf("Error: unknown tool %q", call.Name), Err: te}
	}

	tool, ok := d.registry.Lookup(call.Name)
	if !ok {
		te := NewToolError(call.Name, ToolErrorNotFound, "tool not found")
		available := "none"
		if names := d.registry.Names(); len(names) > 0 {
			available = strings.Join(names, ", ")
		}
		return Observation{
			Text: fmt.Sprintf("Error: unknown tool %q. Available tools: %s", call.Name, available),
			Err:  te,
		}
	}

	if !d.config.IsToolAllowed(call.Name) {
		te := NewToolError(call.Name, ToolErrorNotAllowed, "tool is not allowed")
		return Observation{Text: fmt.Sprintf("Error: tool %q is not allowed", call.Name), Err: te}
	}

	if d.config.ValidateArguments {
		if sp, ok := tool.(SchemaProvider); ok && sp.Schema() != nil {
			values := CoerceArguments(sp.Schema(), call.Arguments)
			if err := ValidateArguments(sp.Schema(), values); err != nil {
				te := NewToolError(call.Name, ToolErrorValidation, "%s", err.Error())
				return Observation{
					Text: fmt.Sprintf("Error: invalid arguments for tool %s: %s", call.Name, err.Error()),
					Err:  te,
				}
			}
		}
	}

	result, err := d.invoke(ctx, tool, call.Arguments)
	if err != nil {
		te := AsToolError(call.Name, err)
		return Observation{
			Text: fmt.Sprintf("Error: tool %s failed: %s", call.Name, te.Message),
			Err:  te,
		}
	}
	return Observation{Text: result}
}

func (d *Dispatcher) invoke(ctx context.Context, tool Tool, args Arguments) (result string, err error) {
	execCtx := ctx
	if d.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.config.ExecutionTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tool", tool.Name()).Msg("tools: recovered panic in tool")
			err = NewToolError(tool.Name(), ToolErrorExecution, "panic: %v", r)
		}
	}()

	result, err = tool.Invoke(execCtx, args)
	if err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return "", NewToolError(tool.Name(), ToolErrorTimeout, "timed out after %s", d.config.ExecutionTimeout)
	}
	return result, err
}
