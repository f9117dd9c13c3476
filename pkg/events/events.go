package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published once when a run begins.
	EventTypeStart EventType = "start"
	// EventTypeState reports a loop state transition.
	EventTypeState EventType = "state"
	// EventTypePartial carries one streamed fragment of a generation.
	EventTypePartial EventType = "partial"
	// EventTypeGeneration carries the complete text of a generation.
	EventTypeGeneration EventType = "generation"
	EventTypeDecision   EventType = "decision"

	EventTypeToolCall   EventType = "tool-call"
	EventTypeToolResult EventType = "tool-result"

	EventTypePlan     EventType = "plan"
	EventTypeCritique EventType = "critique"

	EventTypeFinal EventType = "final"
	EventTypeError EventType = "error"
)

// EventMetadata correlates events belonging to the same run.
type EventMetadata struct {
	RunID     string `json:"run_id,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
}

func (m EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", m.RunID)
	e.Str("variant", m.Variant)
	e.Int("iteration", m.Iteration)
}

// Event is a single observable step of an agent loop.
// Only the fields relevant to the event type are set.
type Event struct {
	Type      EventType         `json:"type"`
	Metadata  EventMetadata     `json:"meta"`
	State     string            `json:"state,omitempty"`
	Text      string            `json:"text,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Steps     []string          `json:"steps,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (e *Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type))
	ev.Object("meta", e.Metadata)
	if e.State != "" {
		ev.Str("state", e.State)
	}
	if e.ToolName != "" {
		ev.Str("tool", e.ToolName)
	}
	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// NewEventFromJson decodes an event serialized by a sink.
func NewEventFromJson(b []byte) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}

func NewStartEvent(meta EventMetadata, task string) *Event {
	return &Event{Type: EventTypeStart, Metadata: meta, Text: task}
}

func NewStateEvent(meta EventMetadata, state string) *Event {
	return &Event{Type: EventTypeState, Metadata: meta, State: state}
}

func NewPartialEvent(meta EventMetadata, delta string) *Event {
	return &Event{Type: EventTypePartial, Metadata: meta, Text: delta}
}

func NewGenerationEvent(meta EventMetadata, text string) *Event {
	return &Event{Type: EventTypeGeneration, Metadata: meta, Text: text}
}

func NewDecisionEvent(meta EventMetadata, thought string, toolName string) *Event {
	return &Event{Type: EventTypeDecision, Metadata: meta, Text: thought, ToolName: toolName}
}

func NewToolCallEvent(meta EventMetadata, toolName string, args map[string]string) *Event {
	return &Event{Type: EventTypeToolCall, Metadata: meta, ToolName: toolName, Arguments: args}
}

func NewToolResultEvent(meta EventMetadata, toolName string, result string, errMsg string) *Event {
	return &Event{Type: EventTypeToolResult, Metadata: meta, ToolName: toolName, Text: result, Error: errMsg}
}

func NewPlanEvent(meta EventMetadata, steps []string) *Event {
	return &Event{Type: EventTypePlan, Metadata: meta, Steps: steps}
}

func NewCritiqueEvent(meta EventMetadata, critique string) *Event {
	return &Event{Type: EventTypeCritique, Metadata: meta, Text: critique}
}

func NewFinalEvent(meta EventMetadata, answer string) *Event {
	return &Event{Type: EventTypeFinal, Metadata: meta, Text: answer}
}

func NewErrorEvent(meta EventMetadata, err error) *Event {
	e := &Event{Type: EventTypeError, Metadata: meta}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
