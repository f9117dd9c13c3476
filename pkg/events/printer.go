package events

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// PrinterOptions controls what NewPrinterHandler writes.
type PrinterOptions struct {
	// ShowPartials streams generation fragments as they arrive.
	ShowPartials bool
	// ShowStates prints loop state transitions.
	ShowStates bool
}

// NewPrinterHandler returns a watermill handler that prints loop events to w.
func NewPrinterHandler(w io.Writer, opts PrinterOptions) message.NoPublishHandlerFunc {
	streaming := false

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		// close a streamed block before printing anything else
		if streaming && e.Type != EventTypePartial {
			streaming = false
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}

		switch e.Type {
		case EventTypeStart:
			_, err = fmt.Fprintf(w, "== %s run %s\nTask: %s\n", e.Metadata.Variant, e.Metadata.RunID, e.Text)
		case EventTypeState:
			if opts.ShowStates {
				_, err = fmt.Fprintf(w, "[%d] %s\n", e.Metadata.Iteration, e.State)
			}
		case EventTypePartial:
			if opts.ShowPartials {
				streaming = true
				_, err = fmt.Fprint(w, e.Text)
			}
		case EventTypeGeneration:
			if !opts.ShowPartials {
				_, err = fmt.Fprintf(w, "%s\n", strings.TrimSpace(e.Text))
			}
		case EventTypeToolCall:
			_, err = fmt.Fprintf(w, "-> %s(%s)\n", e.ToolName, formatArguments(e.Arguments))
		case EventTypeToolResult:
			if e.Error != "" {
				_, err = fmt.Fprintf(w, "<- %s failed: %s\n", e.ToolName, e.Error)
			} else {
				_, err = fmt.Fprintf(w, "<- %s\n", e.Text)
			}
		case EventTypePlan:
			var sb strings.Builder
			sb.WriteString("Plan:\n")
			for i, s := range e.Steps {
				fmt.Fprintf(&sb, "  %d. %s\n", i+1, s)
			}
			_, err = fmt.Fprint(w, sb.String())
		case EventTypeCritique:
			_, err = fmt.Fprintf(w, "Critique: %s\n", strings.TrimSpace(e.Text))
		case EventTypeError:
			_, err = fmt.Fprintf(w, "Error: %s\n", e.Error)
		case EventTypeDecision, EventTypeFinal:
		}
		return err
	}
}

func formatArguments(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

// WatermillZerologAdapter routes watermill's own logging through zerolog.
type WatermillZerologAdapter struct {
	logger zerolog.Logger
}

func NewWatermillLogger(logger zerolog.Logger) *WatermillZerologAdapter {
	return &WatermillZerologAdapter{logger: logger}
}

func (w *WatermillZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

// Info maps to debug because watermill is chatty.
func (w *WatermillZerologAdapter) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	l := w.logger.With().Fields(map[string]interface{}(fields)).Logger()
	return &WatermillZerologAdapter{logger: l}
}

var _ watermill.LoggerAdapter = &WatermillZerologAdapter{}
