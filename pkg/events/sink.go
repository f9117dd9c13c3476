package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// EventSink represents a destination for loop events.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	PublishEvent(event *Event) error
}

type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
	ctxKeyEventMetadata
)

// WithEventMetadata attaches the metadata that collaborators such as the tool dispatcher stamp
// on the events they publish for the current run.
func WithEventMetadata(ctx context.Context, meta EventMetadata) context.Context {
	return context.WithValue(ctx, ctxKeyEventMetadata, meta)
}

// GetEventMetadata returns the metadata attached with WithEventMetadata, or the zero value.
func GetEventMetadata(ctx context.Context) EventMetadata {
	if meta, ok := ctx.Value(ctxKeyEventMetadata).(EventMetadata); ok {
		return meta
	}
	return EventMetadata{}
}

// WithEventSinks attaches one or more EventSink instances to the context.
// Downstream code can publish events without access to the loop configuration.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := GetEventSinks(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

// GetEventSinks returns the list of EventSinks attached to the context.
func GetEventSinks(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

// PublishEventToContext publishes the event to all sinks stored in the context.
// Sink errors are logged and otherwise ignored.
func PublishEventToContext(ctx context.Context, event *Event) {
	sinks := GetEventSinks(ctx)
	if len(sinks) == 0 {
		return
	}
	for _, sink := range sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Debug().Err(err).Str("event_type", string(event.Type)).Msg("events: sink failed to publish")
		}
	}
}

// WatermillSink publishes events as JSON messages to a watermill Publisher.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type)).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(event *Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// CollectingSink keeps every event in memory. It is mostly useful in tests.
type CollectingSink struct {
	Events []*Event
}

func (c *CollectingSink) PublishEvent(event *Event) error {
	c.Events = append(c.Events, event)
	return nil
}

// OfType returns the collected events with the given type, in publication order.
func (c *CollectingSink) OfType(t EventType) []*Event {
	var out []*Event
	for _, e := range c.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var _ EventSink = (*CollectingSink)(nil)
