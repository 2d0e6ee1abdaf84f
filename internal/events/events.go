// Package events defines the outbound notification boundary. Events are
// fire-and-forget: they carry a resource identifier plus before/after
// values and are never read back by this system.
package events

import (
	"context"
	"fmt"
)

// Resource identifier patterns. Consumers key automations off these, so
// the shapes are fixed.
const (
	readResourceFmt      = "plateread.%s"
	wellplateResourceFmt = "wellplate.%s"
)

// Event is one status-change notification.
type Event struct {
	// Name is the event class, e.g. "plateread.status_update".
	Name string `json:"name"`

	// Resource identifies the changed entity, e.g. "plateread.<id>".
	Resource string `json:"resource"`

	Before string `json:"before"`
	After  string `json:"after"`
}

// Sink receives events. Implementations must not block the caller beyond
// a bounded timeout and must swallow their own delivery failures.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// ReadStatusUpdate builds the event for a read status transition.
func ReadStatusUpdate(readID string, before, after string) Event {
	return Event{
		Name:     "plateread.status_update",
		Resource: fmt.Sprintf(readResourceFmt, readID),
		Before:   before,
		After:    after,
	}
}

// WellplateLocationUpdate builds the event for a plate relocation.
func WellplateLocationUpdate(wellplateName string, before, after string) Event {
	return Event{
		Name:     "wellplate.location_update",
		Resource: fmt.Sprintf(wellplateResourceFmt, wellplateName),
		Before:   before,
		After:    after,
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) {}
