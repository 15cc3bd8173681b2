// Package realtime fans newly stored events out to dashboard subscribers,
// in-process through a Broker and across instances through a Redis relay.
package realtime

import (
	"context"
	"time"

	"sitepulse/internal/db"
)

// Message types.
const (
	TypeEventInserted = "event:inserted"
	TypeSnapshot      = "snapshot"
	TypeHeartbeat     = "heartbeat"
)

// Message is one notification delivered to subscribers.
type Message struct {
	Type      string    `json:"type"`
	ProjectID uint      `json:"project_id"`
	Event     *EventRow `json:"event,omitempty"`
}

// EventRow is the dashboard view of a stored event.
type EventRow struct {
	ID          uint           `json:"id"`
	ProjectID   *uint          `json:"project_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EventType   string         `json:"event_type"`
	SectionName string         `json:"section_name,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	VisitorID   string         `json:"visitor_id,omitempty"`
	URL         string         `json:"url,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
	ScrollDepth *float64       `json:"scroll_depth,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Source      string         `json:"source,omitempty"`
}

// RowFromEvent converts a stored event.
func RowFromEvent(e *db.Event) EventRow {
	return EventRow{
		ID:          e.ID,
		ProjectID:   e.ProjectID,
		CreatedAt:   e.CreatedAt.UTC(),
		EventType:   e.EventType,
		SectionName: e.SectionName,
		SessionID:   e.SessionID,
		VisitorID:   e.VisitorID,
		URL:         e.URL,
		DurationMs:  e.DurationMs,
		ScrollDepth: e.ScrollDepth,
		Metadata:    e.Metadata,
		Source:      e.Source,
	}
}

// RowsFromEvents converts stored events, keeping their order.
func RowsFromEvents(events []db.Event) []EventRow {
	rows := make([]EventRow, 0, len(events))
	for i := range events {
		rows = append(rows, RowFromEvent(&events[i]))
	}
	return rows
}

// InsertedMessage wraps a stored event for publishing. Events without a
// project are published with ProjectID 0 and only reach unfiltered subscribers.
func InsertedMessage(e *db.Event) Message {
	row := RowFromEvent(e)
	msg := Message{Type: TypeEventInserted, Event: &row}
	if e.ProjectID != nil {
		msg.ProjectID = *e.ProjectID
	}
	return msg
}

// Publisher accepts messages for delivery.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber hands out subscriptions. The returned channel is closed when the
// subscription ends; cleanup ends it early.
type Subscriber interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (msgs <-chan Message, cleanup func())
}

// Broker is the in-process hub.
type Broker interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Stop() error
	SubscriberCount() int
}

// Filter reports whether a subscriber wants msg.
type Filter func(msg Message) bool

type subscribeOptions struct {
	filter     Filter
	bufferSize int
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeOptions)

// ForProject limits a subscription to one project's messages.
func ForProject(projectID uint) SubscribeOption {
	return func(o *subscribeOptions) {
		o.filter = func(msg Message) bool { return msg.ProjectID == projectID }
	}
}

// WithFilter installs an arbitrary filter.
func WithFilter(f Filter) SubscribeOption {
	return func(o *subscribeOptions) { o.filter = f }
}

// WithBufferSize overrides the per-subscriber buffer.
func WithBufferSize(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}
