package realtime

import (
	"context"
	"sync"
)

// DefaultFeedLimit caps how many rows a Feed keeps.
const DefaultFeedLimit = 100

// Feed is a most-recent-first list of one project's events. It is seeded
// once from the store and then prepends every insert notification it
// receives. Nothing is replayed across reconnects.
type Feed struct {
	mu     sync.Mutex
	rows   []EventRow
	limit  int
	closed bool

	inserted chan EventRow
	lagged   chan struct{}
	cleanup  func()
	done     chan struct{}
}

// WatchProject seeds a Feed with seed (newest first) and subscribes it to
// projectID's inserts until Close is called or ctx ends.
func WatchProject(ctx context.Context, sub Subscriber, projectID uint, seed []EventRow, limit int) *Feed {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows := append([]EventRow(nil), seed...)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	msgs, cleanup := sub.Subscribe(ctx, ForProject(projectID))
	f := &Feed{
		rows:     rows,
		limit:    limit,
		inserted: make(chan EventRow, DefaultSubscriberBuffer),
		lagged:   make(chan struct{}, 1),
		cleanup:  cleanup,
		done:     make(chan struct{}),
	}
	go f.run(msgs)
	return f
}

func (f *Feed) run(msgs <-chan Message) {
	defer close(f.done)
	defer close(f.inserted)
	for msg := range msgs {
		if msg.Type != TypeEventInserted || msg.Event == nil {
			continue
		}
		if !f.prepend(*msg.Event) {
			return
		}
	}
}

func (f *Feed) prepend(row EventRow) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.rows = append([]EventRow{row}, f.rows...)
	if len(f.rows) > f.limit {
		f.rows = f.rows[:f.limit]
	}
	select {
	case f.inserted <- row:
	default:
		// Inserted readers miss this row. Rows still has it and Lagged fires.
		select {
		case f.lagged <- struct{}{}:
		default:
		}
	}
	return true
}

// Rows returns a copy of the current list, newest first.
func (f *Feed) Rows() []EventRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EventRow(nil), f.rows...)
}

// Inserted yields each row as it is prepended. It is closed once the feed stops.
func (f *Feed) Inserted() <-chan EventRow {
	return f.inserted
}

// Lagged receives a value whenever rows were dropped from Inserted because
// the reader fell behind. A reader that sees it should resynchronize.
func (f *Feed) Lagged() <-chan struct{} {
	return f.lagged
}

// Done is closed once the feed has stopped for any reason.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Close unsubscribes. After Close returns the list no longer changes.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cleanup()
	<-f.done
}
