package tracker

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"sitepulse/internal/logger"
)

// Event types emitted by the tracker.
const (
	EventPageView   = "page_view"
	EventView       = "view"
	EventClick      = "click"
	EventScroll     = "scroll"
	EventConversion = "conversion"
)

// ConversionSection is the section every conversion is attributed to.
const ConversionSection = "contact"

const sendTimeout = 10 * time.Second

type sectionState struct {
	viewedAt  time.Time
	maxScroll float64
}

// Emitter sends engagement events for one Session. Writes are asynchronous
// and best effort: failures are logged and dropped, never retried.
type Emitter struct {
	sess      *Session
	transport Transport
	log       logger.Logger
	now       func() time.Time
	url       string

	mu       sync.Mutex
	sections map[string]*sectionState

	wg     sync.WaitGroup
	sent   atomic.Int64
	failed atomic.Int64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger failures are reported to.
func WithLogger(l logger.Logger) EmitterOption {
	return func(e *Emitter) { e.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// WithURL sets the page URL attached to every event.
func WithURL(url string) EmitterOption {
	return func(e *Emitter) { e.url = url }
}

// NewEmitter returns an Emitter for sess.
func NewEmitter(sess *Session, t Transport, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sess:      sess,
		transport: t,
		log:       logger.NewNop(),
		now:       time.Now,
		sections:  make(map[string]*sectionState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns the session events are attributed to.
func (e *Emitter) Session() *Session { return e.sess }

// TrackPageView fires a page_view with no section.
func (e *Emitter) TrackPageView(ctx context.Context) {
	e.TrackEvent(ctx, Payload{EventType: EventPageView})
}

// TrackSectionView starts a new view of section: its scroll watermark and
// view clock are reset.
func (e *Emitter) TrackSectionView(ctx context.Context, section string) {
	e.mu.Lock()
	e.sections[section] = &sectionState{viewedAt: e.now()}
	e.mu.Unlock()

	e.TrackEvent(ctx, Payload{EventType: EventView, SectionName: section})
}

// TrackSectionClick fires a click carrying the time since the section was
// last viewed, or zero if it never was.
func (e *Emitter) TrackSectionClick(ctx context.Context, section, target string) {
	var d int64
	e.mu.Lock()
	if st, ok := e.sections[section]; ok {
		d = e.now().Sub(st.viewedAt).Milliseconds()
	}
	e.mu.Unlock()

	p := Payload{EventType: EventClick, SectionName: section, DurationMs: &d}
	if target != "" {
		p.Metadata = map[string]any{"target": target}
	}
	e.TrackEvent(ctx, p)
}

// TrackScroll clamps depth to [0, 100] and fires only when it is strictly
// above the section's watermark. NaN is ignored. It reports whether an
// event was sent.
func (e *Emitter) TrackScroll(ctx context.Context, section string, depth float64) bool {
	if math.IsNaN(depth) {
		return false
	}
	depth = min(max(depth, 0), 100)

	e.mu.Lock()
	st, ok := e.sections[section]
	if !ok {
		st = &sectionState{viewedAt: e.now()}
		e.sections[section] = st
	}
	if depth <= st.maxScroll {
		e.mu.Unlock()
		return false
	}
	st.maxScroll = depth
	e.mu.Unlock()

	e.TrackEvent(ctx, Payload{EventType: EventScroll, SectionName: section, ScrollDepth: &depth})
	return true
}

// TrackConversion records a form submission. Only whether an email was
// given and the number of fields leave the client.
func (e *Emitter) TrackConversion(ctx context.Context, fields map[string]string) {
	email := "not_provided"
	if fields["email"] != "" {
		email = "provided"
	}
	e.TrackEvent(ctx, Payload{
		EventType:   EventConversion,
		SectionName: ConversionSection,
		Metadata: map[string]any{
			"email":       email,
			"form_fields": len(fields),
		},
	})
}

// TrackEvent attaches identity and a timestamp to p and sends it in the
// background. Cancelling ctx does not abort a write already started.
func (e *Emitter) TrackEvent(ctx context.Context, p Payload) {
	p.SessionID = e.sess.ID
	p.VisitorID = e.sess.VisitorID
	p.Timestamp = e.now().UTC()
	if p.URL == "" {
		p.URL = e.url
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()

		if err := e.transport.Send(sctx, e.sess, p); err != nil {
			e.failed.Add(1)
			e.log.Warn("track event failed",
				logger.String("event_type", p.EventType),
				logger.String("section", p.SectionName),
				logger.Error(err),
			)
			return
		}
		e.sent.Add(1)
	}()
}

// EndSession sends the session-end beacon with the elapsed visit time.
// Like a browser beacon it is fire and forget.
func (e *Emitter) EndSession(ctx context.Context) {
	elapsed := e.now().Sub(e.sess.StartedAt).Milliseconds()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := e.transport.EndSession(sctx, e.sess.ID, elapsed); err != nil {
			e.log.Warn("end session beacon failed", logger.Error(err))
		}
	}()
}

// Wait blocks until every write started so far has finished.
func (e *Emitter) Wait() { e.wg.Wait() }

// Sent is the number of events the server accepted.
func (e *Emitter) Sent() int64 { return e.sent.Load() }

// Failed is the number of events that were dropped.
func (e *Emitter) Failed() int64 { return e.failed.Load() }
