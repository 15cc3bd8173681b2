// Package ingest validates and stores tracked events arriving through either
// the public embed path or an authenticated in-app session, and announces
// each stored event to realtime subscribers.
package ingest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sitepulse/internal/db"
	"sitepulse/internal/logger"
	"sitepulse/internal/realtime"
	"sitepulse/internal/token"
)

const publishTimeout = 2 * time.Second

// Source says how a request proved which project and session it belongs to.
// It is either PublicToken or AuthenticatedSession.
type Source interface {
	sourceName() string
}

// PublicToken is the untrusted embed path: the body carries a project tracking id.
type PublicToken struct {
	TrackingID string
}

func (PublicToken) sourceName() string { return db.SourcePublic }

// AuthenticatedSession is the in-app path: the session, project and visitor
// come from a validated session token rather than the body.
type AuthenticatedSession struct {
	SessionID string
	ProjectID *uint
	VisitorID string
}

func (AuthenticatedSession) sourceName() string { return db.SourceSession }

// SessionFromClaims converts validated token claims.
func SessionFromClaims(c *token.SessionClaims) AuthenticatedSession {
	return AuthenticatedSession{SessionID: c.SessionID, ProjectID: c.ProjectID, VisitorID: c.VisitorID}
}

// Input is one event as reported by a client.
type Input struct {
	EventType   string
	URL         string
	SessionID   string
	VisitorID   string
	SectionName string
	ScrollDepth *float64
	DurationMs  *int64
	Metadata    map[string]any
	// Timestamp is the client clock; it is stored as OccurredAt only.
	Timestamp *time.Time
	UserAgent string
	Referrer  string
}

// ValidEventType reports whether t is one of the accepted event types.
func ValidEventType(t string) bool {
	switch t {
	case db.EventPageView, db.EventView, db.EventClick, db.EventScroll, db.EventConversion:
		return true
	}
	return false
}

// Service writes events and sessions.
type Service struct {
	db            *gorm.DB
	pub           realtime.Publisher
	tokens        *token.Manager
	log           logger.Logger
	metrics       *Metrics
	retentionDays int
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records ingestion counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service. pub may be nil to disable realtime fan-out.
func NewService(gdb *gorm.DB, pub realtime.Publisher, tokens *token.Manager, log logger.Logger, retentionDays int, opts ...Option) *Service {
	s := &Service{
		db:            gdb,
		pub:           pub,
		tokens:        tokens,
		log:           log,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track validates in, resolves its project through src, stores it and
// publishes it. The project lookup and the insert are separate operations:
// a project deleted in between still gets the event.
func (s *Service) Track(ctx context.Context, src Source, in Input) (*db.Event, error) {
	ev, err := s.track(ctx, src, in)
	if err != nil {
		s.metrics.rejected(err)
		return nil, err
	}
	s.metrics.ingested(ev)
	s.publish(ctx, ev)
	return ev, nil
}

func (s *Service) track(ctx context.Context, src Source, in Input) (*db.Event, error) {
	var (
		projectID *uint
		retention = s.retentionDays
		sessionID = in.SessionID
		visitorID = in.VisitorID
	)

	switch src := src.(type) {
	case PublicToken:
		if src.TrackingID == "" || in.EventType == "" {
			return nil, ErrMissingFields
		}
		if !ValidEventType(in.EventType) {
			return nil, ErrInvalidEventType
		}
		p, err := db.ProjectByTrackingID(ctx, s.db, src.TrackingID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		if err != nil {
			return nil, &StoreError{Op: "lookup project", Err: err}
		}
		projectID = &p.ID
		retention = p.Retention(s.retentionDays)

	case AuthenticatedSession:
		if in.EventType == "" {
			return nil, ErrMissingFields
		}
		if src.SessionID == "" {
			return nil, ErrInvalidSession
		}
		if !ValidEventType(in.EventType) {
			return nil, ErrInvalidEventType
		}
		sessionID = src.SessionID
		if src.VisitorID != "" {
			visitorID = src.VisitorID
		}
		projectID = src.ProjectID
		if projectID != nil {
			if p, err := db.ProjectByID(ctx, s.db, *projectID); err == nil {
				retention = p.Retention(s.retentionDays)
			}
		}

	default:
		return nil, ErrInvalidSession
	}

	if in.DurationMs != nil && *in.DurationMs < 0 {
		return nil, ErrInvalidDuration
	}

	now := s.now().UTC()
	ev := &db.Event{
		CreatedAt:   now,
		OccurredAt:  in.Timestamp,
		ExpiresAt:   db.ExpiryFor(now, retention),
		ProjectID:   projectID,
		EventType:   in.EventType,
		SectionName: in.SectionName,
		SessionID:   sessionID,
		VisitorID:   visitorID,
		URL:         in.URL,
		DurationMs:  in.DurationMs,
		ScrollDepth: in.ScrollDepth,
		Source:      src.sourceName(),
	}
	if len(in.Metadata) > 0 {
		ev.Metadata = datatypes.JSONMap(in.Metadata)
	}

	var sess *db.Session
	if sessionID != "" {
		sess = &db.Session{
			ID:        sessionID,
			ProjectID: projectID,
			VisitorID: visitorID,
			StartedAt: now,
			UserAgent: in.UserAgent,
			Referrer:  in.Referrer,
		}
	}

	if err := db.RecordEvent(ctx, s.db, ev, sess); err != nil {
		return nil, &StoreError{Op: "insert event", Err: err}
	}
	return ev, nil
}

func (s *Service) publish(ctx context.Context, ev *db.Event) {
	if s.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pctx, realtime.InsertedMessage(ev)); err != nil {
		s.log.Warn("realtime publish failed", logger.Uint("event_id", ev.ID), logger.Error(err))
	}
}

// StartInput describes a visit being opened by the in-app tracker.
type StartInput struct {
	SessionID      string
	VisitorID      string
	TrackingID     string
	UserAgent      string
	Referrer       string
	Language       string
	ViewportWidth  int
	ViewportHeight int
}

// Started is the result of StartSession.
type Started struct {
	SessionID string
	Token     string
}

// StartSession opens (or re-opens) a session and returns a token for the
// authenticated tracking path. A tracking id binds the session to its project.
func (s *Service) StartSession(ctx context.Context, in StartInput) (*Started, error) {
	var projectID *uint
	if in.TrackingID != "" {
		p, err := db.ProjectByTrackingID(ctx, s.db, in.TrackingID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		if err != nil {
			return nil, &StoreError{Op: "lookup project", Err: err}
		}
		projectID = &p.ID
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess := &db.Session{
		ID:             sessionID,
		ProjectID:      projectID,
		VisitorID:      in.VisitorID,
		StartedAt:      s.now().UTC(),
		UserAgent:      in.UserAgent,
		Referrer:       in.Referrer,
		Language:       in.Language,
		ViewportWidth:  in.ViewportWidth,
		ViewportHeight: in.ViewportHeight,
		DeviceType:     DeviceType(in.ViewportWidth),
	}
	if err := db.StartSession(ctx, s.db, sess); err != nil {
		return nil, &StoreError{Op: "start session", Err: err}
	}

	tok, err := s.tokens.IssueSession(sessionID, projectID, in.VisitorID)
	if err != nil {
		return nil, err
	}
	s.log.Debug("session started", logger.String("session_id", sessionID), logger.String("project", projectLabel(projectID)))
	return &Started{SessionID: sessionID, Token: tok}, nil
}

// EndSession records the end of a visit. Unknown sessions are not an error.
func (s *Service) EndSession(ctx context.Context, sessionID string, durationMs int64) error {
	if sessionID == "" {
		return ErrMissingFields
	}
	if durationMs < 0 {
		return ErrInvalidDuration
	}
	n, err := db.EndSession(ctx, s.db, sessionID, durationMs, s.now())
	if err != nil {
		return &StoreError{Op: "end session", Err: err}
	}
	if n == 0 {
		s.log.Debug("end for unknown session", logger.String("session_id", sessionID))
	}
	return nil
}

// DeviceType buckets a viewport width.
func DeviceType(width int) string {
	switch {
	case width <= 0:
		return ""
	case width < 768:
		return "mobile"
	case width < 1024:
		return "tablet"
	default:
		return "desktop"
	}
}

func projectLabel(id *uint) string {
	if id == nil {
		return "none"
	}
	return strconv.FormatUint(uint64(*id), 10)
}
