// Package tracker is a Go client for the ingestion endpoints. It keeps
// identity in a Storage and emits section-level engagement events the same
// way the browser tracker does.
package tracker

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Storage keys shared with the browser tracker.
const (
	SessionKey = "session_id"
	VisitorKey = "analytics_visitor"
)

// Session identifies one visit. It is passed explicitly to an Emitter.
type Session struct {
	ID        string
	VisitorID string
	StartedAt time.Time
	// Token is set after the server issued a session token; events then use
	// the authenticated path.
	Token string
}

// LoadSession reads the session and visitor ids from s, generating and
// persisting whichever is missing. Identifiers never expire.
func LoadSession(s Storage, now func() time.Time) (*Session, error) {
	if now == nil {
		now = time.Now
	}

	id, ok := s.Get(SessionKey)
	if !ok || id == "" {
		id = uuid.NewString()
		if err := s.Set(SessionKey, id); err != nil {
			return nil, fmt.Errorf("store session id: %w", err)
		}
	}

	visitor, ok := s.Get(VisitorKey)
	if !ok || visitor == "" {
		visitor = NewVisitorID()
		if err := s.Set(VisitorKey, visitor); err != nil {
			return nil, fmt.Errorf("store visitor id: %w", err)
		}
	}

	return &Session{ID: id, VisitorID: visitor, StartedAt: now()}, nil
}

const visitorAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewVisitorID returns "usr_" followed by eight random base-36 characters.
func NewVisitorID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = visitorAlphabet[rand.IntN(len(visitorAlphabet))]
	}
	return "usr_" + string(b)
}
