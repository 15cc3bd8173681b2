// Package token issues and validates the signed JWTs sitepulse hands out:
// admin cookies for the dashboard and session tokens for in-app tracking.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAdmin   = "sitepulse-admin"
	audienceSession = "sitepulse-session"

	// DefaultAdminTTL bounds how long a dashboard login lasts.
	DefaultAdminTTL = 12 * time.Hour
	// DefaultSessionTTL bounds how long a tracked visit may keep writing events.
	DefaultSessionTTL = 24 * time.Hour
)

// ErrInvalid is returned for any token that fails parsing, signature or claim checks.
var ErrInvalid = errors.New("invalid token")

// AdminClaims identify a dashboard user.
type AdminClaims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// SessionClaims bind a tracked visit to an optional project.
type SessionClaims struct {
	SessionID string `json:"sid"`
	ProjectID *uint  `json:"pid,omitempty"`
	VisitorID string `json:"vid,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and validates HS256 tokens with a shared secret.
type Manager struct {
	secret     []byte
	adminTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// NewManager creates a Manager using the default lifetimes.
func NewManager(secret string) *Manager {
	return &Manager{
		secret:     []byte(secret),
		adminTTL:   DefaultAdminTTL,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
}

// IssueAdmin returns a signed token for a dashboard user.
func (m *Manager) IssueAdmin(userID uint, username string) (string, error) {
	claims := &AdminClaims{
		UserID:           userID,
		RegisteredClaims: m.registered(username, audienceAdmin, m.adminTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateAdmin parses an admin token.
func (m *Manager) ValidateAdmin(raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := m.parse(raw, claims, audienceAdmin); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueSession returns a signed token for a tracked session.
func (m *Manager) IssueSession(sessionID string, projectID *uint, visitorID string) (string, error) {
	claims := &SessionClaims{
		SessionID:        sessionID,
		ProjectID:        projectID,
		VisitorID:        visitorID,
		RegisteredClaims: m.registered(sessionID, audienceSession, m.sessionTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateSession parses a session token.
func (m *Manager) ValidateSession(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := m.parse(raw, claims, audienceSession); err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (m *Manager) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
}

func (m *Manager) parse(raw string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return ErrInvalid
	}
	return nil
}
