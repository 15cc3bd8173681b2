package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Payload is the wire body of one event.
type Payload struct {
	TrackingID  string         `json:"tracking_id,omitempty"`
	EventType   string         `json:"event_type"`
	URL         string         `json:"url,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	VisitorID   string         `json:"visitor_id,omitempty"`
	SectionName string         `json:"section_name,omitempty"`
	ScrollDepth *float64       `json:"scroll_depth,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Transport delivers payloads to the server.
type Transport interface {
	Send(ctx context.Context, sess *Session, p Payload) error
	EndSession(ctx context.Context, sessionID string, durationMs int64) error
}

// HTTPTransport posts to a sitepulse server with fasthttp.
type HTTPTransport struct {
	BaseURL    string
	TrackingID string
	Client     *fasthttp.Client
	Timeout    time.Duration
}

// NewHTTPTransport returns a transport for baseURL using the public
// tracking id until a session token is available.
func NewHTTPTransport(baseURL, trackingID string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		TrackingID: trackingID,
		Client: &fasthttp.Client{
			Name:                "sitepulse-tracker",
			MaxIdleConnDuration: 30 * time.Second,
		},
		Timeout: 5 * time.Second,
	}
}

// StartResponse is the body of POST /analytics/session.
type StartResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Error     string `json:"error"`
}

// StartSession asks the server for a session token and stores it on sess.
func (t *HTTPTransport) StartSession(ctx context.Context, sess *Session, userAgent string) error {
	body := map[string]any{
		"session_id":  sess.ID,
		"visitor_id":  sess.VisitorID,
		"tracking_id": t.TrackingID,
		"user_agent":  userAgent,
	}
	var out StartResponse
	if err := t.post(ctx, "/analytics/session", "", body, &out); err != nil {
		return err
	}
	sess.Token = out.Token
	return nil
}

// Send uses the authenticated path when sess has a token and the public
// path otherwise.
func (t *HTTPTransport) Send(ctx context.Context, sess *Session, p Payload) error {
	if sess != nil && sess.Token != "" {
		p.TrackingID = ""
		return t.post(ctx, "/analytics/track", sess.Token, p, nil)
	}
	p.TrackingID = t.TrackingID
	return t.post(ctx, "/track", "", p, nil)
}

// EndSession posts the session-end beacon.
func (t *HTTPTransport) EndSession(ctx context.Context, sessionID string, durationMs int64) error {
	body := map[string]any{"session_id": sessionID, "duration_ms": durationMs}
	return t.post(ctx, "/analytics/end-session", "", body, nil)
}

func (t *HTTPTransport) post(ctx context.Context, path, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.SetBody(payload)

	timeout := t.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout || timeout == 0 {
			timeout = d
		}
	}
	if err := t.Client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}

	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &e)
		return &StatusError{Path: path, Code: code, Message: e.Error}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// StatusError is a non-200 answer from the server.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Path, e.Code, e.Message)
}
