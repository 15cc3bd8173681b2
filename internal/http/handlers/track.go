package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	httpctx "sitepulse/internal/http/ctx"
	"sitepulse/internal/ingest"
	"sitepulse/internal/logger"
	ui "sitepulse/web"
)

// TrackRequest is the body accepted by both ingestion routes. TrackingID
// is ignored on the authenticated route.
type TrackRequest struct {
	TrackingID  string         `json:"tracking_id"`
	EventType   string         `json:"event_type"`
	URL         string         `json:"url"`
	SessionID   string         `json:"session_id"`
	VisitorID   string         `json:"visitor_id"`
	SectionName string         `json:"section_name"`
	ScrollDepth *float64       `json:"scroll_depth"`
	DurationMs  *int64         `json:"duration_ms"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   *time.Time     `json:"timestamp"`
}

func (r *TrackRequest) input(ctx *fasthttp.RequestCtx) ingest.Input {
	return ingest.Input{
		EventType:   r.EventType,
		URL:         r.URL,
		SessionID:   r.SessionID,
		VisitorID:   r.VisitorID,
		SectionName: r.SectionName,
		ScrollDepth: r.ScrollDepth,
		DurationMs:  r.DurationMs,
		Metadata:    r.Metadata,
		Timestamp:   r.Timestamp,
		UserAgent:   string(ctx.UserAgent()),
		Referrer:    string(ctx.Referer()),
	}
}

// Track is the public ingestion endpoint used by the embed script.
func Track(svc *ingest.Service, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req TrackRequest
		if !decodeBody(ctx, &req) {
			return
		}
		_, err := svc.Track(ctx, ingest.PublicToken{TrackingID: req.TrackingID}, req.input(ctx))
		if err != nil {
			writeIngestError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"success": true})
	}
}

// TrackAuthenticated ingests for a visit holding a session token. Session,
// project and visitor come from the token.
func TrackAuthenticated(svc *ingest.Service, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		claims, ok := httpctx.SessionFromCtx(ctx)
		if !ok {
			jsonError(ctx, fasthttp.StatusUnauthorized, "Invalid session")
			return
		}
		var req TrackRequest
		if !decodeBody(ctx, &req) {
			return
		}
		_, err := svc.Track(ctx, ingest.SessionFromClaims(claims), req.input(ctx))
		if err != nil {
			writeIngestError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"success": true})
	}
}

// TrackerScript serves the drop-in browser tracker.
func TrackerScript() fasthttp.RequestHandler {
	script := ui.TrackerJS()
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/javascript; charset=utf-8")
		ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
		ctx.Response.Header.Set("Cache-Control", "public, max-age=300")
		ctx.SetBody(script)
	}
}

// Preflight answers CORS OPTIONS requests with an empty 200.
func Preflight() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
}

// decodeBody parses a JSON body regardless of content type; beacons arrive
// as text/plain.
func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		jsonError(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeIngestError sends client errors with their fixed message and hides
// everything else behind a generic 500.
func writeIngestError(ctx *fasthttp.RequestCtx, log logger.Logger, err error) {
	if msg, ok := ingest.ClientMessage(err); ok {
		jsonError(ctx, fasthttp.StatusBadRequest, msg)
		return
	}
	log.Error("ingestion failed", logger.String("path", string(ctx.Path())), logger.Error(err))
	jsonError(ctx, fasthttp.StatusInternalServerError, "Internal server error")
}
