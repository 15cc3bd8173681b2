package handlers

import (
	"github.com/valyala/fasthttp"

	"sitepulse/internal/ingest"
	"sitepulse/internal/logger"
)

type startSessionRequest struct {
	SessionID      string `json:"session_id"`
	VisitorID      string `json:"visitor_id"`
	TrackingID     string `json:"tracking_id"`
	UserAgent      string `json:"user_agent"`
	Referrer       string `json:"referrer"`
	Language       string `json:"language"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
}

// StartSession opens a visit and returns a token for /analytics/track.
func StartSession(svc *ingest.Service, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req startSessionRequest
		if !decodeBody(ctx, &req) {
			return
		}
		if req.UserAgent == "" {
			req.UserAgent = string(ctx.UserAgent())
		}
		if req.Referrer == "" {
			req.Referrer = string(ctx.Referer())
		}

		started, err := svc.StartSession(ctx, ingest.StartInput{
			SessionID:      req.SessionID,
			VisitorID:      req.VisitorID,
			TrackingID:     req.TrackingID,
			UserAgent:      req.UserAgent,
			Referrer:       req.Referrer,
			Language:       req.Language,
			ViewportWidth:  req.ViewportWidth,
			ViewportHeight: req.ViewportHeight,
		})
		if err != nil {
			writeIngestError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{
			"success":    true,
			"session_id": started.SessionID,
			"token":      started.Token,
		})
	}
}

type endSessionRequest struct {
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
}

// EndSession records the unload beacon. Unknown sessions still succeed.
func EndSession(svc *ingest.Service, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req endSessionRequest
		if !decodeBody(ctx, &req) {
			return
		}
		if err := svc.EndSession(ctx, req.SessionID, req.DurationMs); err != nil {
			writeIngestError(ctx, log, err)
			return
		}
		jsonResponse(ctx, map[string]any{"success": true})
	}
}
