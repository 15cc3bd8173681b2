package handlers

import (
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "sitepulse/internal/db"
	"sitepulse/internal/realtime"
)

// EventDetail returns one event of a project together with its session.
func EventDetail(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := loadProject(ctx, db)
		if !ok {
			return
		}
		idStr, _ := ctx.UserValue("eventId").(string)
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			jsonError(ctx, fasthttp.StatusBadRequest, "invalid event ID")
			return
		}

		e, err := dbpkg.EventByID(ctx, db, uint(id))
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (e.ProjectID == nil || *e.ProjectID != p.ID)) {
			jsonError(ctx, fasthttp.StatusNotFound, "event not found")
			return
		}
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load event")
			return
		}

		resp := map[string]any{
			"event":              realtime.RowFromEvent(e),
			"created_at_display": formatDisplayTime(e.CreatedAt),
			"expires_at":         e.ExpiresAt,
			"occurred_at":        e.OccurredAt,
		}
		if e.SessionID != "" {
			if s, err := dbpkg.SessionByID(ctx, db, e.SessionID); err == nil {
				resp["session"] = map[string]any{
					"id":           s.ID,
					"started_at":   formatAPITime(s.StartedAt),
					"ended_at":     s.EndedAt,
					"duration_ms":  s.DurationMs,
					"device_type":  s.DeviceType,
					"user_agent":   s.UserAgent,
					"referrer":     s.Referrer,
					"total_events": s.TotalEvents,
				}
			}
		}
		jsonResponse(ctx, resp)
	}
}
