package handlers

import (
	"bufio"
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "sitepulse/internal/db"
	"sitepulse/internal/logger"
	"sitepulse/internal/realtime"
)

const streamHeartbeat = 15 * time.Second

// ProjectStream pushes a project's inserts as server-sent events. The
// first frame is a snapshot of the newest events; after that each insert
// is sent as it happens. Nothing missed while disconnected is replayed.
func ProjectStream(db *gorm.DB, sub realtime.Subscriber, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := loadProject(ctx, db)
		if !ok {
			return
		}
		eventType := string(ctx.QueryArgs().Peek("type"))
		limit := min(queryInt(ctx, "limit", defaultEventLimit), maxEventLimit)
		if limit == 0 {
			limit = defaultEventLimit
		}

		// Subscribe before reading the seed so an insert racing the query
		// is at worst shown twice, never lost.
		streamCtx, cancel := context.WithCancel(context.Background())
		feed := realtime.WatchProject(streamCtx, sub, p.ID, nil, limit)

		events, _, err := dbpkg.RecentEvents(ctx, db, p.ID, eventType, limit, 0)
		if err != nil {
			feed.Close()
			cancel()
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load events")
			return
		}
		seed := realtime.RowsFromEvents(events)
		projectID := p.ID

		ctx.SetContentType("text/event-stream")
		ctx.Response.Header.Set("Cache-Control", "no-cache")
		ctx.Response.Header.Set("Connection", "keep-alive")
		ctx.Response.Header.Set("X-Accel-Buffering", "no")

		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			defer feed.Close()

			if err := realtime.WriteSSE(w, realtime.TypeSnapshot, map[string]any{"project_id": projectID, "events": seed}); err != nil {
				return
			}

			heartbeat := time.NewTicker(streamHeartbeat)
			defer heartbeat.Stop()

			for {
				select {
				case row, ok := <-feed.Inserted():
					if !ok {
						return
					}
					if eventType != "" && row.EventType != eventType {
						continue
					}
					if err := realtime.WriteSSE(w, realtime.TypeEventInserted, row); err != nil {
						log.Debug("stream client gone", logger.Uint("project_id", projectID), logger.Error(err))
						return
					}
				case <-feed.Lagged():
					// Some inserts never reached this stream; resend the current window.
					events, _, err := dbpkg.RecentEvents(streamCtx, db, projectID, eventType, limit, 0)
					if err != nil {
						log.Warn("stream resync failed", logger.Uint("project_id", projectID), logger.Error(err))
						continue
					}
					snapshot := map[string]any{"project_id": projectID, "events": realtime.RowsFromEvents(events)}
					if err := realtime.WriteSSE(w, realtime.TypeSnapshot, snapshot); err != nil {
						return
					}
				case <-heartbeat.C:
					if err := realtime.WriteSSEComment(w, realtime.TypeHeartbeat); err != nil {
						return
					}
				}
			}
		})
	}
}
