package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "sitepulse/internal/db"
	httpctx "sitepulse/internal/http/ctx"
)

// MustUser returns the current user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("unauthorized")
		return nil, false
	}
	return user, true
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, err := json.Marshal(data)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"Internal server error"}`)
		return
	}
	ctx.SetBody(body)
}

// jsonError writes {"error": msg}. Analytics routes always answer in JSON.
func jsonError(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	jsonResponse(ctx, map[string]any{"error": msg})
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// pathID parses the {id} route parameter.
func pathID(ctx *fasthttp.RequestCtx) (uint, bool) {
	idStr, ok := ctx.UserValue("id").(string)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(ctx *fasthttp.RequestCtx, key string, def int) int {
	if v := string(ctx.QueryArgs().Peek(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// parseRange reads "hours" (float, e.g. 0.5 or 1) or "days" (int) from the
// query and returns the cutoff time. The default is one day.
func parseRange(ctx *fasthttp.RequestCtx, now time.Time) time.Time {
	if h := string(ctx.QueryArgs().Peek("hours")); h != "" {
		if f, err := strconv.ParseFloat(h, 64); err == nil && f > 0 {
			return now.Add(-time.Duration(f * float64(time.Hour)))
		}
	}
	days := queryInt(ctx, "days", 0)
	if days == 0 {
		days = 1
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// loadProject resolves {id} to a project the current user may see: its
// owner or an admin. It writes the error response itself.
func loadProject(ctx *fasthttp.RequestCtx, db *gorm.DB) (*dbpkg.Project, bool) {
	user, ok := MustUser(ctx)
	if !ok {
		return nil, false
	}
	id, ok := pathID(ctx)
	if !ok {
		jsonError(ctx, fasthttp.StatusBadRequest, "invalid project ID")
		return nil, false
	}
	return authorizeProject(ctx, db, user, id)
}

// authorizeProject loads project id if user owns it or is an admin.
func authorizeProject(ctx *fasthttp.RequestCtx, db *gorm.DB, user *dbpkg.User, id uint) (*dbpkg.Project, bool) {
	p, err := dbpkg.ProjectByID(ctx, db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		jsonError(ctx, fasthttp.StatusNotFound, "project not found")
		return nil, false
	}
	if err != nil {
		jsonError(ctx, fasthttp.StatusInternalServerError, "database error")
		return nil, false
	}
	if p.OwnerID != user.ID && !user.IsAdmin {
		jsonError(ctx, fasthttp.StatusForbidden, "forbidden")
		return nil, false
	}
	return p, true
}
