// Package ctx stores per-request values on a fasthttp.RequestCtx.
package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "sitepulse/internal/db"
	"sitepulse/internal/token"
)

const (
	UserKey    = "user"
	SessionKey = "trackingSession"
)

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	u, ok := ctx.UserValue(UserKey).(*dbpkg.User)
	return u, ok && u != nil
}

// SetSession stores the claims of a validated session token.
func SetSession(ctx *fasthttp.RequestCtx, claims *token.SessionClaims) {
	ctx.SetUserValue(SessionKey, claims)
}

func SessionFromCtx(ctx *fasthttp.RequestCtx) (*token.SessionClaims, bool) {
	c, ok := ctx.UserValue(SessionKey).(*token.SessionClaims)
	return c, ok && c != nil
}
