package middleware

import (
	"bytes"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	dbpkg "sitepulse/internal/db"
	httpctx "sitepulse/internal/http/ctx"
	"sitepulse/internal/token"
)

// AdminCookie holds the signed dashboard login.
const AdminCookie = "sitepulse_admin"

// AdminAuth returns middleware that validates the login cookie, loads the
// user and sets it on the context. Pages redirect to /login; JSON and
// stream endpoints get a 401 instead.
func AdminAuth(db *gorm.DB, tokens *token.Manager, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			cookie := ctx.Request.Header.Cookie(AdminCookie)
			if len(cookie) == 0 {
				deny(ctx)
				return
			}
			claims, err := tokens.ValidateAdmin(string(cookie))
			if err != nil {
				deny(ctx)
				return
			}

			var user dbpkg.User
			if err := db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
				deny(ctx)
				return
			}
			if user.Username == cfg.AdminUser {
				user.IsAdmin = true
			}

			httpctx.SetUser(ctx, &user)
			next(ctx)
		}
	}
}

func deny(ctx *fasthttp.RequestCtx) {
	path := ctx.Path()
	if bytes.HasPrefix(path, []byte("/v1/")) || bytes.HasPrefix(path, []byte("/analytics/")) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"Unauthorized"}`)
		return
	}
	ctx.Redirect("/login", fasthttp.StatusSeeOther)
}
