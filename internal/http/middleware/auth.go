package middleware

import (
	"bytes"
	"strings"

	"github.com/valyala/fasthttp"

	httpctx "sitepulse/internal/http/ctx"
	"sitepulse/internal/token"
)

// SessionAuth validates a Bearer session token issued by the session-start
// endpoint and stores its claims on the context.
func SessionAuth(tokens *token.Manager) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				unauthorized(ctx, "Missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				unauthorized(ctx, "Invalid Authorization header")
				return
			}

			raw := strings.TrimSpace(string(auth[len(prefix):]))
			if raw == "" {
				unauthorized(ctx, "Empty bearer token")
				return
			}

			claims, err := tokens.ValidateSession(raw)
			if err != nil {
				unauthorized(ctx, "Invalid session")
				return
			}

			httpctx.SetSession(ctx, claims)
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"` + msg + `"}`)
}
