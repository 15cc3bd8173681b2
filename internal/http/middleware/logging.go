package middleware

import (
	"time"

	"github.com/valyala/fasthttp"

	"sitepulse/internal/logger"
)

// RequestLogger logs method, path, status and duration for every request.
func RequestLogger(log logger.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			log.Info("request",
				logger.String("method", string(ctx.Method())),
				logger.String("path", string(ctx.Path())),
				logger.Int("status", ctx.Response.StatusCode()),
				logger.Duration("duration", time.Since(start)),
				logger.String("ip", ctx.RemoteIP().String()),
			)
		}
	}
}

// Recover turns a panic into a generic 500 and logs the detail.
func Recover(log logger.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic",
						logger.String("path", string(ctx.Path())),
						logger.Any("panic", r),
					)
					ctx.ResetBody()
					ctx.SetStatusCode(fasthttp.StatusInternalServerError)
					ctx.SetContentType("application/json")
					ctx.SetBodyString(`{"error":"Internal server error"}`)
				}
			}()
			next(ctx)
		}
	}
}
