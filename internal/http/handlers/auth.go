package handlers

import (
	"bytes"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	dbpkg "sitepulse/internal/db"
	"sitepulse/internal/http/middleware"
	"sitepulse/internal/logger"
	"sitepulse/internal/token"
	ui "sitepulse/web"
)

func LoginForm() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		t := ui.Templates().Lookup("login.html")
		if t == nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "login template not found")
			return
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, nil); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "render error")
			return
		}
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetBody(buf.Bytes())
	}
}

// LoginSubmit checks the credentials and sets a signed admin cookie.
func LoginSubmit(db *gorm.DB, tokens *token.Manager, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		username := string(ctx.PostArgs().Peek("username"))
		password := string(ctx.PostArgs().Peek("password"))

		user, err := dbpkg.Authenticate(ctx, db, username, password)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			renderLoginError(ctx, "Invalid username or password.")
			return
		}
		if err != nil {
			log.Error("login lookup failed", logger.Error(err))
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}

		signed, err := tokens.IssueAdmin(user.ID, user.Username)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to sign session")
			return
		}

		var c fasthttp.Cookie
		c.SetKey(middleware.AdminCookie)
		c.SetValue(signed)
		c.SetPath("/")
		c.SetHTTPOnly(true)
		c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
		c.SetExpire(time.Now().Add(token.DefaultAdminTTL))
		ctx.Response.Header.SetCookie(&c)

		log.Info("login", logger.String("username", user.Username))
		ctx.Redirect("/", fasthttp.StatusSeeOther)
	}
}

func renderLoginError(ctx *fasthttp.RequestCtx, errMsg string) {
	t := ui.Templates().Lookup("login.html")
	if t != nil {
		var buf bytes.Buffer
		_ = t.Execute(&buf, map[string]any{"Error": errMsg})
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetBody(buf.Bytes())
	} else {
		errResponse(ctx, fasthttp.StatusUnauthorized, errMsg)
	}
}

func Logout() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var c fasthttp.Cookie
		c.SetKey(middleware.AdminCookie)
		c.SetValue("")
		c.SetPath("/")
		c.SetMaxAge(-1)
		ctx.Response.Header.SetCookie(&c)
		ctx.Redirect("/login", fasthttp.StatusSeeOther)
	}
}

// ChangePasswordSelf lets a logged-in user replace their own password.
func ChangePasswordSelf(db *gorm.DB, adminUser string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		if user.Username == adminUser {
			errResponse(ctx, fasthttp.StatusForbidden, "cannot change password for bootstrap admin user")
			return
		}

		current := string(ctx.PostArgs().Peek("current_password"))
		newPassword := string(ctx.PostArgs().Peek("new_password"))
		confirm := string(ctx.PostArgs().Peek("confirm_password"))

		if current == "" || newPassword == "" || confirm == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "all password fields are required")
			return
		}
		if newPassword != confirm {
			errResponse(ctx, fasthttp.StatusBadRequest, "new passwords do not match")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
			errResponse(ctx, fasthttp.StatusUnauthorized, "current password is incorrect")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to hash password")
			return
		}
		if err := db.WithContext(ctx).Model(&dbpkg.User{}).Where("id = ?", user.ID).Update("password_hash", string(hash)).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update password")
			return
		}

		ctx.Redirect("/projects", fasthttp.StatusSeeOther)
	}
}
