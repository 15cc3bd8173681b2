package handlers

import (
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	dbpkg "sitepulse/internal/db"
)

func CreateUser(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !requireAdmin(ctx) {
			return
		}
		username := string(ctx.PostArgs().Peek("username"))
		password := string(ctx.PostArgs().Peek("password"))
		isAdmin := string(ctx.PostArgs().Peek("is_admin")) == "true"

		if username == "" || password == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "username and password required")
			return
		}

		if _, err := dbpkg.CreateUser(ctx, db, username, password, isAdmin); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "failed to create user (username may already exist)")
			return
		}

		ctx.Redirect("/users", fasthttp.StatusSeeOther)
	}
}

func ResetPassword(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := targetUser(ctx, db, cfg)
		if !ok {
			return
		}

		password := string(ctx.PostArgs().Peek("password"))
		if password == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "password required")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to hash password")
			return
		}
		if err := db.WithContext(ctx).Model(user).Update("password_hash", string(hash)).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update password")
			return
		}

		ctx.Redirect("/users", fasthttp.StatusSeeOther)
	}
}

// DeleteUser removes a user. Users that still own projects cannot be deleted.
func DeleteUser(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := targetUser(ctx, db, cfg)
		if !ok {
			return
		}

		var owned int64
		if err := db.WithContext(ctx).Model(&dbpkg.Project{}).Where("owner_id = ?", user.ID).Count(&owned).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}
		if owned > 0 {
			errResponse(ctx, fasthttp.StatusConflict, "user still owns projects")
			return
		}

		if err := db.WithContext(ctx).Delete(user).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to delete user")
			return
		}

		ctx.Redirect("/users", fasthttp.StatusSeeOther)
	}
}

func requireAdmin(ctx *fasthttp.RequestCtx) bool {
	user, ok := MustUser(ctx)
	if !ok {
		return false
	}
	if !user.IsAdmin {
		errResponse(ctx, fasthttp.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// targetUser loads the {id} user for an admin action. The bootstrap admin
// is never a valid target.
func targetUser(ctx *fasthttp.RequestCtx, db *gorm.DB, cfg *config.Config) (*dbpkg.User, bool) {
	if !requireAdmin(ctx) {
		return nil, false
	}
	id, ok := pathID(ctx)
	if !ok {
		errResponse(ctx, fasthttp.StatusBadRequest, "invalid user ID")
		return nil, false
	}

	var user dbpkg.User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		errResponse(ctx, fasthttp.StatusNotFound, "user not found")
		return nil, false
	}
	if user.Username == cfg.AdminUser {
		errResponse(ctx, fasthttp.StatusForbidden, "cannot modify bootstrap admin user")
		return nil, false
	}
	return &user, true
}
