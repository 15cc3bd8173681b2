package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	dbpkg "sitepulse/internal/db"
)

func CreateProject(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		name := strings.TrimSpace(string(ctx.PostArgs().Peek("name")))
		retentionStr := string(ctx.PostArgs().Peek("retention_days"))

		if name == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "name required")
			return
		}

		retentionDays := 0
		if retentionStr != "" {
			v, err := strconv.Atoi(retentionStr)
			if err != nil || v < 0 {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid retention_days")
				return
			}
			if cfg.RetentionDays > 0 && v > cfg.RetentionDays {
				v = cfg.RetentionDays
			}
			retentionDays = v
		}

		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := dbpkg.CreateProject(ctx, db, user.ID, name, retentionDays)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "failed to create project")
			return
		}

		ctx.Redirect("/projects/"+strconv.FormatUint(uint64(p.ID), 10), fasthttp.StatusSeeOther)
	}
}

// DeleteProject removes a project. Only its owner may do this.
func DeleteProject(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, ok := pathID(ctx)
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid project ID")
			return
		}
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		err := dbpkg.DeleteProject(ctx, db, id, user.ID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			errResponse(ctx, fasthttp.StatusNotFound, "project not found")
			return
		case errors.Is(err, dbpkg.ErrNotOwner):
			errResponse(ctx, fasthttp.StatusForbidden, "forbidden")
			return
		case err != nil:
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to delete project")
			return
		}

		ctx.Redirect("/projects", fasthttp.StatusSeeOther)
	}
}
