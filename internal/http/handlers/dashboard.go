package handlers

import (
	"bytes"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"sitepulse/internal/analytics"
	"sitepulse/internal/config"
	dbpkg "sitepulse/internal/db"
	httpctx "sitepulse/internal/http/ctx"
	"sitepulse/internal/realtime"
	ui "sitepulse/web"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type LayoutData struct {
	Title        string
	Breadcrumb   string
	ActivePage   string
	PageTemplate string
	IsAdmin      bool
	Username     string
	AdminUser    string
	PublicURL    string

	Projects      []ProjectNav
	ActiveProject *dbpkg.Project
	EventTypes    []string
	RetentionDays int

	Users    []dbpkg.User
	Insights []InsightRow
}

type ProjectNav struct {
	ID         uint
	Name       string
	TrackingID string
	Owner      string
	CreatedAt  string
}

type InsightRow struct {
	CreatedAt       string
	Period          string
	Section         string
	Text            string
	Recommendations []string
}

func getLayoutData(ctx *fasthttp.RequestCtx, cfg *config.Config, activePage, breadcrumb, pageTemplate string) LayoutData {
	data := LayoutData{
		Title:         breadcrumb,
		Breadcrumb:    breadcrumb,
		ActivePage:    activePage,
		PageTemplate:  pageTemplate,
		AdminUser:     cfg.AdminUser,
		PublicURL:     cfg.PublicURL(),
		RetentionDays: cfg.RetentionDays,
		EventTypes: []string{
			dbpkg.EventPageView, dbpkg.EventView, dbpkg.EventClick, dbpkg.EventScroll, dbpkg.EventConversion,
		},
	}
	if user, ok := httpctx.UserFromCtx(ctx); ok {
		data.Username = user.Username
		data.IsAdmin = user.IsAdmin || user.Username == cfg.AdminUser
	}
	return data
}

// populateProjectsForLayout fills the sidebar with the projects the user can see.
func populateProjectsForLayout(data *LayoutData, db *gorm.DB, ctx *fasthttp.RequestCtx) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		return
	}
	owner := user.ID
	if data.IsAdmin {
		owner = 0
	}
	projects, err := dbpkg.ListProjects(ctx, db, owner)
	if err != nil {
		return
	}
	data.Projects = make([]ProjectNav, 0, len(projects))
	for _, p := range projects {
		data.Projects = append(data.Projects, ProjectNav{
			ID:         p.ID,
			Name:       p.Name,
			TrackingID: p.TrackingID,
			Owner:      p.Owner.Username,
			CreatedAt:  formatDisplayTime(p.CreatedAt),
		})
	}
}

func renderLayout(ctx *fasthttp.RequestCtx, data LayoutData) {
	var buf bytes.Buffer
	if err := ui.Templates().ExecuteTemplate(&buf, "layout", data); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("render error")
		return
	}
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBody(buf.Bytes())
}

func Dashboard() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.Redirect("/projects", fasthttp.StatusSeeOther)
	}
}

func ProjectsPage(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data := getLayoutData(ctx, cfg, "projects", "Projects", "projects")
		populateProjectsForLayout(&data, db, ctx)
		renderLayout(ctx, data)
	}
}

// ProjectPage renders the realtime dashboard of one project.
func ProjectPage(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := loadProject(ctx, db)
		if !ok {
			return
		}
		data := getLayoutData(ctx, cfg, "project", p.Name, "project")
		data.ActiveProject = p
		data.RetentionDays = p.Retention(cfg.RetentionDays)
		populateProjectsForLayout(&data, db, ctx)

		if rows, err := dbpkg.ListInsights(ctx, db, dbpkg.InsightQuery{ProjectID: &p.ID}, 5); err == nil {
			for _, r := range rows {
				section := "all sections"
				if r.SectionName != nil {
					section = *r.SectionName
				}
				data.Insights = append(data.Insights, InsightRow{
					CreatedAt:       formatDisplayTime(r.CreatedAt),
					Period:          r.DataPeriod,
					Section:         section,
					Text:            r.InsightText,
					Recommendations: splitLines(r.Recommendation),
				})
			}
		}
		renderLayout(ctx, data)
	}
}

func UsersPage(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		isAdmin := user.IsAdmin || user.Username == cfg.AdminUser
		if !isAdmin {
			errResponse(ctx, fasthttp.StatusForbidden, "forbidden")
			return
		}

		var users []dbpkg.User
		if err := db.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load users")
			return
		}

		data := getLayoutData(ctx, cfg, "users", "Users", "users")
		data.Users = users
		populateProjectsForLayout(&data, db, ctx)
		renderLayout(ctx, data)
	}
}

// ProjectEvents lists a project's newest events, optionally of one type.
func ProjectEvents(db *gorm.DB) fasthttp.RequestHandler {
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
		offset := queryInt(ctx, "offset", 0)

		events, total, err := dbpkg.RecentEvents(ctx, db, p.ID, eventType, limit, offset)
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load events")
			return
		}
		jsonResponse(ctx, map[string]any{
			"events": realtime.RowsFromEvents(events),
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// ProjectStats returns the server-side counters and section metrics for
// the requested range. The dashboard never derives these itself.
func ProjectStats(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := loadProject(ctx, db)
		if !ok {
			return
		}
		since := parseRange(ctx, time.Now())

		stats, err := dbpkg.ProjectStats(ctx, db, p.ID, since)
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load stats")
			return
		}
		events, err := dbpkg.EventsSince(ctx, db, dbpkg.EventQuery{Since: since, ProjectID: &p.ID})
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load events")
			return
		}
		sessions, err := dbpkg.SessionsSince(ctx, db, since, &p.ID)
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load sessions")
			return
		}

		jsonResponse(ctx, map[string]any{
			"since":   formatAPITime(since),
			"stats":   stats,
			"metrics": analytics.Compute(events, sessions),
		})
	}
}

type trafficPoint struct {
	Bucket   string `json:"bucket"`
	Total    int64  `json:"total"`
	Views    int64  `json:"views"`
	Clicks   int64  `json:"clicks"`
	Sessions int64  `json:"sessions"`
}

// ProjectTraffic returns the hourly rollup buckets for the chart.
func ProjectTraffic(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := loadProject(ctx, db)
		if !ok {
			return
		}
		since := parseRange(ctx, time.Now()).Truncate(time.Hour)

		buckets, err := dbpkg.TrafficSeries(ctx, db, p.ID, since)
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load traffic")
			return
		}
		points := make([]trafficPoint, 0, len(buckets))
		for _, b := range buckets {
			points = append(points, trafficPoint{
				Bucket:   formatAPITime(b.BucketStart),
				Total:    b.TotalCount,
				Views:    b.ViewCount,
				Clicks:   b.ClickCount,
				Sessions: b.SessionCount,
			})
		}
		jsonResponse(ctx, map[string]any{"points": points})
	}
}
