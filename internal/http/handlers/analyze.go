package handlers

import (
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "sitepulse/internal/db"
	"sitepulse/internal/insight"
	"sitepulse/internal/logger"
)

type analyzeRequest struct {
	Period      string `json:"period"`
	SectionName string `json:"sectionName"`
	ProjectID   *uint  `json:"projectId"`
}

// Analyze runs the insight generator over one project the caller may see.
// Only admins may omit projectId and analyze every project. Any failure of
// the generator is a 500 without detail.
func Analyze(db *gorm.DB, svc *insight.Service, log logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		var req analyzeRequest
		if body := ctx.PostBody(); len(body) > 0 && !decodeBody(ctx, &req) {
			return
		}
		if req.ProjectID != nil {
			if _, ok := authorizeProject(ctx, db, user, *req.ProjectID); !ok {
				return
			}
		} else if !user.IsAdmin {
			jsonError(ctx, fasthttp.StatusBadRequest, "projectId is required")
			return
		}

		res, err := svc.Analyze(ctx, insight.Request{
			Period:      req.Period,
			SectionName: req.SectionName,
			ProjectID:   req.ProjectID,
		})
		if err != nil {
			log.Error("analysis failed", logger.Error(err))
			jsonError(ctx, fasthttp.StatusInternalServerError, "Analysis failed")
			return
		}
		jsonResponse(ctx, res)
	}
}

type insightView struct {
	ID              uint     `json:"id"`
	CreatedAt       string   `json:"created_at"`
	ProjectID       *uint    `json:"project_id,omitempty"`
	AnalysisType    string   `json:"analysis_type"`
	SectionName     *string  `json:"section_name,omitempty"`
	InsightText     string   `json:"insight_text"`
	Recommendations []string `json:"recommendations"`
	ConfidenceScore float64  `json:"confidence_score"`
	DataPeriod      string   `json:"data_period"`
}

// Insights lists stored analyses, newest first. Non-admins only see
// insights about their own projects.
func Insights(db *gorm.DB, svc *insight.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		var q dbpkg.InsightQuery
		if id := queryInt(ctx, "project", 0); id > 0 {
			p, ok := authorizeProject(ctx, db, user, uint(id))
			if !ok {
				return
			}
			q.ProjectID = &p.ID
		} else if !user.IsAdmin {
			q.OwnerID = &user.ID
		}

		rows, err := svc.History(ctx, q, queryInt(ctx, "limit", 20))
		if err != nil {
			jsonError(ctx, fasthttp.StatusInternalServerError, "failed to load insights")
			return
		}

		out := make([]insightView, 0, len(rows))
		for _, r := range rows {
			out = append(out, insightView{
				ID:              r.ID,
				CreatedAt:       formatAPITime(r.CreatedAt),
				ProjectID:       r.ProjectID,
				AnalysisType:    r.AnalysisType,
				SectionName:     r.SectionName,
				InsightText:     r.InsightText,
				Recommendations: splitLines(r.Recommendation),
				ConfidenceScore: r.ConfidenceScore,
				DataPeriod:      r.DataPeriod,
			})
		}
		jsonResponse(ctx, map[string]any{"insights": out})
	}
}
