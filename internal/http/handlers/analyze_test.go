package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	dbpkg "sitepulse/internal/db"
	"sitepulse/internal/db/dbtest"
	"sitepulse/internal/http/handlers"
	"sitepulse/internal/ingest"
	"sitepulse/internal/insight"
	"sitepulse/internal/logger"
)

type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, string, string) (string, error) {
	return "", errors.New("upstream unavailable")
}

func TestAnalyzeStoresInsight(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Track(context.Background(), ingest.PublicToken{TrackingID: f.project.TrackingID},
		ingest.Input{EventType: "view", SectionName: "hero", SessionID: "a"})
	require.NoError(t, err)

	svc := insight.NewService(f.db, insight.StaticCompleter{}, logger.NewNop(), nil)
	body := fmt.Sprintf(`{"period":"7d","projectId":%d}`, f.project.ID)
	ctx := asUser(newRequest("POST", "/analytics/analyze", body), f.owner, 0)
	handlers.Analyze(f.db, svc, logger.NewNop())(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	out := decode(t, ctx)
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["insight"], "Automated summary")
	assert.EqualValues(t, 1, out["insightId"])

	ctx = asUser(newRequest("GET", fmt.Sprintf("/analytics/insights?project=%d", f.project.ID), ""), f.owner, 0)
	handlers.Insights(f.db, svc)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	list, ok := decode(t, ctx)["insights"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	row := list[0].(map[string]any)
	assert.Equal(t, "7d", row["data_period"])
	assert.Equal(t, "overall_analysis", row["analysis_type"])
	assert.InDelta(t, insight.ConfidenceScore, row["confidence_score"], 1e-9)
}

func TestAnalyzeHidesCompleterFailure(t *testing.T) {
	f := newFixture(t)
	svc := insight.NewService(f.db, failingCompleter{}, logger.NewNop(), nil)

	body := fmt.Sprintf(`{"period":"24h","projectId":%d}`, f.project.ID)
	ctx := asUser(newRequest("POST", "/analytics/analyze", body), f.owner, 0)
	handlers.Analyze(f.db, svc, logger.NewNop())(ctx)

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"Analysis failed"}`, string(ctx.Response.Body()))
}

func TestAnalyzeRefusesOtherTenants(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Track(context.Background(), ingest.PublicToken{TrackingID: f.project.TrackingID},
		ingest.Input{EventType: "click", SectionName: "secret-pricing", SessionID: "a"})
	require.NoError(t, err)
	svc := insight.NewService(f.db, insight.StaticCompleter{}, logger.NewNop(), nil)
	intruder := dbtest.Owner(t, f.db, "intruder")

	body := fmt.Sprintf(`{"period":"7d","projectId":%d}`, f.project.ID)
	ctx := asUser(newRequest("POST", "/analytics/analyze", body), intruder, 0)
	handlers.Analyze(f.db, svc, logger.NewNop())(ctx)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "secret-pricing")

	ctx = asUser(newRequest("POST", "/analytics/analyze", `{"period":"7d","projectId":999}`), intruder, 0)
	handlers.Analyze(f.db, svc, logger.NewNop())(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = asUser(newRequest("POST", "/analytics/analyze", `{"period":"7d"}`), intruder, 0)
	handlers.Analyze(f.db, svc, logger.NewNop())(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"projectId is required"}`, string(ctx.Response.Body()))

	var stored int64
	require.NoError(t, f.db.Model(&dbpkg.Insight{}).Count(&stored).Error)
	assert.Zero(t, stored)

	admin := *intruder
	admin.IsAdmin = true
	ctx = asUser(newRequest("POST", "/analytics/analyze", `{"period":"7d"}`), &admin, 0)
	handlers.Analyze(f.db, svc, logger.NewNop())(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestInsightsScopedToOwnProjects(t *testing.T) {
	f := newFixture(t)
	svc := insight.NewService(f.db, insight.StaticCompleter{}, logger.NewNop(), nil)
	_, err := svc.Analyze(context.Background(), insight.Request{ProjectID: &f.project.ID})
	require.NoError(t, err)

	intruder := dbtest.Owner(t, f.db, "intruder")
	theirs, err := dbpkg.CreateProject(context.Background(), f.db, intruder.ID, "Theirs", 0)
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), insight.Request{ProjectID: &theirs.ID})
	require.NoError(t, err)

	ctx := asUser(newRequest("GET", fmt.Sprintf("/analytics/insights?project=%d", f.project.ID), ""), intruder, 0)
	handlers.Insights(f.db, svc)(ctx)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = asUser(newRequest("GET", "/analytics/insights", ""), intruder, 0)
	handlers.Insights(f.db, svc)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	list := decode(t, ctx)["insights"].([]any)
	require.Len(t, list, 1)
	assert.EqualValues(t, theirs.ID, list[0].(map[string]any)["project_id"])

	admin := *intruder
	admin.IsAdmin = true
	ctx = asUser(newRequest("GET", "/analytics/insights", ""), &admin, 0)
	handlers.Insights(f.db, svc)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Len(t, decode(t, ctx)["insights"], 2)
}

func TestEventDetailScopedToProject(t *testing.T) {
	f := newFixture(t)
	ev, err := f.svc.Track(context.Background(), ingest.PublicToken{TrackingID: f.project.TrackingID},
		ingest.Input{EventType: "click", SectionName: "pricing", SessionID: "sess-9"})
	require.NoError(t, err)

	ctx := asUser(newRequest("GET", "/v1/projects/1/events/1", ""), f.owner, f.project.ID)
	ctx.SetUserValue("eventId", fmt.Sprint(ev.ID))
	handlers.EventDetail(f.db)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	out := decode(t, ctx)
	event := out["event"].(map[string]any)
	assert.Equal(t, "click", event["event_type"])
	assert.Equal(t, "pricing", event["section_name"])
	session := out["session"].(map[string]any)
	assert.Equal(t, "sess-9", session["id"])

	ctx = asUser(newRequest("GET", "/v1/projects/1/events/abc", ""), f.owner, f.project.ID)
	ctx.SetUserValue("eventId", "abc")
	handlers.EventDetail(f.db)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = asUser(newRequest("GET", "/v1/projects/1/events/999", ""), f.owner, f.project.ID)
	ctx.SetUserValue("eventId", "999")
	handlers.EventDetail(f.db)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
