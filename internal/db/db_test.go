package db_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/db"
	"sitepulse/internal/db/dbtest"
)

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := db.Open("mysql://localhost/x")
	require.Error(t, err)

	_, err = db.Open("")
	require.Error(t, err)

	_, err = db.Open("sqlite://")
	require.Error(t, err)
}

func TestEnsureBootstrapAdminIsIdempotent(t *testing.T) {
	gdb := dbtest.Open(t)
	cfg := &config.Config{AdminUser: "root", AdminPassword: "hunter22"}

	require.NoError(t, db.EnsureBootstrapAdmin(gdb, cfg))
	require.NoError(t, db.EnsureBootstrapAdmin(gdb, cfg))

	var count int64
	require.NoError(t, gdb.Model(&db.User{}).Where("username = ?", "root").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	u, err := db.Authenticate(context.Background(), gdb, "root", "hunter22")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	_, err = db.Authenticate(context.Background(), gdb, "root", "wrong")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCreateProjectIssuesTrackingID(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	owner := dbtest.Owner(t, gdb, "alice")

	p, err := db.CreateProject(ctx, gdb, owner.ID, "marketing", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.TrackingID, "trk_"))
	assert.Len(t, p.TrackingID, len("trk_")+8)

	found, err := db.ProjectByTrackingID(ctx, gdb, p.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = db.ProjectByTrackingID(ctx, gdb, "trk_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteProjectRequiresOwner(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	p := dbtest.Project(t, gdb, "site")
	other := dbtest.Owner(t, gdb, "mallory")

	err := db.DeleteProject(ctx, gdb, p.ID, other.ID)
	assert.ErrorIs(t, err, db.ErrNotOwner)

	require.NoError(t, db.DeleteProject(ctx, gdb, p.ID, p.OwnerID))
	_, err = db.ProjectByID(ctx, gdb, p.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestListProjectsFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	a := dbtest.Project(t, gdb, "a")
	dbtest.Project(t, gdb, "b")

	mine, err := db.ListProjects(ctx, gdb, a.OwnerID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].Name)
	assert.Equal(t, "a-owner", mine[0].Owner.Username)

	all, err := db.ListProjects(ctx, gdb, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecordEventCreatesSessionOnce(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	p := dbtest.Project(t, gdb, "site")

	for i := 0; i < 3; i++ {
		ev := &db.Event{ProjectID: &p.ID, EventType: db.EventClick, SessionID: "s-1", VisitorID: "usr_abcdefgh"}
		sess := &db.Session{ID: "s-1", ProjectID: &p.ID, VisitorID: "usr_abcdefgh", StartedAt: time.Now()}
		require.NoError(t, db.RecordEvent(ctx, gdb, ev, sess))
	}

	s, err := db.SessionByID(ctx, gdb, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.TotalEvents)

	var n int64
	require.NoError(t, gdb.Model(&db.Event{}).Count(&n).Error)
	assert.EqualValues(t, 3, n)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)

	require.NoError(t, db.StartSession(ctx, gdb, &db.Session{ID: "s-9", StartedAt: time.Now().Add(-time.Minute)}))

	n, err := db.EndSession(ctx, gdb, "s-9", 60000, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	s, err := db.SessionByID(ctx, gdb, "s-9")
	require.NoError(t, err)
	require.NotNil(t, s.EndedAt)
	require.NotNil(t, s.DurationMs)
	assert.EqualValues(t, 60000, *s.DurationMs)
	assert.False(t, s.EndedAt.Before(s.StartedAt))

	n, err = db.EndSession(ctx, gdb, "never-started", 10, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProjectStatsAndRecentEvents(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	p := dbtest.Project(t, gdb, "site")
	other := dbtest.Project(t, gdb, "other")

	insert := func(projectID uint, typ, session, visitor string) {
		ev := &db.Event{ProjectID: &projectID, EventType: typ, SessionID: session, VisitorID: visitor}
		require.NoError(t, db.RecordEvent(ctx, gdb, ev, nil))
	}
	insert(p.ID, db.EventPageView, "s1", "v1")
	insert(p.ID, db.EventView, "s1", "v1")
	insert(p.ID, db.EventClick, "s1", "v1")
	insert(p.ID, db.EventClick, "s2", "v2")
	insert(p.ID, db.EventConversion, "s2", "v2")
	insert(p.ID, db.EventScroll, "", "")
	insert(other.ID, db.EventClick, "s3", "v3")

	st, err := db.ProjectStats(ctx, gdb, p.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, db.Stats{TotalEvents: 6, Views: 2, Clicks: 2, Scrolls: 1, Conversions: 1, Visitors: 2, Sessions: 2}, st)

	events, total, err := db.RecentEvents(ctx, gdb, p.ID, "", 3, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 6, total)
	require.Len(t, events, 3)
	assert.Equal(t, db.EventScroll, events[0].EventType)

	clicks, total, err := db.RecentEvents(ctx, gdb, p.ID, db.EventClick, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, clicks, 2)
}

func TestEventsSinceFilters(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	p := dbtest.Project(t, gdb, "site")

	old := &db.Event{ProjectID: &p.ID, EventType: db.EventClick, SectionName: "hero", CreatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, db.RecordEvent(ctx, gdb, old, nil))
	for _, section := range []string{"hero", "pricing"} {
		require.NoError(t, db.RecordEvent(ctx, gdb, &db.Event{ProjectID: &p.ID, EventType: db.EventClick, SectionName: section}, nil))
	}
	require.NoError(t, db.RecordEvent(ctx, gdb, &db.Event{EventType: db.EventClick, SectionName: "hero"}, nil))

	since := time.Now().Add(-24 * time.Hour)

	all, err := db.EventsSince(ctx, gdb, db.EventQuery{Since: since})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hero, err := db.EventsSince(ctx, gdb, db.EventQuery{Since: since, ProjectID: &p.ID, SectionName: "hero"})
	require.NoError(t, err)
	assert.Len(t, hero, 1)
}

func TestInsightsNewestFirst(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)

	for _, text := range []string{"first", "second"} {
		require.NoError(t, db.SaveInsight(ctx, gdb, &db.Insight{AnalysisType: db.AnalysisOverall, InsightText: text, ConfidenceScore: 0.85, DataPeriod: "24h"}))
	}

	list, err := db.ListInsights(ctx, gdb, db.InsightQuery{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].InsightText)
}
