package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vegeta "github.com/tsenart/vegeta/v12/lib"
	"github.com/valyala/fasthttp"

	"sitepulse/internal/db"
	"sitepulse/internal/logger"
	"sitepulse/internal/tracker"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// seedDatabase creates a migrated SQLite file with one user and returns its URL.
func seedDatabase(t *testing.T, username string) string {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "ctl.db")

	gdb, err := db.Open(url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	_, err = db.CreateUser(context.Background(), gdb, username, "secret-password", true)
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return url
}

func TestProjectLifecycle(t *testing.T) {
	url := seedDatabase(t, "ops")

	out, err := execute(t, "--database", url, "project", "create", "Landing", "--owner", "ops", "--retention", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Created project 1 (Landing)")
	assert.Contains(t, out, "Tracking id: trk_")

	out, err = execute(t, "--database", url, "project", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Landing")
	assert.Contains(t, out, "ops")
	assert.Contains(t, out, "7d")

	_, err = execute(t, "--database", url, "project", "delete", "1", "--owner", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `user "nobody" not found`)

	out, err = execute(t, "--database", url, "project", "delete", "1", "--owner", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted project 1")

	out, err = execute(t, "--database", url, "project", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No projects.")

	_, err = execute(t, "--database", url, "project", "delete", "1", "--owner", "ops")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project 1 not found")
}

func TestProjectDeleteRejectsOtherOwner(t *testing.T) {
	url := seedDatabase(t, "ops")

	gdb, err := db.Open(url)
	require.NoError(t, err)
	other, err := db.CreateUser(context.Background(), gdb, "other", "secret-password", false)
	require.NoError(t, err)
	_, err = db.CreateProject(context.Background(), gdb, other.ID, "Theirs", 0)
	require.NoError(t, err)
	sqlDB, _ := gdb.DB()
	_ = sqlDB.Close()

	_, err = execute(t, "--database", url, "project", "delete", "1", "--owner", "ops")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not owned by ops")
}

func TestAnalyzeUsesStaticSummarizer(t *testing.T) {
	url := seedDatabase(t, "ops")

	out, err := execute(t, "--database", url, "analyze", "--period", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions: 0")
	assert.Contains(t, out, "Automated summary")
	assert.Contains(t, out, "Stored as insight 1")
}

func TestTrackTargeterCyclesEventTypes(t *testing.T) {
	targeter := newTrackTargeter(loadOptions{server: "http://localhost:8080/", trackingID: "trk_load", sessions: 2})

	var (
		types    []string
		sessions = map[string]bool{}
	)
	for i := 0; i < len(loadEventTypes); i++ {
		var tgt vegeta.Target
		require.NoError(t, targeter(&tgt))
		assert.Equal(t, "POST", tgt.Method)
		assert.Equal(t, "http://localhost:8080/track", tgt.URL)
		assert.Equal(t, "application/json", tgt.Header.Get("Content-Type"))

		var p tracker.Payload
		require.NoError(t, json.Unmarshal(tgt.Body, &p))
		assert.Equal(t, "trk_load", p.TrackingID)
		types = append(types, p.EventType)
		sessions[p.SessionID] = true

		switch p.EventType {
		case tracker.EventScroll:
			require.NotNil(t, p.ScrollDepth)
			assert.LessOrEqual(t, *p.ScrollDepth, 100.0)
		case tracker.EventClick:
			require.NotNil(t, p.DurationMs)
		case tracker.EventConversion:
			assert.Equal(t, tracker.ConversionSection, p.SectionName)
		}
	}
	assert.Equal(t, loadEventTypes, types)
	assert.Len(t, sessions, 2)

	assert.ErrorIs(t, targeter(nil), vegeta.ErrNilTarget)
}

type fakeServer struct {
	mu    sync.Mutex
	paths map[string]int
}

func (s *fakeServer) handle(ctx *fasthttp.RequestCtx) {
	s.mu.Lock()
	s.paths[string(ctx.Path())]++
	s.mu.Unlock()

	ctx.SetContentType("application/json")
	if string(ctx.Path()) == "/analytics/session" {
		ctx.SetBodyString(`{"success":true,"session_id":"s","token":"tok"}`)
		return
	}
	ctx.SetBodyString(`{"success":true}`)
}

func (s *fakeServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[path]
}

func startFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fs := &fakeServer{paths: map[string]int{}}
	srv := &fasthttp.Server{Handler: fs.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return fs, "http://" + ln.Addr().String()
}

func TestSimulationWalksThePage(t *testing.T) {
	fs, url := startFakeServer(t)

	stats := runSimulation(context.Background(), simulateOptions{
		server:         url,
		trackingID:     "trk_sim",
		visitors:       3,
		concurrency:    2,
		conversionRate: 1,
		seed:           7,
	}, logger.NewNop())

	assert.EqualValues(t, 3, stats.visitors.Load())
	assert.Zero(t, stats.failed.Load())
	assert.EqualValues(t, fs.count("/track"), stats.sent.Load())
	// At least one page_view and one section view per visitor.
	assert.GreaterOrEqual(t, fs.count("/track"), 6)
	assert.Equal(t, 3, fs.count("/analytics/end-session"))
	assert.Zero(t, fs.count("/analytics/track"))
}

func TestSimulationAuthenticatedUsesTokenPath(t *testing.T) {
	fs, url := startFakeServer(t)

	stats := runSimulation(context.Background(), simulateOptions{
		server:        url,
		trackingID:    "trk_sim",
		visitors:      1,
		concurrency:   1,
		authenticated: true,
		seed:          1,
	}, logger.NewNop())

	assert.Zero(t, stats.failed.Load())
	assert.Equal(t, 1, fs.count("/analytics/session"))
	assert.Zero(t, fs.count("/track"))
	assert.EqualValues(t, fs.count("/analytics/track"), stats.sent.Load())
}

func TestSimulateRequiresTrackingID(t *testing.T) {
	_, err := execute(t, "simulate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tracking-id is required")
}
