// Package insight asks a language model to narrate aggregated engagement
// metrics and stores the result alongside rule-based recommendations.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"sitepulse/internal/analytics"
	"sitepulse/internal/db"
	"sitepulse/internal/logger"
)

// ConfidenceScore is recorded on every stored insight.
const ConfidenceScore = 0.85

// ErrAnalysisFailed wraps any failure that prevents a result from being returned.
var ErrAnalysisFailed = errors.New("analysis failed")

// Request selects what to analyze.
type Request struct {
	Period      string
	SectionName string
	ProjectID   *uint
}

// Result is returned to the caller of Analyze.
type Result struct {
	Success         bool               `json:"success"`
	Metrics         *analytics.Metrics `json:"metrics"`
	Insight         string             `json:"insight"`
	Recommendations []string           `json:"recommendations"`
	// InsightID is zero when storing the insight failed.
	InsightID uint `json:"insightId,omitempty"`
}

// Service runs analyses.
type Service struct {
	db        *gorm.DB
	completer Completer
	log       logger.Logger
	duration  prometheus.Histogram
	now       func() time.Time
}

// NewService builds a Service. reg may be nil.
func NewService(gdb *gorm.DB, completer Completer, log logger.Logger, reg prometheus.Registerer) *Service {
	s := &Service{
		db:        gdb,
		completer: completer,
		log:       log,
		now:       time.Now,
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sitepulse",
			Name:      "analyze_duration_seconds",
			Help:      "Time spent producing an insight, model call included.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(s.duration)
	}
	return s
}

// Analyze fetches the window, computes metrics, asks the completer for a
// narrative and appends an Insight. A failed insert is logged only.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { s.duration.Observe(time.Since(start).Seconds()) }()

	period, window := analytics.ParsePeriod(req.Period)
	since := s.now().Add(-window)

	events, err := db.EventsSince(ctx, s.db, db.EventQuery{
		Since:       since,
		ProjectID:   req.ProjectID,
		SectionName: req.SectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load events: %w", ErrAnalysisFailed, err)
	}
	sessions, err := db.SessionsSince(ctx, s.db, since, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: load sessions: %w", ErrAnalysisFailed, err)
	}

	metrics := analytics.Compute(events, sessions)
	text, err := s.completer.Complete(ctx, analytics.SystemPrompt, analytics.Prompt(metrics, period, req.SectionName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	recs := analytics.Recommendations(metrics)

	row := &db.Insight{
		ProjectID:       req.ProjectID,
		AnalysisType:    db.AnalysisOverall,
		InsightText:     text,
		Recommendation:  strings.Join(recs, "\n"),
		ConfidenceScore: ConfidenceScore,
		DataPeriod:      string(period),
	}
	if req.SectionName != "" {
		row.AnalysisType = db.AnalysisSection
		row.SectionName = &req.SectionName
	}
	if err := db.SaveInsight(ctx, s.db, row); err != nil {
		s.log.Warn("store insight failed", logger.Error(err))
		row.ID = 0
	}

	s.log.Info("analysis complete",
		logger.String("period", string(period)),
		logger.Int("events", len(events)),
		logger.Int("sessions", len(sessions)),
		logger.Duration("took", time.Since(start)),
	)

	if recs == nil {
		recs = []string{}
	}
	return &Result{
		Success:         true,
		Metrics:         metrics,
		Insight:         text,
		Recommendations: recs,
		InsightID:       row.ID,
	}, nil
}

// History returns the most recent stored insights.
func (s *Service) History(ctx context.Context, q db.InsightQuery, limit int) ([]db.Insight, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return db.ListInsights(ctx, s.db, q, limit)
}
