package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordEvent inserts ev and, when sess is non-nil, makes sure the session
// row exists and bumps its event counter. An existing session is never
// overwritten.
func RecordEvent(ctx context.Context, db *gorm.DB, ev *Event, sess *Session) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sess != nil && sess.ID != "" {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sess).Error; err != nil {
				return err
			}
			if err := tx.Model(&Session{}).Where("id = ?", sess.ID).
				UpdateColumn("total_events", gorm.Expr("total_events + ?", 1)).Error; err != nil {
				return err
			}
		}
		return tx.Create(ev).Error
	})
}

// StartSession inserts a session row. Starting an already known session is a no-op.
func StartSession(ctx context.Context, db *gorm.DB, sess *Session) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(sess).Error
}

// EndSession stamps ended_at and the client-reported duration. It reports how
// many rows matched; zero is not an error.
func EndSession(ctx context.Context, db *gorm.DB, sessionID string, durationMs int64, endedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionID).Updates(map[string]any{
		"ended_at":    endedAt.UTC(),
		"duration_ms": durationMs,
	})
	return res.RowsAffected, res.Error
}

// SessionByID loads one session.
func SessionByID(ctx context.Context, db *gorm.DB, id string) (*Session, error) {
	var s Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// EventByID loads one event.
func EventByID(ctx context.Context, db *gorm.DB, id uint) (*Event, error) {
	var e Event
	if err := db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// EventQuery narrows the rows read for aggregation.
type EventQuery struct {
	Since       time.Time
	ProjectID   *uint
	SectionName string
}

// EventsSince returns every event created at or after q.Since, oldest first.
func EventsSince(ctx context.Context, db *gorm.DB, q EventQuery) ([]Event, error) {
	tx := db.WithContext(ctx).Where("created_at >= ?", q.Since.UTC())
	if q.ProjectID != nil {
		tx = tx.Where("project_id = ?", *q.ProjectID)
	}
	if q.SectionName != "" {
		tx = tx.Where("section_name = ?", q.SectionName)
	}
	var events []Event
	if err := tx.Order("created_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SessionsSince returns sessions started at or after since.
func SessionsSince(ctx context.Context, db *gorm.DB, since time.Time, projectID *uint) ([]Session, error) {
	tx := db.WithContext(ctx).Where("started_at >= ?", since.UTC())
	if projectID != nil {
		tx = tx.Where("project_id = ?", *projectID)
	}
	var sessions []Session
	if err := tx.Order("started_at").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecentEvents returns a project's newest events first, optionally of one type,
// together with the total number of matching rows.
func RecentEvents(ctx context.Context, db *gorm.DB, projectID uint, eventType string, limit, offset int) ([]Event, int64, error) {
	q := db.WithContext(ctx).Model(&Event{}).Where("project_id = ?", projectID)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []Event
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Stats are the dashboard counters for one project.
type Stats struct {
	TotalEvents int64 `json:"total_events"`
	Views       int64 `json:"views"`
	Clicks      int64 `json:"clicks"`
	Scrolls     int64 `json:"scrolls"`
	Conversions int64 `json:"conversions"`
	Visitors    int64 `json:"visitors"`
	Sessions    int64 `json:"sessions"`
}

// ProjectStats counts a project's events created at or after since.
func ProjectStats(ctx context.Context, db *gorm.DB, projectID uint, since time.Time) (Stats, error) {
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&Event{}).Where("project_id = ? AND created_at >= ?", projectID, since.UTC())
	}

	type typeCount struct {
		EventType string
		Count     int64
	}
	var rows []typeCount
	if err := base().Select("event_type, count(*) AS count").Group("event_type").Scan(&rows).Error; err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, r := range rows {
		st.TotalEvents += r.Count
		switch r.EventType {
		case EventView, EventPageView:
			st.Views += r.Count
		case EventClick:
			st.Clicks += r.Count
		case EventScroll:
			st.Scrolls += r.Count
		case EventConversion:
			st.Conversions += r.Count
		}
	}

	if err := base().Where("visitor_id <> ''").Distinct("visitor_id").Count(&st.Visitors).Error; err != nil {
		return Stats{}, err
	}
	if err := base().Where("session_id <> ''").Distinct("session_id").Count(&st.Sessions).Error; err != nil {
		return Stats{}, err
	}
	return st, nil
}

// SaveInsight appends an insight row.
func SaveInsight(ctx context.Context, db *gorm.DB, in *Insight) error {
	return db.WithContext(ctx).Create(in).Error
}

// InsightQuery narrows ListInsights. The zero value matches every insight.
type InsightQuery struct {
	ProjectID *uint
	// OwnerID keeps only insights about projects owned by that user.
	OwnerID *uint
}

// ListInsights returns the newest insights first.
func ListInsights(ctx context.Context, db *gorm.DB, q InsightQuery, limit int) ([]Insight, error) {
	tx := db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if q.ProjectID != nil {
		tx = tx.Where("project_id = ?", *q.ProjectID)
	}
	if q.OwnerID != nil {
		owned := db.WithContext(ctx).Model(&Project{}).Select("id").Where("owner_id = ?", *q.OwnerID)
		tx = tx.Where("project_id IN (?)", owned)
	}
	var out []Insight
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
