package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/logger"
)

// rollupHour aggregates events for [bucketStart, bucketStart+1h) into
// TrafficBucket rows. bucketStart must be truncated to the hour in UTC.
func rollupHour(ctx context.Context, db *gorm.DB, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(time.Hour)

	var events []Event
	if err := db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ? AND project_id IS NOT NULL", bucketStart, bucketEnd).
		Select("project_id", "event_type", "session_id").
		Find(&events).Error; err != nil {
		return err
	}

	type counts struct {
		total, views, clicks int64
		sessions             map[string]struct{}
	}
	groups := make(map[uint]*counts)
	for _, e := range events {
		c, ok := groups[*e.ProjectID]
		if !ok {
			c = &counts{sessions: make(map[string]struct{})}
			groups[*e.ProjectID] = c
		}
		c.total++
		switch e.EventType {
		case EventView, EventPageView:
			c.views++
		case EventClick:
			c.clicks++
		}
		if e.SessionID != "" {
			c.sessions[e.SessionID] = struct{}{}
		}
	}

	for projectID, c := range groups {
		row := TrafficBucket{
			ProjectID:    projectID,
			BucketStart:  bucketStart,
			TotalCount:   c.total,
			ViewCount:    c.views,
			ClickCount:   c.clicks,
			SessionCount: int64(len(c.sessions)),
		}
		var existing TrafficBucket
		err := db.WithContext(ctx).Where("project_id = ? AND bucket_start = ?", projectID, bucketStart).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = db.WithContext(ctx).Create(&row).Error
		} else if err == nil {
			err = db.WithContext(ctx).Model(&existing).Updates(map[string]any{
				"total_count":   row.TotalCount,
				"view_count":    row.ViewCount,
				"click_count":   row.ClickCount,
				"session_count": row.SessionCount,
			}).Error
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// TrafficSeries returns a project's hourly buckets starting at or after since.
func TrafficSeries(ctx context.Context, db *gorm.DB, projectID uint, since time.Time) ([]TrafficBucket, error) {
	var buckets []TrafficBucket
	err := db.WithContext(ctx).
		Where("project_id = ? AND bucket_start >= ?", projectID, since.UTC().Truncate(time.Hour)).
		Order("bucket_start").
		Find(&buckets).Error
	return buckets, err
}

// StartRollupWorker rolls up the last 24 completed hours at startup and then
// the previous hour on every tick, until ctx is cancelled. The current hour is
// refreshed on each tick as well so the chart is never more than one interval behind.
func StartRollupWorker(ctx context.Context, db *gorm.DB, log logger.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		now := time.Now().UTC()
		for i := 24; i >= 0; i-- {
			bucketStart := now.Truncate(time.Hour).Add(-time.Duration(i) * time.Hour)
			if err := rollupHour(ctx, db, bucketStart); err != nil {
				log.Warn("rollup failed at startup",
					logger.String("bucket", bucketStart.Format(time.RFC3339)), logger.Error(err))
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				current := t.UTC().Truncate(time.Hour)
				for _, bucketStart := range []time.Time{current.Add(-time.Hour), current} {
					if err := rollupHour(ctx, db, bucketStart); err != nil {
						log.Warn("rollup failed",
							logger.String("bucket", bucketStart.Format(time.RFC3339)), logger.Error(err))
					}
				}
			}
		}
	}()
}
