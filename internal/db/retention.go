package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/logger"
)

// ExpiryFor returns when an event received at createdAt may be deleted, or
// nil when retentionDays is zero.
func ExpiryFor(createdAt time.Time, retentionDays int) *time.Time {
	if retentionDays <= 0 {
		return nil
	}
	t := createdAt.Add(time.Duration(retentionDays) * 24 * time.Hour)
	return &t
}

// purgeExpired deletes events whose ExpiresAt is in the past and returns how many went.
func purgeExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).Delete(&Event{})
	return res.RowsAffected, res.Error
}

// StartRetentionWorker purges expired events once at startup and then daily
// until ctx is cancelled.
func StartRetentionWorker(ctx context.Context, db *gorm.DB, log logger.Logger) {
	run := func() {
		n, err := purgeExpired(ctx, db, time.Now())
		if err != nil {
			log.Warn("retention cleanup failed", logger.Error(err))
			return
		}
		if n > 0 {
			log.Info("retention cleanup", logger.Int64("deleted", n))
		}
	}

	go func() {
		run()

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
