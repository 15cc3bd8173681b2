package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotOwner is returned when a user tries to change a project they do not own.
var ErrNotOwner = errors.New("project belongs to another user")

// Project is a tracked site. Its TrackingID is embedded in public pages
// and never changes once issued.
type Project struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Name string `gorm:"size:128;not null"`

	// TrackingID is the public token the embed script sends with every event.
	TrackingID string `gorm:"uniqueIndex;size:32;not null"`

	OwnerID uint `gorm:"index;not null"`
	Owner   User `gorm:"foreignKey:OwnerID"`

	// RetentionDays overrides the global retention when > 0.
	RetentionDays int `gorm:"not null;default:0"`
}

// NewTrackingID returns a fresh "trk_" token.
func NewTrackingID() string {
	return "trk_" + uuid.NewString()[:8]
}

// Retention returns the effective retention for events of this project.
func (p *Project) Retention(def int) int {
	if p != nil && p.RetentionDays > 0 {
		return p.RetentionDays
	}
	return def
}

// CreateProject issues a tracking token and inserts the project.
func CreateProject(ctx context.Context, db *gorm.DB, ownerID uint, name string, retentionDays int) (*Project, error) {
	p := &Project{
		Name:          name,
		TrackingID:    NewTrackingID(),
		OwnerID:       ownerID,
		RetentionDays: retentionDays,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ProjectByTrackingID resolves a public token. Unknown tokens yield gorm.ErrRecordNotFound.
func ProjectByTrackingID(ctx context.Context, db *gorm.DB, trackingID string) (*Project, error) {
	var p Project
	if err := db.WithContext(ctx).Where("tracking_id = ?", trackingID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ProjectByID loads a project by primary key.
func ProjectByID(ctx context.Context, db *gorm.DB, id uint) (*Project, error) {
	var p Project
	if err := db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns the projects owned by ownerID, or all projects when ownerID is 0.
func ListProjects(ctx context.Context, db *gorm.DB, ownerID uint) ([]Project, error) {
	q := db.WithContext(ctx).Preload("Owner").Order("created_at DESC")
	if ownerID != 0 {
		q = q.Where("owner_id = ?", ownerID)
	}
	var projects []Project
	if err := q.Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// DeleteProject removes a project owned by ownerID. Its events stay until retention expires them.
func DeleteProject(ctx context.Context, db *gorm.DB, id, ownerID uint) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.First(&p, id).Error; err != nil {
			return err
		}
		if p.OwnerID != ownerID {
			return ErrNotOwner
		}
		if err := tx.Where("project_id = ?", id).Delete(&TrafficBucket{}).Error; err != nil {
			return err
		}
		return tx.Delete(&p).Error
	})
}
