package db

import (
	"time"

	"gorm.io/datatypes"
)

// Event types accepted by ingestion.
const (
	EventPageView   = "page_view"
	EventView       = "view"
	EventClick      = "click"
	EventScroll     = "scroll"
	EventConversion = "conversion"
)

// Event sources record which ingestion path wrote the row.
const (
	SourcePublic  = "public"
	SourceSession = "session"
)

// Event is a single tracked visitor action. Rows are written once and
// never updated; the retention worker is the only thing that removes them.
type Event struct {
	ID uint `gorm:"primaryKey"`

	// CreatedAt is the server receipt time and the ordering key for every query.
	CreatedAt time.Time `gorm:"index"`

	// OccurredAt is the timestamp the client reported, kept for reference only.
	OccurredAt *time.Time

	ExpiresAt *time.Time `gorm:"index"`

	// ProjectID is nil for events written through an unbound session token.
	ProjectID *uint `gorm:"index"`

	EventType   string `gorm:"size:32;index;not null"`
	SectionName string `gorm:"size:128;index"`
	SessionID   string `gorm:"size:64;index"`
	VisitorID   string `gorm:"size:64;index"`
	URL         string `gorm:"size:2048"`

	DurationMs  *int64
	ScrollDepth *float64

	Metadata datatypes.JSONMap `gorm:"type:json"`

	Source string `gorm:"size:16"`
}

// Session is one visit. The ID is generated by the client.
type Session struct {
	ID string `gorm:"primaryKey;size:64"`

	ProjectID *uint  `gorm:"index"`
	VisitorID string `gorm:"size:64;index"`

	StartedAt  time.Time `gorm:"index;not null"`
	EndedAt    *time.Time
	DurationMs *int64

	UserAgent      string `gorm:"size:512"`
	Referrer       string `gorm:"size:2048"`
	Language       string `gorm:"size:32"`
	ViewportWidth  int
	ViewportHeight int
	DeviceType     string `gorm:"size:16"`

	TotalEvents int64 `gorm:"not null;default:0"`
}

// Analysis scopes stored on an Insight.
const (
	AnalysisOverall = "overall_analysis"
	AnalysisSection = "section_analysis"
)

// Insight is a stored model-generated analysis. Append-only.
type Insight struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"index"`

	ProjectID    *uint   `gorm:"index"`
	AnalysisType string  `gorm:"size:32;not null"`
	SectionName  *string `gorm:"size:128;index"`

	InsightText     string `gorm:"type:text"`
	Recommendation  string `gorm:"type:text"`
	ConfidenceScore float64
	DataPeriod      string `gorm:"size:16"`
}

// TrafficBucket stores pre-aggregated hourly counts per project for the
// dashboard traffic chart. Filled by the rollup worker.
type TrafficBucket struct {
	ID uint `gorm:"primaryKey"`

	ProjectID   uint      `gorm:"uniqueIndex:idx_traffic_bucket_unique,priority:1;not null"`
	BucketStart time.Time `gorm:"uniqueIndex:idx_traffic_bucket_unique,priority:2;not null"` // start of the hour (UTC)

	TotalCount   int64 `gorm:"not null"`
	ViewCount    int64 `gorm:"not null"` // view and page_view
	ClickCount   int64 `gorm:"not null"`
	SessionCount int64 `gorm:"not null"` // distinct session ids seen in the hour
}
