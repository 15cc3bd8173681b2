// Package analytics turns raw events and sessions into the engagement
// metrics shown on the dashboard and fed to the insight generator.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"sitepulse/internal/db"
)

// UnknownSection groups events that carry no section name.
const UnknownSection = "unknown"

const maxTopSections = 3

// Period is a named look-back window.
type Period string

const (
	PeriodDay   Period = "24h"
	PeriodWeek  Period = "7d"
	PeriodMonth Period = "30d"
)

// ParsePeriod maps a period label to its window. An empty label means 24h;
// any other unrecognized label falls back to 30 days.
func ParsePeriod(label string) (Period, time.Duration) {
	switch Period(label) {
	case "", PeriodDay:
		return PeriodDay, 24 * time.Hour
	case PeriodWeek:
		return PeriodWeek, 7 * 24 * time.Hour
	case PeriodMonth:
		return PeriodMonth, 30 * 24 * time.Hour
	default:
		return Period(label), 30 * 24 * time.Hour
	}
}

// SectionMetrics aggregates one section's events. Click durations of
// 100, 200 and 300 ms give an AvgDuration of 225.
type SectionMetrics struct {
	Views          int     `json:"views"`
	Clicks         int     `json:"clicks"`
	// AvgDuration is a smoothed click duration in ms: the first click seeds it
	// and every later click moves it halfway toward the new value.
	AvgDuration    float64 `json:"avgDuration"`
	ScrollEvents   int     `json:"scrollEvents"`
	MaxScrollDepth float64 `json:"maxScrollDepth"`
}

// RankedSection is a section with its name, as listed in TopSections.
type RankedSection struct {
	Name string `json:"name"`
	SectionMetrics
}

// Metrics is the result of Compute.
type Metrics struct {
	SectionMetrics     map[string]*SectionMetrics `json:"sectionMetrics"`
	TotalSessions      int                        `json:"totalSessions"`
	AvgSessionDuration float64                    `json:"avgSessionDuration"`
	TotalEvents        int                        `json:"totalEvents"`
	ConversionRate     float64                    `json:"conversionRate"`
	TopSections        []RankedSection            `json:"topSections"`

	// order records first-seen section order; it breaks click ties.
	order []string
}

// Sections returns section names in the order they first appeared.
func (m *Metrics) Sections() []string {
	return append([]string(nil), m.order...)
}

// Compute folds events and sessions into Metrics. Events are expected in
// creation order; that order decides both the smoothing and tie-breaking.
func Compute(events []db.Event, sessions []db.Session) *Metrics {
	m := &Metrics{SectionMetrics: make(map[string]*SectionMetrics)}

	conversions := 0
	for _, e := range events {
		if e.EventType == db.EventConversion {
			conversions++
		}

		name := e.SectionName
		if name == "" {
			name = UnknownSection
		}
		sm, ok := m.SectionMetrics[name]
		if !ok {
			sm = &SectionMetrics{}
			m.SectionMetrics[name] = sm
			m.order = append(m.order, name)
		}

		switch e.EventType {
		case db.EventView, db.EventPageView:
			sm.Views++
		case db.EventClick:
			d := 0.0
			if e.DurationMs != nil {
				d = float64(*e.DurationMs)
			}
			if sm.Clicks == 0 {
				sm.AvgDuration = d
			} else {
				sm.AvgDuration = (sm.AvgDuration + d) / 2
			}
			sm.Clicks++
		case db.EventScroll:
			sm.ScrollEvents++
			if e.ScrollDepth != nil && *e.ScrollDepth > sm.MaxScrollDepth {
				sm.MaxScrollDepth = *e.ScrollDepth
			}
		}
	}

	m.TotalEvents = len(events)
	m.TotalSessions = len(sessions)

	var totalDuration int64
	for _, s := range sessions {
		if s.DurationMs != nil {
			totalDuration += *s.DurationMs
		}
	}
	m.AvgSessionDuration = float64(totalDuration) / float64(max(m.TotalSessions, 1))

	if m.TotalSessions > 0 {
		m.ConversionRate = float64(conversions) / float64(m.TotalSessions) * 100
	}

	m.TopSections = topSections(m)
	return m
}

func topSections(m *Metrics) []RankedSection {
	ranked := make([]RankedSection, 0, len(m.order))
	for _, name := range m.order {
		ranked = append(ranked, RankedSection{Name: name, SectionMetrics: *m.SectionMetrics[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Clicks > ranked[j].Clicks
	})
	if len(ranked) > maxTopSections {
		ranked = ranked[:maxTopSections]
	}
	return ranked
}

// Recommendations derives up to four suggestions from fixed thresholds.
func Recommendations(m *Metrics) []string {
	var out []string

	if len(m.TopSections) > 0 {
		out = append(out, fmt.Sprintf("Increase content/CTAs in %q - it's your most engaged section", m.TopSections[0].Name))
	}
	if m.ConversionRate < 5 {
		out = append(out, "Add more prominent CTAs to improve conversion rate")
	}
	if m.AvgSessionDuration < 30000 {
		out = append(out, "Consider adding more engaging content to increase session duration")
	}
	for _, name := range m.order {
		if m.SectionMetrics[name].Clicks < 5 {
			out = append(out, fmt.Sprintf("Improve %q section - it has lower engagement than others", name))
			break
		}
	}
	return out
}
