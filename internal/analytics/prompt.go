package analytics

import (
	"fmt"
	"strings"
)

// SystemPrompt frames the model as an analyst for every insight request.
const SystemPrompt = `You are a data analyst specializing in user behavior analytics.
Provide concise, actionable insights based on the provided metrics.
Focus on: user engagement patterns, popular sections, conversion opportunities,
and specific recommendations to improve user experience.`

// Prompt renders the fixed analysis request for m over period, optionally
// focused on one section.
func Prompt(m *Metrics, period Period, sectionName string) string {
	top := make([]string, 0, len(m.TopSections))
	for _, s := range m.TopSections {
		top = append(top, fmt.Sprintf("%s: %d clicks", s.Name, s.Clicks))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following user analytics data from the website for the %s period:\n\n", period)
	b.WriteString("Key Metrics:\n")
	fmt.Fprintf(&b, "- Total Sessions: %d\n", m.TotalSessions)
	fmt.Fprintf(&b, "- Average Session Duration: %.2f seconds\n", m.AvgSessionDuration/1000)
	fmt.Fprintf(&b, "- Total Events: %d\n", m.TotalEvents)
	fmt.Fprintf(&b, "- Conversion Rate: %.2f%%\n", m.ConversionRate)
	fmt.Fprintf(&b, "- Top Sections (by clicks): %s\n\n", strings.Join(top, ", "))

	b.WriteString("Section Details:\n")
	for _, name := range m.order {
		s := m.SectionMetrics[name]
		fmt.Fprintf(&b, "%s: %d views, %d clicks, %.2fs avg time, %.0f%% scroll depth\n",
			name, s.Views, s.Clicks, s.AvgDuration/1000, s.MaxScrollDepth)
	}

	if sectionName != "" {
		fmt.Fprintf(&b, "\nFocus specifically on the %q section.\n", sectionName)
	}

	b.WriteString(`
Please provide:
1. Key findings about user engagement patterns
2. Which sections are most popular and why
3. Areas that need improvement
4. Specific actionable recommendations
`)
	return b.String()
}
