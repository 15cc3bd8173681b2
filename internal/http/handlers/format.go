package handlers

import (
	"strings"
	"time"
)

const displayLayout = "2006-01-02 15:04"

// splitLines undoes the newline join used to store recommendations.
func splitLines(s string) []string {
	out := []string{}
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// formatAPITime is the timestamp format of JSON responses.
func formatAPITime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatDisplayTime is the timestamp format of rendered pages.
func formatDisplayTime(t time.Time) string {
	return t.UTC().Format(displayLayout) + " UTC"
}
