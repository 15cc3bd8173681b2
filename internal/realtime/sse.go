package realtime

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// WriteSSE writes one server-sent event frame and flushes it. A flush error
// means the client went away.
func WriteSSE(w *bufio.Writer, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if eventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

// WriteSSEComment writes a comment line, used as a heartbeat.
func WriteSSEComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}
