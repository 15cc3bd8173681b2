package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	vegeta "github.com/tsenart/vegeta/v12/lib"

	"sitepulse/internal/tracker"
)

type loadOptions struct {
	server     string
	trackingID string
	rate       int
	duration   time.Duration
	timeout    time.Duration
	sessions   int
}

func newLoadCmd(a *app) *cobra.Command {
	opts := loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load test the public ingestion endpoint",
		Long: `Attacks POST /track at a constant rate with a rotating mix of event types
spread over a pool of sessions, then prints latency and status code metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.trackingID == "" {
				return errors.New("--tracking-id is required")
			}
			if opts.rate <= 0 || opts.duration <= 0 {
				return errors.New("--rate and --duration must be positive")
			}
			if opts.server == "" {
				opts.server = a.cfg.PublicURL()
			}

			attacker := vegeta.NewAttacker(vegeta.Timeout(opts.timeout))
			go func() {
				<-cmd.Context().Done()
				attacker.Stop()
			}()

			rate := vegeta.Rate{Freq: opts.rate, Per: time.Second}
			var metrics vegeta.Metrics
			for res := range attacker.Attack(newTrackTargeter(opts), rate, opts.duration, "sitepulse-load") {
				metrics.Add(res)
			}
			metrics.Close()

			printMetrics(cmd, &metrics)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "sitepulse base URL (default from APP_LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.trackingID, "tracking-id", "", "project tracking id (trk_...)")
	cmd.Flags().IntVar(&opts.rate, "rate", 50, "requests per second")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "attack duration")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	cmd.Flags().IntVar(&opts.sessions, "sessions", 20, "distinct sessions the events are spread over")
	return cmd
}

var loadEventTypes = []string{
	tracker.EventPageView,
	tracker.EventView,
	tracker.EventScroll,
	tracker.EventClick,
	tracker.EventView,
	tracker.EventConversion,
}

// newTrackTargeter cycles through event types and sessions. It is safe for
// the attacker's concurrent workers.
func newTrackTargeter(opts loadOptions) vegeta.Targeter {
	sessions := make([]string, max(opts.sessions, 1))
	for i := range sessions {
		sessions[i] = uuid.NewString()
	}
	url := strings.TrimRight(opts.server, "/") + "/track"
	header := http.Header{"Content-Type": []string{"application/json"}}

	var n atomic.Uint64
	return func(tgt *vegeta.Target) error {
		if tgt == nil {
			return vegeta.ErrNilTarget
		}
		i := n.Add(1) - 1
		body, err := json.Marshal(loadPayload(opts.trackingID, sessions[i%uint64(len(sessions))], i))
		if err != nil {
			return err
		}
		tgt.Method = http.MethodPost
		tgt.URL = url
		tgt.Body = body
		tgt.Header = header
		return nil
	}
}

func loadPayload(trackingID, sessionID string, i uint64) tracker.Payload {
	eventType := loadEventTypes[i%uint64(len(loadEventTypes))]
	section := landingSections[i%uint64(len(landingSections))]
	p := tracker.Payload{
		TrackingID: trackingID,
		EventType:  eventType,
		URL:        "https://example.com/",
		SessionID:  sessionID,
		VisitorID:  fmt.Sprintf("usr_load%04d", i%10000),
		Timestamp:  time.Now().UTC(),
	}
	switch eventType {
	case tracker.EventPageView:
	case tracker.EventConversion:
		p.SectionName = tracker.ConversionSection
		p.Metadata = map[string]any{"email": "provided", "form_fields": 3}
	case tracker.EventScroll:
		depth := float64(25 * (1 + i%4))
		p.SectionName = section
		p.ScrollDepth = &depth
	case tracker.EventClick:
		d := int64(100 * (1 + i%20))
		p.SectionName = section
		p.DurationMs = &d
	default:
		p.SectionName = section
	}
	return p
}

func printMetrics(cmd *cobra.Command, m *vegeta.Metrics) {
	cmd.Printf("Requests:   %d (%.1f/s)\n", m.Requests, m.Rate)
	cmd.Printf("Success:    %.2f%%\n", m.Success*100)
	cmd.Printf("Latency:    mean %s  p50 %s  p95 %s  p99 %s  max %s\n",
		m.Latencies.Mean, m.Latencies.P50, m.Latencies.P95, m.Latencies.P99, m.Latencies.Max)

	codes := make([]string, 0, len(m.StatusCodes))
	for code := range m.StatusCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%s=%d", code, m.StatusCodes[code]))
	}
	cmd.Printf("Status:     %s\n", strings.Join(parts, " "))

	for _, e := range m.Errors {
		cmd.Printf("Error:      %s\n", e)
	}
}
