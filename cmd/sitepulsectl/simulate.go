package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"sitepulse/internal/logger"
	"sitepulse/internal/tracker"
)

// landingSections is the page layout simulated visitors walk through.
var landingSections = []string{"hero", "features", "pricing", "testimonials", tracker.ConversionSection}

type simulateOptions struct {
	server         string
	trackingID     string
	visitors       int
	concurrency    int
	authenticated  bool
	conversionRate float64
	seed           uint64
}

type simulateStats struct {
	visitors atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
}

func newSimulateCmd(a *app) *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send realistic visitor traffic through the Go tracker",
		Long: `Each simulated visitor opens a session, views the landing page sections in
order, scrolls and clicks through them, sometimes converts, and ends the
session. Events go through the same tracker the server documents for
in-app use, on the public or the authenticated path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.trackingID == "" {
				return errors.New("--tracking-id is required")
			}
			if opts.server == "" {
				opts.server = a.cfg.PublicURL()
			}
			stats := runSimulation(cmd.Context(), opts, a.log)
			cmd.Printf("Visitors: %d  Events sent: %d  Failed: %d\n",
				stats.visitors.Load(), stats.sent.Load(), stats.failed.Load())
			if stats.sent.Load() == 0 && stats.failed.Load() > 0 {
				return errors.New("every event failed, is the server reachable?")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "sitepulse base URL (default from APP_LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.trackingID, "tracking-id", "", "project tracking id (trk_...)")
	cmd.Flags().IntVar(&opts.visitors, "visitors", 10, "number of visitors to simulate")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "visitors simulated at the same time")
	cmd.Flags().BoolVar(&opts.authenticated, "authenticated", false, "start a session and use the token path")
	cmd.Flags().Float64Var(&opts.conversionRate, "conversion-rate", 0.1, "share of visitors that submit the contact form")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	return cmd
}

func runSimulation(ctx context.Context, opts simulateOptions, log logger.Logger) *simulateStats {
	seed := opts.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	concurrency := max(opts.concurrency, 1)

	stats := &simulateStats{}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < opts.visitors; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return stats
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			rng := rand.New(rand.NewPCG(seed, n))
			sent, failed := simulateVisitor(ctx, opts, rng, log)
			stats.visitors.Add(1)
			stats.sent.Add(sent)
			stats.failed.Add(failed)
		}(uint64(i))
	}
	wg.Wait()
	return stats
}

func simulateVisitor(ctx context.Context, opts simulateOptions, rng *rand.Rand, log logger.Logger) (sent, failed int64) {
	sess, err := tracker.LoadSession(tracker.NewMemoryStorage(), nil)
	if err != nil {
		log.Warn("simulated visitor has no session", logger.Error(err))
		return 0, 1
	}

	transport := tracker.NewHTTPTransport(opts.server, opts.trackingID)
	if opts.authenticated {
		if err := transport.StartSession(ctx, sess, "sitepulsectl/simulate"); err != nil {
			log.Warn("session start failed, using public path", logger.Error(err))
		}
	}

	em := tracker.NewEmitter(sess, transport,
		tracker.WithLogger(log),
		tracker.WithURL(opts.server+"/"),
	)
	em.TrackPageView(ctx)

	// Visitors drop off before the end of the page.
	depth := 1 + rng.IntN(len(landingSections))
	for _, section := range landingSections[:depth] {
		em.TrackSectionView(ctx, section)
		for _, scroll := range []float64{25, 50, 75, 100} {
			if rng.Float64() < 0.7 {
				em.TrackScroll(ctx, section, scroll)
			}
		}
		if rng.Float64() < 0.4 {
			pause(ctx, time.Duration(50+rng.IntN(200))*time.Millisecond)
			em.TrackSectionClick(ctx, section, "cta")
		}
	}

	if depth == len(landingSections) && rng.Float64() < opts.conversionRate {
		em.TrackConversion(ctx, map[string]string{
			"name":    "Simulated Visitor",
			"email":   sess.VisitorID + "@example.com",
			"message": "Hello from sitepulsectl",
		})
	}

	em.EndSession(ctx)
	em.Wait()
	return em.Sent(), em.Failed()
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
