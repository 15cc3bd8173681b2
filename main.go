package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"sitepulse/internal/config"
	"sitepulse/internal/db"
	"sitepulse/internal/http/handlers"
	appmw "sitepulse/internal/http/middleware"
	"sitepulse/internal/ingest"
	"sitepulse/internal/insight"
	"sitepulse/internal/logger"
	"sitepulse/internal/realtime"
	"sitepulse/internal/token"
	ui "sitepulse/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Error("failed to connect database", logger.Error(err))
		os.Exit(1)
	}
	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		log.Error("failed to ensure bootstrap admin", logger.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db.StartRetentionWorker(ctx, sqlDB, log.With(logger.String("worker", "retention")))
	db.StartRollupWorker(ctx, sqlDB, log.With(logger.String("worker", "rollup")), cfg.RollupInterval)

	broker := realtime.NewBroker(log.With(logger.String("component", "realtime")))
	if err := broker.Start(ctx); err != nil {
		log.Error("failed to start realtime broker", logger.Error(err))
		os.Exit(1)
	}

	var (
		pub   realtime.Publisher  = broker
		sub   realtime.Subscriber = broker
		relay *realtime.RedisRelay
		rdb   *redis.Client
	)
	if cfg.RedisURL != "" {
		rdb, err = realtime.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect redis", logger.Error(err))
			os.Exit(1)
		}
		relay = realtime.NewRedisRelay(rdb, broker, "", log.With(logger.String("component", "relay")))
		if err := relay.Start(ctx); err != nil {
			log.Error("failed to start realtime relay", logger.Error(err))
			os.Exit(1)
		}
		pub, sub = relay, relay
	}

	reg := prometheus.DefaultRegisterer
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sitepulse",
		Name:      "realtime_subscribers",
		Help:      "Number of open realtime subscriptions on this instance.",
	}, func() float64 { return float64(broker.SubscriberCount()) }))

	tokens := token.NewManager(cfg.Secret)
	ingestSvc := ingest.NewService(sqlDB, pub, tokens, log.With(logger.String("component", "ingest")), cfg.RetentionDays,
		ingest.WithMetrics(ingest.NewMetrics(reg)))

	completer, err := insight.NewCompleter(insight.AnthropicConfig{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.AnthropicModel,
	})
	if err != nil {
		log.Error("failed to configure insight completer", logger.Error(err))
		os.Exit(1)
	}
	if cfg.AnthropicAPIKey == "" {
		log.Warn("ANTHROPIC_API_KEY not set, insights use the static summarizer")
	}
	insightSvc := insight.NewService(sqlDB, completer, log.With(logger.String("component", "insight")), reg)

	limiter := appmw.NewRateLimiter(cfg.TrackRatePerSecond, cfg.TrackBurst)
	public := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return appmw.CORS(limiter.Middleware(h))
	}
	admin := appmw.AdminAuth(sqlDB, tokens, cfg)

	r := router.New()

	// Global middleware chain: panic recovery, then request logger, then router
	handler := appmw.Recover(log)(appmw.RequestLogger(log)(r.Handler))

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.PrometheusHandler(prometheus.DefaultGatherer))

	r.ServeFS("/static/{filepath:*}", ui.StaticFS())
	r.GET("/tracker.js", handlers.TrackerScript())

	// Ingestion
	r.POST("/track", public(handlers.Track(ingestSvc, log)))
	r.OPTIONS("/track", appmw.CORS(handlers.Preflight()))
	r.POST("/analytics/session", public(handlers.StartSession(ingestSvc, log)))
	r.POST("/analytics/track", public(appmw.SessionAuth(tokens)(handlers.TrackAuthenticated(ingestSvc, log))))
	r.POST("/analytics/end-session", public(handlers.EndSession(ingestSvc, log)))
	r.OPTIONS("/analytics/{path:*}", appmw.CORS(handlers.Preflight()))

	r.POST("/analytics/analyze", admin(handlers.Analyze(sqlDB, insightSvc, log)))
	r.GET("/analytics/insights", admin(handlers.Insights(sqlDB, insightSvc)))

	r.GET("/login", handlers.LoginForm())
	r.POST("/login", handlers.LoginSubmit(sqlDB, tokens, log))
	r.POST("/logout", handlers.Logout())

	r.GET("/", admin(handlers.Dashboard()))
	r.GET("/projects", admin(handlers.ProjectsPage(sqlDB, cfg)))
	r.GET("/projects/{id}", admin(handlers.ProjectPage(sqlDB, cfg)))
	r.GET("/users", admin(handlers.UsersPage(sqlDB, cfg)))

	r.POST("/admin/projects/create", admin(handlers.CreateProject(sqlDB, cfg)))
	r.POST("/admin/projects/{id}/delete", admin(handlers.DeleteProject(sqlDB)))
	r.POST("/admin/users/create", admin(handlers.CreateUser(sqlDB)))
	r.POST("/admin/users/{id}/reset-password", admin(handlers.ResetPassword(sqlDB, cfg)))
	r.POST("/admin/users/{id}/delete", admin(handlers.DeleteUser(sqlDB, cfg)))
	r.POST("/account/password", admin(handlers.ChangePasswordSelf(sqlDB, cfg.AdminUser)))

	r.GET("/v1/projects/{id}/events", admin(handlers.ProjectEvents(sqlDB)))
	r.GET("/v1/projects/{id}/events/{eventId}", admin(handlers.EventDetail(sqlDB)))
	r.GET("/v1/projects/{id}/stats", admin(handlers.ProjectStats(sqlDB)))
	r.GET("/v1/projects/{id}/traffic", admin(handlers.ProjectTraffic(sqlDB)))
	r.GET("/v1/projects/{id}/stream", admin(handlers.ProjectStream(sqlDB, sub, log)))
	r.GET("/v1/metrics", admin(handlers.ProjectMetricsHandler(sqlDB, prometheus.DefaultGatherer)))

	srv := &fasthttp.Server{
		Handler:     handler,
		Name:        "sitepulse",
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("sitepulse listening", logger.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", logger.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	stop()

	// Stopping the broker closes open dashboard streams so Shutdown can finish.
	if relay != nil {
		_ = relay.Stop()
	}
	_ = broker.Stop()
	if rdb != nil {
		_ = rdb.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", logger.Error(err))
	}
}
