// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tandem-social/tandem/internal/api"
	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/call"
	"github.com/tandem-social/tandem/internal/chat"
	"github.com/tandem-social/tandem/internal/config"
	"github.com/tandem-social/tandem/internal/db"
	"github.com/tandem-social/tandem/internal/event"
	"github.com/tandem-social/tandem/internal/health"
	"github.com/tandem-social/tandem/internal/idempotency"
	"github.com/tandem-social/tandem/internal/jobs"
	"github.com/tandem-social/tandem/internal/middleware"
	"github.com/tandem-social/tandem/internal/payment"
	"github.com/tandem-social/tandem/internal/rtc"
	"github.com/tandem-social/tandem/internal/stream"
	"github.com/tandem-social/tandem/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	slog.Info("starting api server", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "tandem-api",
		Enabled:      cfg.TracingEnabled(),
		Environment:  cfg.Env,
		ExporterType: cfg.OTLPExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TraceSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := db.Open(dbCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	// Metrics registry. Registration failures are programming errors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics()
	eventMetrics := event.NewMetrics()
	callMetrics := call.NewMetrics()
	streamMetrics := stream.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for name, register := range map[string]func(prometheus.Registerer) error{
		"http":   httpMetrics.Register,
		"event":  eventMetrics.Register,
		"call":   callMetrics.Register,
		"stream": streamMetrics.Register,
		"jobs":   jobMetrics.Register,
	} {
		if err := register(registry); err != nil {
			slog.Error("failed to register metrics", "group", name, "error", err)
			os.Exit(1)
		}
	}

	// Event fan-out: services publish into the notifier, the broadcaster
	// delivers to WebSocket subscribers.
	broadcaster := event.NewBroadcaster()
	notifier := event.NewNotifier(broadcaster, cfg.NotifierBufferSize, eventMetrics)

	tokens, err := rtc.NewTokenService(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}
	rooms := rtc.NewRoomService(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)

	chatRepo := chat.NewPostgresRepository(conn)
	callRepo := call.NewPostgresRepository(conn)
	streamRepo := stream.NewPostgresRepository(conn)
	payRepo := payment.NewPostgresRepository(conn)
	webhookRepo := payment.NewPostgresWebhookRepository(conn)
	idemRepo := idempotency.NewPostgresRepository(conn)

	paySvc := payment.NewService(payRepo, webhookRepo,
		payment.NewStripeGateway(cfg.StripeAPIKey),
		cfg.StripeSuccessURL, cfg.StripeCancelURL)
	gate := stream.NewAccessGate(streamRepo, payRepo)
	streamSvc := stream.NewService(streamRepo, gate, tokens, rooms, notifier, streamMetrics)
	chatSvc := chat.NewService(chatRepo, streamSvc, notifier)
	callSvc := call.NewService(callRepo, tokens, rooms, chatRepo, notifier, callMetrics)

	jwtSvc := auth.NewJWTService(cfg.JWTSecret)

	var limitStore middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStore(redisClient, httpMetrics)
	}

	healthCfg := api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(conn),
		LiveKitChecker: health.NewLiveKitChecker(httpProbeURL(cfg.LiveKitURL)),
	}
	if redisClient != nil {
		healthCfg.RedisChecker = health.NewRedisChecker(redisClient)
	}

	mux := api.NewRouter(api.RouterConfig{
		Auth:          middleware.RequireAuth(jwtSvc),
		Idempotency:   middleware.IdempotencyMiddleware(idemRepo, middleware.CheckoutRouteMatcher()),
		Conversations: api.NewConversationHandlers(chatSvc),
		Calls:         api.NewCallHandlers(callSvc),
		Streams:       api.NewStreamHandlers(streamSvc, chatSvc),
		Payments:      api.NewPaymentHandlers(paySvc, streamSvc),
		Webhooks:      api.NewWebhookHandlers(cfg.StripeWebhookSecret, paySvc),
		WS:            api.NewWSHandlers(broadcaster, chatSvc),
		Health:        api.NewHealthHandlers(healthCfg),
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// pprof endpoints sit before metrics and rate limiting so profile
	// scrapes stay out of the request metrics. Production refuses them.
	handler := middleware.RequestID(
		middleware.Tracing("tandem-api")(
			middleware.Logging(logger)(
				middleware.Profiling(cfg.Env == "development", cfg.Env)(
					middleware.HTTPMetrics(httpMetrics)(
						middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(
							mux))))))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
		// No blanket read/write timeouts: /ws connections are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweeper := jobs.NewRingSweeper(callSvc, cfg.RingTimeout(), 0, jobMetrics)
	go sweeper.Run(ctx)

	cleanupStop := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idemRepo, time.Hour, idempotency.DefaultExpiry, cleanupStop)

	go func() {
		slog.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	close(cleanupStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	// Drain queued events after the last request finished publishing.
	if err := notifier.Close(shutdownCtx); err != nil {
		slog.Error("notifier drain failed", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		slog.Error("tracer shutdown failed", "error", err)
	}
	slog.Info("shutdown complete")
}

// httpProbeURL converts a websocket transport URL to the HTTP form the
// health checker can GET.
func httpProbeURL(url string) string {
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	}
	return url
}
