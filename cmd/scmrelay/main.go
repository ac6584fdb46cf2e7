package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/scmrelay/internal/adapter/http"
	cfnats "github.com/Strob0t/scmrelay/internal/adapter/nats"
	"github.com/Strob0t/scmrelay/internal/adapter/natskv"
	cfotel "github.com/Strob0t/scmrelay/internal/adapter/otel"
	"github.com/Strob0t/scmrelay/internal/adapter/ristretto"
	"github.com/Strob0t/scmrelay/internal/adapter/tiered"
	"github.com/Strob0t/scmrelay/internal/adapter/unizo"
	"github.com/Strob0t/scmrelay/internal/adapter/ws"
	"github.com/Strob0t/scmrelay/internal/config"
	"github.com/Strob0t/scmrelay/internal/logger"
	"github.com/Strob0t/scmrelay/internal/middleware"
	"github.com/Strob0t/scmrelay/internal/port/cache"
	"github.com/Strob0t/scmrelay/internal/port/messagequeue"
	"github.com/Strob0t/scmrelay/internal/resilience"
	"github.com/Strob0t/scmrelay/internal/secrets"
	"github.com/Strob0t/scmrelay/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	masked := cfg.Masked()
	slog.Info("config loaded",
		"port", masked.Server.Port,
		"upstream_url", masked.Upstream.URL,
		"api_key", masked.Upstream.APIKey,
		"integration_id", masked.Upstream.IntegrationID,
		"target_organization", masked.Upstream.TargetOrganization,
		"callback_url", masked.Server.CallbackURL(),
		"max_retries", masked.Retry.MaxRetries,
		"log_level", masked.Logging.Level,
		"nats_enabled", masked.NATS.URL != "",
		"otel_enabled", masked.OTEL.Enabled,
	)

	ctx := context.Background()

	vault, err := secrets.NewVault(secrets.ConfigLoader(config.Load))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	// --- Observability ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	if err := metrics.ObserveCacheHitRatio("l1", l1.HitRatio); err != nil {
		slog.Warn("cache hit ratio metric unavailable", "error", err)
	}

	var (
		queue messagequeue.Queue
		l2    cache.Cache
	)
	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()
		queue = q

		kv, err := natskv.Open(ctx, q.JetStream(), cfg.NATS.KVBucket, cfg.Cache.ConfigTTL)
		if err != nil {
			slog.Warn("nats kv unavailable, using in-process cache only", "bucket", cfg.NATS.KVBucket, "error", err)
		} else {
			l2 = kv
		}
	} else {
		slog.Info("nats disabled, events are broadcast to websocket clients only")
	}
	configCache := tiered.New(l1, l2, cfg.Cache.ConfigTTL)

	// --- Upstream ---

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := resilience.NewClient(cfg.Upstream.URL,
		&http.Client{Transport: cfotel.Transport(nil)},
		resilience.WithPolicy(resilience.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
		}),
		resilience.WithTimeout(cfg.Upstream.Timeout),
		resilience.WithHeader("apikey", cfg.Upstream.APIKey),
		resilience.WithBreaker(breaker),
		resilience.WithObserver(metrics),
	)
	gateway := unizo.New(client, unizo.Options{
		AuthUserID:         cfg.Upstream.AuthUserID,
		IntegrationID:      cfg.Upstream.IntegrationID,
		TargetOrganization: cfg.Upstream.TargetOrganization,
		Cache:              configCache,
		ConfigTTL:          cfg.Cache.ConfigTTL,
	})

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	relay := service.NewRelay(queue, hub, cfg.NATS.SubjectPrefix)
	stopForward, err := relay.Forward(ctx)
	if err != nil {
		slog.Warn("relay forwarding unavailable, broadcasting directly", "error", err)
		stopForward = func() {}
	}
	defer stopForward()
	handlers := &cfhttp.Handlers{
		Registration: service.NewRegistrationService(gateway, relay, metrics, service.RegistrationConfig{
			Concurrency:   cfg.Registration.Concurrency,
			RunTimeout:    cfg.Registration.RunTimeout,
			Organization:  cfg.Upstream.TargetOrganization,
			WebhookURL:    cfg.Server.AppURL + "/webhook",
			WebhookSecret: cfg.Webhook.SCMSecret(),
		}),
		Subscriptions: service.NewSubscriptionService(gateway, cfg.Server.CallbackURL(), cfg.Webhook.EventSecret),
		Repositories:  service.NewRepositoryService(gateway),
		Events:        service.NewEventService(relay, metrics),
		SCMWebhooks:   service.NewSCMWebhookService(relay),
		IntegrationID: cfg.Upstream.IntegrationID,
	}
	health := &cfhttp.Health{
		Service:      cfg.Logging.Service,
		Upstream:     gateway,
		Queue:        queue,
		BreakerState: client.BreakerState,
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiterFromConfig(cfg.Rate, "/health")
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(limiter.Handler)

	cfhttp.MountRoutes(r, handlers, health, cfhttp.RouteConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		EventPath:      cfg.Server.EventPath,
		EventSecret:    vault.Lookup(secrets.KeyEventSecret),
		HubSecret:      vault.Lookup(secrets.KeyHubSecret),
		Metrics:        metrics,
		Stream:         hub.HandleWS,
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Bulk registration answers within run_timeout, which validation
		// keeps below this.
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// SIGHUP re-reads the inbound signature secrets.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed, keeping previous secrets", "error", err)
				continue
			}
			slog.Info("webhook secrets reloaded")
		}
	}()

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "event_path", cfg.Server.EventPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
