// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fenwick-labs/payflow/internal/api"
	"github.com/fenwick-labs/payflow/internal/auth"
	"github.com/fenwick-labs/payflow/internal/checkout"
	"github.com/fenwick-labs/payflow/internal/config"
	"github.com/fenwick-labs/payflow/internal/health"
	"github.com/fenwick-labs/payflow/internal/middleware"
	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/processor"
	"github.com/fenwick-labs/payflow/internal/reconcile"
	"github.com/fenwick-labs/payflow/internal/subscription"
	"github.com/fenwick-labs/payflow/internal/vault"
)

// jwtValidator adapts auth.JWTService to the middleware.TokenValidator
// interface. Only access tokens authenticate requests.
type jwtValidator struct {
	svc *auth.JWTService
}

func (v *jwtValidator) CustomerIDFromToken(token string) (string, error) {
	claims, err := v.svc.ValidateToken(token)
	if err != nil {
		return "", err
	}
	if claims.Type != auth.TokenTypeAccess {
		return "", auth.ErrInvalidToken
	}
	return claims.Subject, nil
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Payflow API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// Load configuration
	cfg, cfgErrs := config.Load(*configPath)
	if len(cfgErrs) > 0 {
		for _, err := range cfgErrs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	// Initialize logger
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	// Payment processor client
	stripeClient := processor.NewStripeClient(cfg.StripeAPIKey)

	// Order repository: Postgres when configured, in-memory otherwise
	var orders order.Repository
	var dbChecker api.HealthChecker
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		orders = order.NewPostgresRepository(db, logger)
		dbChecker = health.NewDBChecker(db)
	} else {
		logger.Warn("no DATABASE_URL configured, using in-memory repositories")
		orders = order.NewInMemoryRepository()
	}

	// Redis: shared webhook dedup and customer caching when configured
	var cache processor.Cache
	var webhookRepo reconcile.WebhookRepository
	var redisChecker api.HealthChecker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		cache = processor.NewRedisCache(redisClient)
		webhookRepo = reconcile.NewRedisWebhookRepository(redisClient, 72*time.Hour)
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		cache = processor.NewMemoryCache()
		webhookRepo = reconcile.NewInMemoryWebhookRepository()
	}

	tokens := vault.NewInMemoryTokenRepository()
	mappings := vault.NewInMemoryMappingRepository()
	subs := subscription.NewInMemoryRepository()

	machine := order.NewMachine(orders, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	checkoutMetrics := checkout.NewMetrics()
	if err := checkoutMetrics.Register(registry); err != nil {
		logger.Error("failed to register checkout metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// Payment orchestrator with a logging observer
	eventLogger := checkout.ObserverFunc(func(ctx context.Context, event checkout.Event) {
		logger.InfoContext(ctx, "payment event", "event", event.EventName())
	})
	orchestrator, err := checkout.New(
		stripeClient,
		orders,
		machine,
		tokens,
		mappings,
		subs,
		cache,
		checkout.Options{
			GatewayID:                 "stripe",
			SavedCardsEnabled:         cfg.SavedCardsEnabled,
			ForceSaveForSubscriptions: cfg.ForceSaveForSubscriptions,
			CustomerCacheTTL:          time.Duration(cfg.CustomerCacheTTLSeconds) * time.Second,
			OrderReceivedURL:          cfg.OrderReceivedURL,
		},
		checkoutMetrics,
		logger,
		eventLogger,
	)
	if err != nil {
		logger.Error("failed to create payment orchestrator", "error", err)
		os.Exit(1)
	}

	reconciler := reconcile.New("stripe", stripeClient, orders, machine, logger)

	// Renewal scheduler
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := subscription.NewScheduler(subscription.SchedulerConfig{
		Interval: time.Duration(cfg.RenewalSweepIntervalMinutes) * time.Minute,
		Logger:   logger,
	}, subs, orders, orchestrator)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// JWT auth
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// HTTP handlers
	checkoutHandlers := api.NewCheckoutHandlers(orchestrator, orders, cfg.StoreCurrency)
	vaultHandlers := api.NewVaultHandlers(orchestrator, tokens)
	webhookHandlers := api.NewWebhookHandlers(cfg.StripeWebhookSecret, webhookRepo, reconciler, orders, machine)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:     dbChecker,
		RedisChecker:  redisChecker,
		StripeChecker: health.NewStripeChecker(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", checkoutHandlers.Checkout)
	mux.HandleFunc("POST /checkout/intent", checkoutHandlers.CreateIntent)
	mux.HandleFunc("GET /orders/{id}", checkoutHandlers.GetOrder)
	mux.HandleFunc("POST /orders/{id}/refund", checkoutHandlers.RefundOrder)
	mux.HandleFunc("POST /payment-methods/setup-intent", vaultHandlers.CreateSetupIntent)
	mux.HandleFunc("POST /payment-methods", vaultHandlers.FinalizeSetupIntent)
	mux.HandleFunc("GET /payment-methods", vaultHandlers.ListPaymentMethods)
	mux.HandleFunc("DELETE /payment-methods/{id}", vaultHandlers.DeletePaymentMethod)
	mux.HandleFunc("POST /internal/stripe", webhookHandlers.HandleStripeWebhook)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Placeholder root endpoint
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			rctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, rctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"payflow-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics -> Auth
	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Auth(&jwtValidator{svc: jwtService})(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
