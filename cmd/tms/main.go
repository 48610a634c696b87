// Command tms runs the tenant management system API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/bcgov/tenant-management-system-sub000/pkg/api"
	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/config"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/groups"
	"github.com/bcgov/tenant-management-system-sub000/pkg/middleware"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
	"github.com/bcgov/tenant-management-system-sub000/pkg/requests"
	"github.com/bcgov/tenant-management-system-sub000/pkg/sharedsvc"
	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tms: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(parseLogLevel(cfg.LogLevel), os.Stdout)
	logger.Info("starting tenant management system")

	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, rate limiting will use local counters")
		}
		defer redisClient.Close()
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    true,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var auditor audit.Logger = audit.NoopLogger{}
	var dbAuditor *audit.DBLogger
	if cfg.AuditEnabled {
		dbAuditor = audit.NewDBLogger(db, logger)
		auditor = dbAuditor
	}

	system := auth.SystemIdentity{Audience: cfg.OIDCAudience}
	var verifier auth.TokenVerifier
	if cfg.AuthDisabled {
		logger.Warn("authentication is DISABLED, all requests share a static identity")
		verifier = &auth.StaticVerifier{Claims: &auth.Claims{
			Subject:          "local-dev",
			Audience:         cfg.OIDCAudience,
			IdentityProvider: auth.ProviderIDIR,
			Email:            "local-dev@example.com",
		}}
	} else {
		verifier, err = auth.NewOIDCVerifier(ctx, auth.VerifierConfig{
			IssuerURL: cfg.OIDCIssuerURL,
			Audience:  cfg.OIDCAudience,
		})
		if err != nil {
			return fmt.Errorf("failed to set up token verification: %w", err)
		}
	}

	tenantStore := tenants.NewStore(db, metrics)
	groupStore := groups.NewStore(db, tenantStore, metrics)
	serviceStore := sharedsvc.NewStore(db, metrics)
	requestStore := requests.NewStore(db, tenantStore, metrics)

	if cfg.SharedServiceSeedFile != "" {
		if err := serviceStore.SeedFromFile(ctx, cfg.SharedServiceSeedFile, logger); err != nil {
			return fmt.Errorf("shared service seed failed: %w", err)
		}
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(redisClient, cfg.RateLimitPerMin, logger, metrics)
	}

	health := observability.NewHealthChecker(db, redisClient)

	apiServer := api.NewServer(cfg.Port, api.Deps{
		Logger:       logger,
		Metrics:      metrics,
		Health:       health,
		Verifier:     verifier,
		System:       system,
		Auditor:      auditor,
		RateLimiter:  limiter,
		TenantStore:  tenantStore,
		GroupStore:   groupStore,
		ServiceStore: serviceStore,
		RequestStore: requestStore,
		TraceRoutes:  cfg.OTelEnabled,
	})

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", health.Health)
	healthMux.HandleFunc("/ready", health.Readiness)
	healthMux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      healthMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	stats := observability.NewStatsCollector(db, metrics, logger)
	if err := stats.Start(cfg.StatsCronSpec); err != nil {
		return fmt.Errorf("failed to start stats collector: %w", err)
	}

	shutdown := observability.NewShutdownManager(logger, 30*time.Second, apiServer.HTTPServer(), healthServer)
	shutdown.RegisterShutdownFunc(stats.Stop)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	if dbAuditor != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			dbAuditor.Close()
			return nil
		})
	}

	var g errgroup.Group
	g.Go(apiServer.Start)
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

func parseLogLevel(level string) observability.LogLevel {
	switch level {
	case "debug":
		return observability.DebugLevel
	case "warn":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}
