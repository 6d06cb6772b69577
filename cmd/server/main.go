// Command server runs the KYC orchestration service: the HTTP surface,
// the worker pool, the event dispatcher and the maintenance loop, all
// over one shared set of stores.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kycflow/internal/admin"
	"kycflow/internal/caseflow"
	casehandler "kycflow/internal/caseflow/handler"
	caseflowmetrics "kycflow/internal/caseflow/metrics"
	"kycflow/internal/events"
	"kycflow/internal/health"
	healthmetrics "kycflow/internal/health/metrics"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/logger"
	"kycflow/internal/platform/postgres"
	redisplatform "kycflow/internal/platform/redis"
	"kycflow/internal/provider"
	"kycflow/internal/provider/adapters"
	"kycflow/internal/router"
	routermetrics "kycflow/internal/router/metrics"
	"kycflow/internal/stats"
	httptransport "kycflow/internal/transport/http"
	"kycflow/internal/trust"
	trustmetrics "kycflow/internal/trust/metrics"
	"kycflow/internal/webhook"
	webhookmetrics "kycflow/internal/webhook/metrics"
	"kycflow/internal/worker"
	workermetrics "kycflow/internal/worker/metrics"
	"kycflow/pkg/domain"
)

const (
	exitOK     = 0
	exitConfig = 64
	exitFatal  = 70
)

const adminTokenTTL = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.New()
	slog.SetDefault(log)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", "error", err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Infrastructure. Postgres and Redis are both optional: without a
	// database the stores run in memory, which suits local development
	// but loses state on restart.
	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		return exitFatal
	}
	if db != nil {
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("schema migration failed", "error", err)
			return exitFatal
		}
	} else {
		log.Warn("no KYC_DATABASE_URL, running on in-memory stores")
	}

	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		return exitFatal
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Vendor adapters and live accounting.
	registry, err := adapters.BuildRegistry(cfg.Vendors)
	if err != nil {
		log.Error("building vendor registry failed", "error", err)
		return exitFatal
	}

	statsStore := newStatsStore(db, cfg)
	if err := seedStats(ctx, statsStore, provider.DefaultConfigs()); err != nil {
		log.Error("seeding vendor stats failed", "error", err)
		return exitFatal
	}

	routerOpts := []router.Option{
		router.WithLogger(log),
		router.WithMetrics(routermetrics.New()),
		router.WithCache(newDecisionCache(redisClient, log)),
	}
	if db != nil {
		routerOpts = append(routerOpts, router.WithRecorder(router.NewPostgresRecorder(db, log)))
	}
	banditRouter := router.New(registry, statsStore, cfg.Router, routerOpts...)

	// Events: in-process dispatcher, optional Kafka mirror.
	dispatcher := events.NewDispatcher(events.WithLogger(log))
	kafkaSink, err := events.NewKafkaSink(ctx, cfg.KafkaBrokers, log)
	if err != nil {
		log.Error("kafka unavailable", "error", err)
		return exitFatal
	}
	if kafkaSink != nil {
		defer kafkaSink.Close()
		dispatcher.Register(kafkaSink)
	}

	// Case orchestration.
	caseStore, txRunner := newCaseStore(db)
	service := caseflow.New(caseStore, statsStore, registry, banditRouter, dispatcher, txRunner,
		caseflow.Config{
			ThresholdApprove: cfg.ThresholdApprove,
			MaxRetries:       cfg.MaxRetries,
			CallbackGrace:    cfg.CallbackGrace,
		},
		caseflow.WithLogger(log),
		caseflow.WithMetrics(caseflowmetrics.New()),
	)

	pool := worker.New(service, worker.Config{Workers: cfg.Workers},
		worker.WithLogger(log),
		worker.WithMetrics(workermetrics.New()),
	)

	// Webhook ingress.
	webhookStore := newWebhookStore(db)
	webhookOpts := []webhook.Option{webhook.WithMetrics(webhookmetrics.New())}
	if redisClient != nil {
		webhookOpts = append(webhookOpts, webhook.WithDedupCache(
			webhook.NewRedisDedup(redisClient.Client, log)))
	}
	webhookHandler := webhook.New(registry, webhookStore, pool, log, webhookOpts...)

	// Trust profiles, fed by case terminations.
	trustStore := newTrustStore(db)
	aggregator := trust.NewAggregator(caseStore, trustStore, dispatcher,
		trust.WithLogger(log),
		trust.WithMetrics(trustmetrics.New()),
	)
	dispatcher.Register(aggregator)

	// Maintenance loop.
	loop := health.New(registry, statsStore, webhookStore, banditRouter,
		health.Config{Location: cfg.BillingTimezone},
		health.WithLogger(log),
		health.WithMetrics(healthmetrics.New()),
	)

	// Operator surface.
	tokens := admin.NewTokenService(cfg.AdminJWTKey, adminTokenTTL)
	adminHandler := admin.New(tokens, cfg.AdminSecretHash, registry, statsStore, log)

	webhookSecrets := make(map[domain.VendorID]bool, len(cfg.Vendors))
	for vendor, secrets := range cfg.Vendors {
		webhookSecrets[vendor] = secrets.WebhookSecret != ""
	}

	mux := httptransport.NewRouter(httptransport.Deps{
		Cases:    casehandler.New(service, log),
		Webhooks: webhookHandler,
		Trust:    trust.NewHandler(trustStore),
		Admin:    adminHandler,
		Tokens:   tokens,
		Health: httptransport.NewHealthHandler(pingDB(db), pingRedis(redisClient),
			registry, webhookStore, webhookSecrets),
		Logger: log,
	})
	srv := httpserver.New(cfg.Addr, mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runIgnoringCancel(ctx, dispatcher.Run) })
	g.Go(func() error { return runIgnoringCancel(ctx, pool.Run) })
	g.Go(func() error { return runIgnoringCancel(ctx, loop.Run) })
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("service failed", "error", err)
		return exitFatal
	}
	log.Info("shutdown complete")
	return exitOK
}

// runIgnoringCancel treats context cancellation as a clean exit so a
// SIGTERM does not read as a failure.
func runIgnoringCancel(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newStatsStore(db *sql.DB, cfg config.Config) stats.Store {
	if db != nil {
		return stats.NewPostgres(db, cfg.BudgetEpsilon, cfg.BillingTimezone)
	}
	return stats.NewMemoryStore(cfg.BudgetEpsilon, cfg.BillingTimezone)
}

// seedStats inserts a live accounting row per vendor. Existing rows
// survive restarts untouched. LastResetAt is left zero so the store
// anchors it to the start of the billing month.
func seedStats(ctx context.Context, store stats.Store, configs map[domain.VendorID]provider.VendorConfig) error {
	for _, vendor := range domain.AllVendors() {
		cfg := configs[vendor]
		err := store.Seed(ctx, &stats.VendorStats{
			Vendor:        vendor,
			Active:        true,
			MonthlyBudget: cfg.MonthlyBudget,
			FreeTierLimit: cfg.FreeTierLimit,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func newDecisionCache(client *redisplatform.Client, log *slog.Logger) router.DecisionCache {
	if client != nil {
		return router.NewRedisCache(client.Client, log)
	}
	return router.NewMemoryCache()
}

func newCaseStore(db *sql.DB) (caseflow.Store, caseflow.TxRunner) {
	if db != nil {
		return caseflow.NewPostgres(db), caseflow.NewPostgresTx(db)
	}
	return caseflow.NewMemoryStore(), caseflow.NoopTx{}
}

func newWebhookStore(db *sql.DB) webhook.Store {
	if db != nil {
		return webhook.NewPostgres(db)
	}
	return webhook.NewMemoryStore()
}

func newTrustStore(db *sql.DB) trust.Store {
	if db != nil {
		return trust.NewPostgres(db)
	}
	return trust.NewMemoryStore()
}

func pingDB(db *sql.DB) httptransport.CheckFunc {
	if db == nil {
		return nil
	}
	return db.PingContext
}

func pingRedis(client *redisplatform.Client) httptransport.CheckFunc {
	if client == nil {
		return nil
	}
	return client.Health
}
