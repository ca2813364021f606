package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/subsync/libs/config"
	"github.com/md-rashed-zaman/subsync/libs/db"
	"github.com/md-rashed-zaman/subsync/libs/httpx"
	"github.com/md-rashed-zaman/subsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/subsync/libs/otel"
	"github.com/md-rashed-zaman/subsync/libs/redisx"
	"github.com/md-rashed-zaman/subsync/libs/runtime"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/billing"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/handlers"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/jobs"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/notify"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/outbox"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/plans"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/reconcile"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/reminders"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	port, err := config.ValidPort("PORT", cfg.Port)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = cfg.ServiceName
	}
	otelShutdown, err := otelx.Setup(ctx, cfg.OTel)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, storage.Migrations, storage.MigrationsDir, logger); err != nil {
		logger.Error("db migration failed", "err", err)
		os.Exit(1)
	}

	rdb, err := redisx.Connect(ctx, cfg.RedisURL, 5, 2*time.Second)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	outboxRepo := outbox.NewRepository()
	store := storage.New(pool, outboxRepo)
	jobsRepo := jobs.NewRepository(pool)

	stripeClient := provider.NewStripe(provider.StripeConfig{
		SecretKey:        cfg.StripeSecretKey,
		WebhookSecret:    cfg.StripeWebhookSecret,
		WebhookTolerance: time.Duration(cfg.StripeWebhookTolerance) * time.Second,
	})

	sender, channel := newSender(cfg, logger)
	mailer := notify.NewMailer(sender, channel, notify.NewRepository(pool), logger)
	logger.Info("mail channel selected", "channel", channel)

	scheduler := reminders.NewScheduler(store, jobsRepo, reminders.NewRedisMarkers(rdb), mailer, logger, cfg.ReminderLead)
	billingSvc := billing.NewService(store, stripeClient, logger, billing.Config{
		FrontendHost:    cfg.FrontendHost,
		ProviderTimeout: cfg.ProviderTimeout,
	})
	catalog := plans.NewCatalog(store, stripeClient, logger, cfg.ProviderTimeout)
	dispatcher := webhook.NewDispatcher(store, stripeClient, scheduler, mailer, logger, cfg.ProviderTimeout)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	worker := jobs.NewWorker(pool, jobsRepo, outboxRepo, logger, jobs.WorkerConfig{Interval: cfg.JobsPollInterval})
	worker.Handle(reminders.JobKind, scheduler.HandleJob)
	go worker.Run(ctx)

	if cfg.ReconcileEnabled {
		rec := reconcile.New(store, billingSvc, reconcile.NewAdvisoryLock(pool, cfg.ReconcileLockKey), logger, reconcile.Config{
			Interval:  cfg.ReconcileInterval,
			BatchSize: cfg.ReconcileBatchSize,
		})
		go rec.Run(ctx)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}
	mux := runtime.NewBaseMuxWithReady(checks...)

	h := handlers.New(store, billingSvc, catalog, dispatcher, logger, handlers.Config{
		JWTSecret: cfg.JWTSecret,
		JWTTTL:    cfg.JWTTTL,
	})
	mux.Handle("/api/", h.Routes(newLimiter(cfg, rdb, logger)))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(httpx.SplitList(cfg.CORSOrigins))),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	hs, err := startGrpcServer(ctx, logger, cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc server failed to start", "err", err)
	} else {
		go trackHealth(ctx, hs, checks)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	dispatcher.Wait()
	logger.Info("http server stopped")
}

func newSender(cfg appConfig, logger *slog.Logger) (notify.Sender, string) {
	switch {
	case strings.TrimSpace(cfg.PostmarkServerToken) != "":
		return notify.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.MailFrom), "postmark"
	case strings.TrimSpace(cfg.SMTPHost) != "":
		return notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.MailFrom), "smtp"
	default:
		return notify.NewLogSender(logger), "log"
	}
}

func newLimiter(cfg appConfig, rdb *redis.Client, logger *slog.Logger) httpx.Limiter {
	if strings.EqualFold(cfg.RateLimitBackend, "memory") {
		return httpx.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}
	return httpx.NewRedisRateLimiter(rdb, logger, httpx.RedisRateLimiterConfig{
		Limit:    cfg.RateLimit,
		Window:   cfg.RateLimitWindow,
		Prefix:   "rl:auth",
		FailOpen: true,
	})
}

// trackHealth mirrors the readiness checks into the gRPC health service.
func trackHealth(ctx context.Context, hs *health.Server, checks []runtime.ReadyCheck) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if failures := runtime.RunChecks(ctx, checks...); len(failures) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
