package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/breaker"
	"github.com/kursadbilgin/notify-relay/internal/config"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	"github.com/kursadbilgin/notify-relay/internal/handler"
	"github.com/kursadbilgin/notify-relay/internal/idempotency"
	"github.com/kursadbilgin/notify-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-relay/internal/infra/redis"
	"github.com/kursadbilgin/notify-relay/internal/observability"
	"github.com/kursadbilgin/notify-relay/internal/provider"
	"github.com/kursadbilgin/notify-relay/internal/queue"
	"github.com/kursadbilgin/notify-relay/internal/ratelimit"
	"github.com/kursadbilgin/notify-relay/internal/repository"
	"github.com/kursadbilgin/notify-relay/internal/retry"
	"github.com/kursadbilgin/notify-relay/internal/service"
	"github.com/kursadbilgin/notify-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("notify-relay stopped with error", zap.Error(err))
	}
	logger.Info("notify-relay stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	kinds, err := cfg.Kinds()
	if err != nil {
		return err
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolSizeFor(cfg.WorkerConcurrency))
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(ctx, db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	store, err := infraredis.NewCache(rdb)
	if err != nil {
		return err
	}
	gate, err := idempotency.NewGate(store, cfg.DedupTTL(), cfg.ReservationTTL())
	if err != nil {
		return err
	}
	circuits, err := breaker.New(store, breaker.Config{
		Threshold:     int64(cfg.CircuitFailureThreshold),
		FailureWindow: cfg.CircuitFailureWindow(),
		Cooldown:      cfg.CircuitCooldown(),
	})
	if err != nil {
		return err
	}

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RateLimitPerSec > 0 {
		if limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, cfg.ReservationTTL()/3); err != nil {
			return err
		}
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
	metrics := observability.NewMetrics()

	scheduler, err := retry.NewScheduler(publisher, cfg.RetryBaseDelay())
	if err != nil {
		return err
	}
	relay, err := retry.NewRelay(publisher, logger)
	if err != nil {
		return err
	}
	relay.SetMetrics(metrics)

	providers, err := buildProviders(ctx, cfg, kinds, logger)
	if err != nil {
		return err
	}

	statuses := repository.NewGormStatusRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	pipelines := make([]*service.Pipeline, 0, len(kinds))
	for _, kind := range kinds {
		p, err := providers.Get(kind)
		if err != nil {
			return err
		}
		router, err := service.NewRouter(kind, statuses, gate, scheduler, publisher, logger)
		if err != nil {
			return err
		}
		pipeline, err := service.NewPipeline(p, gate, circuits, router, attempts, limiter, service.PipelineConfig{
			MaxRetry:       cfg.MaxRetry,
			RetryBaseDelay: cfg.RetryBaseDelay(),
			SendTimeout:    cfg.SendTimeout(),
			RequeueDelay:   service.DefaultRequeueDelay,
		}, logger)
		if err != nil {
			return err
		}
		pipeline.SetMetrics(metrics)
		pipelines = append(pipelines, pipeline)
	}

	worker, err := service.NewWorkerService(consumer, relay.Handle, logger, pipelines...)
	if err != nil {
		return err
	}

	app := transport.NewApp(logger, metrics)
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterStatusRoutes(app, statuses, attempts, gate); err != nil {
		return err
	}
	if err := handler.RegisterCircuitRoutes(app, circuits); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("ops api listening", zap.String("addr", addr))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	logger.Info("notify-relay started",
		zap.Strings("kinds", kindNames(kinds)),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildProviders(ctx context.Context, cfg *config.Config, kinds []domain.Kind, logger *zap.Logger) (provider.Registry, error) {
	providers := make([]provider.Provider, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case domain.KindEmail:
			if cfg.SendGridAPIKey == "" || cfg.MailFrom == "" {
				logger.Warn("sendgrid is not fully configured, email jobs will be dead-lettered")
			}
			p, err := provider.NewSendGridProvider(cfg.SendGridEndpoint, cfg.SendGridAPIKey, cfg.MailFrom)
			if err != nil {
				return nil, fmt.Errorf("email provider: %w", err)
			}
			providers = append(providers, p)
		case domain.KindPush:
			creds, err := provider.LoadFirebaseCredentials(
				ctx, cfg.FirebaseCredentialsJSON, cfg.FirebaseCredentialsPath, cfg.FCMProjectID,
			)
			if err != nil {
				return nil, fmt.Errorf("push provider: %w", err)
			}
			p, err := provider.NewFCMProvider(cfg.FCMEndpoint, creds.ProjectID, creds.Tokens)
			if err != nil {
				return nil, fmt.Errorf("push provider: %w", err)
			}
			providers = append(providers, p)
		}
	}
	return provider.NewRegistry(providers...)
}

func kindNames(kinds []domain.Kind) []string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}
	return names
}
