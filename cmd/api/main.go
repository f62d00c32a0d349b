package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kbridge/unity-send/internal/channel"
	"github.com/kbridge/unity-send/internal/config"
	"github.com/kbridge/unity-send/internal/handler"
	"github.com/kbridge/unity-send/internal/infra/postgresql"
	"github.com/kbridge/unity-send/internal/infra/postgresql/migrations"
	infraredis "github.com/kbridge/unity-send/internal/infra/redis"
	"github.com/kbridge/unity-send/internal/observability"
	"github.com/kbridge/unity-send/internal/queue"
	"github.com/kbridge/unity-send/internal/repository"
	"github.com/kbridge/unity-send/internal/service"
	"github.com/kbridge/unity-send/internal/template"
	"github.com/kbridge/unity-send/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	sendRepo := repository.NewGormSendRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	templateRepo := repository.NewGormTemplateRepo(db)

	resolver, err := template.NewResolver(templateRepo)
	if err != nil {
		logger.Fatal("template resolver initialization failed", zap.Error(err))
	}

	registry, err := buildAdapterRegistry(cfg)
	if err != nil {
		logger.Fatal("adapter registry initialization failed", zap.Error(err))
	}

	orch, err := service.NewOrchestrator(
		sendRepo,
		attemptRepo,
		resolver,
		registry,
		rateLimiter,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	orch.SetMetrics(metrics)

	sweeper, err := service.NewRetrySweeper(
		sendRepo,
		orch,
		time.Duration(cfg.RetrySweepSec)*time.Second,
		cfg.RetrySweepLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("retry sweeper initialization failed", zap.Error(err))
	}

	dispatchLoop := service.NewDispatchLoop(
		orch,
		time.Duration(cfg.DispatchIntervalSec)*time.Second,
		cfg.DispatchScanLimit,
		logger,
	)
	poller := service.NewConfirmationPoller(
		orch,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		cfg.PollScanLimit,
		logger,
	)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterSendRoutes(app, orch, sendRepo); err != nil {
		logger.Fatal("send route registration failed", zap.Error(err))
	}
	if err := handler.RegisterCallbackRoutes(app, publisher, nil); err != nil {
		logger.Fatal("callback route registration failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatchLoop.Start(gctx)
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	g.Go(func() error {
		return poller.Start(gctx)
	})
	g.Go(func() error {
		return consumer.Consume(gctx, queue.CallbackQueueName, service.CallbackMessageHandler(orch, logger))
	})
	g.Go(func() error {
		logger.Info("unity-send api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server started", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("api shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("service terminated", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildAdapterRegistry(cfg *config.Config) (*channel.Registry, error) {
	kakao, err := channel.NewKakaoAdapter(cfg.KakaoEndpoint, cfg.KakaoAPIKey)
	if err != nil {
		return nil, err
	}
	kt, err := channel.NewKTAdapter(cfg.KTEndpoint, cfg.KTAPIKey)
	if err != nil {
		return nil, err
	}
	epost, err := channel.NewEPostAdapter(cfg.EPostEndpoint, cfg.EPostAPIKey)
	if err != nil {
		return nil, err
	}
	postplus, err := channel.NewPostPlusAdapter(cfg.PostPlusEndpoint, cfg.PostPlusAPIKey)
	if err != nil {
		return nil, err
	}
	sms, err := channel.NewSMSAdapter(cfg.SMSEndpoint, cfg.SMSAPIKey)
	if err != nil {
		return nil, err
	}

	return channel.NewRegistry(kakao, kt, epost, postplus, sms)
}
