package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CyberwizD/webpush-service/internal/config"
	"github.com/CyberwizD/webpush-service/internal/consumer"
	"github.com/CyberwizD/webpush-service/internal/repository"
	"github.com/CyberwizD/webpush-service/internal/routes"
	"github.com/CyberwizD/webpush-service/internal/services"
	"github.com/CyberwizD/webpush-service/pkg/logger"
	"github.com/CyberwizD/webpush-service/pkg/metrics"
	"github.com/CyberwizD/webpush-service/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)
	logr.Info("starting push service", slog.String("app", cfg.AppName))

	pushClient, err := services.NewWebPushClient(services.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}, logr,
		services.WithTTL(cfg.PushTTL),
		services.WithUrgency(cfg.PushUrgency),
		services.WithTimeout(cfg.DeliveryTimeout),
	)
	if err != nil {
		var cfgErr *services.ConfigurationError
		if errors.As(err, &cfgErr) {
			logr.Error("invalid signing configuration", slog.String("field", cfgErr.Field), slog.String("reason", cfgErr.Reason))
		} else {
			logr.Error("failed to build push client", slog.Any("error", err))
		}
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logr.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}

	notificationStore, err := repository.NewNotificationStore(db)
	if err != nil {
		logr.Error("failed to prepare notification store", slog.Any("error", err))
		os.Exit(1)
	}
	subscriptionStore, err := repository.NewSubscriptionStore(db)
	if err != nil {
		logr.Error("failed to prepare subscription store", slog.Any("error", err))
		os.Exit(1)
	}

	var cache services.DeliveryCache
	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			logr.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		cache = repository.NewRedisRepository(rdb, cfg.SuppressionTTL, cfg.IdempotencyTTL)
	}

	metricsCollector := metrics.New()
	dispatcher := services.NewBulkDispatcher(pushClient, cfg.BulkConcurrency, logr)
	lifecycle := services.NewLifecycleManager(notificationStore, logr)

	retryCfg := retry.Config{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}

	processor := services.NewPushProcessor(
		pushClient,
		dispatcher,
		lifecycle,
		subscriptionStore,
		cache,
		metricsCollector,
		logr,
		retryCfg,
	)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logr.Error("failed to connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	base := consumer.NewBaseConsumer(conn, consumer.QueueConfig{
		Exchange:   cfg.PushExchange,
		RoutingKey: cfg.PushRoutingKey,
		Queue:      cfg.PushQueue,
		DeadLetter: cfg.DeadLetterQueue,
		Prefetch:   cfg.PrefetchCount,
		Workers:    cfg.WorkerCount,
	}, logr)
	pushConsumer := consumer.NewPushConsumer(base, processor, logr, cfg.RetryMaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	httpSrv := startHTTPServer(cfg.HTTPPort, metricsCollector, pushClient.PublicKey(), logr, started)

	if err := pushConsumer.Start(ctx); err != nil {
		logr.Error("push consumer exited", slog.Any("error", err))
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("push service stopped")
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		return redis.ParseURL(raw)
	}
	return &redis.Options{Addr: raw}, nil
}

func startHTTPServer(port string, metricsCollector *metrics.Metrics, vapidPublicKey string, logr *slog.Logger, started time.Time) *http.Server {
	if port == "" {
		port = "8082"
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(metricsCollector, vapidPublicKey, started),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
