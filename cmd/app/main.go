package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coursemarket/config"
	"coursemarket/internal/application/usecase"
	"coursemarket/internal/infrastructure/cache"
	"coursemarket/internal/infrastructure/email"
	"coursemarket/internal/infrastructure/payment"
	"coursemarket/internal/infrastructure/repository"
	"coursemarket/internal/infrastructure/scheduler"
	"coursemarket/internal/infrastructure/security"
	"coursemarket/internal/middleware"
	grpc_server "coursemarket/internal/transport/grpc"
	handlers "coursemarket/internal/transport/http"
	"coursemarket/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Конфиг
	cfg, err := config.LoadConfig(".")
	if err != nil {
		boot := logger.New("info", false, os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
	log.Info().Msg("service stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	// 2. БД
	db, err := repository.OpenPostgres(repository.PostgresConfig{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser, Password: cfg.DBPassword, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := repository.AutoMigrate(db); err != nil {
		return err
	}
	store := repository.NewStore(db)
	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("connected to postgres")

	// 3. Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	// 4. Внешние сервисы
	gateway, err := payment.NewGateway(payment.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.StripeTimeout,
	})
	if err != nil {
		return err
	}
	mailer := email.NewEmailSender(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.PublicBaseURL, logger.Component(log, "email"))

	// 5. Use-case слой
	tokens := security.NewTokenManager(cfg.AccessSecret, cfg.RefreshSecret)
	authUC := usecase.NewAuthUseCase(store, cache.NewTokenCache(rdb), security.NewPasswordHasher(), tokens, logger.Component(log, "auth"))
	enrollments := usecase.NewEnrollmentManager(store, logger.Component(log, "enrollment"))
	progress := usecase.NewProgressAggregator(store, logger.Component(log, "progress"))
	payments := usecase.NewPaymentReconciler(store, enrollments, gateway, mailer, cfg.PublicBaseURL, logger.Component(log, "payment"))
	catalog := usecase.NewCatalogUseCase(store, cache.NewCatalogCache(rdb), progress, logger.Component(log, "catalog"))
	users := usecase.NewUserUseCase(store, logger.Component(log, "user"))

	// 6. HTTP
	router := handlers.NewRouter(handlers.Handlers{
		Auth:       handlers.NewAuthHandler(authUC, strings.HasPrefix(cfg.PublicBaseURL, "https://")),
		Course:     handlers.NewCourseHandler(catalog),
		Enrollment: handlers.NewEnrollmentHandler(enrollments, progress),
		Payment:    handlers.NewPaymentHandler(payments, logger.Component(log, "webhook")),
		User:       handlers.NewUserHandler(users),
		Health: map[string]handlers.HealthCheck{
			"postgres": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}, authUC, middleware.NewRateLimiter(rdb, logger.Component(log, "ratelimit")), cfg.Origins(), logger.Component(log, "http"))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. gRPC
	grpcSrv, health := grpc_server.NewServer(grpc_server.NewLearningServer(progress, payments), logger.Component(log, "grpc"))
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	// 8. Сверка зависших платежей
	sweep, err := scheduler.New(payments, cfg.ReconcileSchedule, cfg.ReconcileAfter, logger.Component(log, "scheduler"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpSrv.Addr).Msg("http server running")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("grpc server running")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		return sweep.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		health.SetServingStatus(grpc_server.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return err
	})

	return g.Wait()
}
