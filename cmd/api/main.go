package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/dormledger/auth-service/internal/api/http"
	"github.com/dormledger/auth-service/internal/api/http/handlers"
	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/config"
	"github.com/dormledger/auth-service/internal/events"
	"github.com/dormledger/auth-service/internal/observability"
	"github.com/dormledger/auth-service/internal/persistence"
	"github.com/dormledger/auth-service/internal/realtime"
	"github.com/dormledger/auth-service/internal/repository"
	"github.com/dormledger/auth-service/internal/service"
	"github.com/dormledger/auth-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics("dormledger_auth")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var (
		users    repository.UserRepository
		sessions service.SessionRegistry
		deps     = map[string]handlers.Pinger{}
	)
	if pg.Configured() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		users = repository.NewUserRepository(pg.Pool)
		sessions = repository.NewSessionRepository(pg.Pool)
		deps["postgres"] = pg
	} else {
		users = repository.NewMemoryUserRepository()
		sessions = repository.NewMemorySessionRepository()
	}

	var revocations service.RevocationStore
	if cfg.Revocation.Backend == config.RevocationBackendRedis {
		rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
		defer rdb.Close()
		revocations = repository.NewRedisRevocationStore(rdb.Client, cfg.Revocation.KeyPrefix, nil)
		deps["redis"] = rdb
	} else {
		mem := repository.NewMemoryRevocationStore(nil)
		defer mem.Close()
		revocations = mem
	}

	if cfg.Auth.BootstrapAdminEmail != "" {
		created, err := auth.EnsureUser(ctx, users, auth.SeedUser{
			Email:    cfg.Auth.BootstrapAdminEmail,
			Password: cfg.Auth.BootstrapAdminPassword,
			Roles:    []string{auth.RoleAdmin},
		}, cfg.Auth.BcryptCost)
		if err != nil {
			logger.Fatal("failed to bootstrap admin", zap.Error(err))
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("email", cfg.Auth.BootstrapAdminEmail))
		}
	}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret:         cfg.Auth.JWTSecret,
		FallbackSecret: cfg.Auth.JWTFallbackSecret,
		Issuer:         cfg.Auth.Issuer,
		AccessTTL:      cfg.Auth.AccessTokenTTL,
		RefreshTTL:     cfg.Auth.RefreshTokenTTL,
	})

	dispatcher := events.NewInMemoryDispatcher()
	hub := realtime.NewHub(realtime.HubConfig{
		WriteWait:  cfg.Realtime.WriteWait,
		PongWait:   cfg.Realtime.PongWait,
		SendBuffer: cfg.Realtime.SendBuffer,
	}, logger, metrics)

	notifications := service.NewNotificationService(dispatcher, hub, logger)
	notifications.RegisterHandlers()

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		Verifier:    auth.NewPasswordVerifier(users),
		Tokens:      tokens,
		Sessions:    sessions,
		Revocations: revocations,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Auth:           handlers.NewAuthHandler(authService),
		Admin:          handlers.NewAdminHandler(authService, notifications),
		AuthMiddleware: auth.NewAuthMiddleware(authService),
		Metrics:        metrics,
	})

	sweeper := worker.NewSweeper(sessions, revocations, worker.SweeperConfig{
		Interval:    cfg.Auth.SweepInterval,
		IdleTimeout: cfg.Auth.SessionIdleTimeout,
		Retention:   cfg.Auth.SessionRetention,
		OpTimeout:   cfg.Auth.StoreTimeout,
	}, logger, metrics)
	go sweeper.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle(cfg.Realtime.Path, realtime.NewHandler(hub, authService, cfg.Realtime.AllowedOrigins, logger))
	realtimeServer := &http.Server{
		Addr:              cfg.Realtime.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("realtime listener started", zap.String("addr", cfg.Realtime.Addr), zap.String("path", cfg.Realtime.Path))
		if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("realtime listen", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	hub.Close()
	if err := realtimeServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
