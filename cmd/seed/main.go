package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/config"
	"github.com/dormledger/auth-service/internal/observability"
	"github.com/dormledger/auth-service/internal/persistence"
	"github.com/dormledger/auth-service/internal/repository"
)

func main() {
	var (
		email    = flag.String("email", "", "account email")
		username = flag.String("username", "", "account username (defaults to the email's local part)")
		name     = flag.String("name", "", "display name")
		password = flag.String("password", "", "account password")
		roles    = flag.String("roles", auth.RoleResident, "comma separated roles")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	if !pg.Configured() {
		logger.Fatal("POSTGRES_DSN is required to seed users")
	}
	if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	created, err := auth.EnsureUser(ctx, repository.NewUserRepository(pg.Pool), auth.SeedUser{
		Username:    *username,
		Email:       *email,
		DisplayName: *name,
		Password:    *password,
		Roles:       strings.Split(*roles, ","),
	}, cfg.Auth.BcryptCost)
	if err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	if !created {
		logger.Info("user already exists", zap.String("email", *email))
		return
	}
	logger.Info("user created", zap.String("email", *email))
}
