// Command buyersign-server starts the buyersign HTTP API server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwellingly/buyersign/internal/ai"
	"github.com/dwellingly/buyersign/internal/config"
	"github.com/dwellingly/buyersign/internal/limiter"
	"github.com/dwellingly/buyersign/internal/migrate"
	"github.com/dwellingly/buyersign/internal/repository"
	"github.com/dwellingly/buyersign/internal/repository/localstore"
	"github.com/dwellingly/buyersign/internal/repository/postgres"
	"github.com/dwellingly/buyersign/internal/server/httpserver"
	"github.com/dwellingly/buyersign/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations when Postgres is configured,
// and starts the HTTP server with graceful shutdown.
func main() {
	cfg, err := config.ParseEnv()
	if err != nil {
		// логгера ещё нет
		panic(err)
	}

	// Flags override the environment.
	addr := flag.String("addr", cfg.Addr, "listen address")
	dsn := flag.String("dsn", cfg.DatabaseDSN, "PostgreSQL DSN (empty = file store)")
	storePath := flag.String("store", cfg.StorePath, "file store path (used when -dsn is empty)")
	accessTTL := flag.Duration("access-ttl", cfg.AccessTTL, "access token TTL")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		inviteRepo repository.InviteRepository
		agentRepo  repository.AgentRepository
		lim        limiter.Limiter
	)
	if *dsn != "" {
		if err := migrate.Up(ctx, *dsn); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer pool.Close()

		db := &postgres.DB{Pool: pool}
		inviteRepo = postgres.NewInviteRepo(db)
		agentRepo = postgres.NewAgentRepo(db)
		lim = limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)
		logger.Info("storage: postgres")
	} else {
		store, err := localstore.Open(*storePath)
		if err != nil {
			logger.Fatal("open store", zap.Error(err), zap.String("path", *storePath))
		}
		inviteRepo = store.Invites()
		agentRepo = store.Agents()
		lim = limiter.NewMemory(15*time.Minute, 5, 15*time.Minute)
		logger.Info("storage: file", zap.String("path", *storePath))
	}

	signKey := []byte(cfg.JWTKey)
	authSvc := service.NewAuthService(agentRepo, signKey, *accessTTL, lim)
	inviteSvc := service.NewInviteService(inviteRepo, nil)
	reportSvc := service.NewReportService(inviteRepo, nil)
	advisor := ai.New(cfg.GeminiAPIKey, logger)

	app := httpserver.New(authSvc, inviteSvc, reportSvc, advisor, signKey, cfg.PublicBaseURL, nil)
	handler := httpserver.Logging(logger)(httpserver.Recover(logger)(app.Routes()))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
