package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/josh-kwaku/escrow-marketplace/internal/config"
	"github.com/josh-kwaku/escrow-marketplace/internal/handler"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/middleware"
	"github.com/josh-kwaku/escrow-marketplace/internal/notify"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
	"github.com/josh-kwaku/escrow-marketplace/internal/service"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/acceptance"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
	"github.com/josh-kwaku/escrow-marketplace/migrations"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("escrow-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	fees, err := config.NewFees(cfg.Fees, cfg.FeeScheduleFile)
	if err != nil {
		logger.Error("failed to load fee schedule", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	inviteRepo := repository.NewInviteRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	notificationRepo := repository.NewNotificationEventRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)
	mintRepo := repository.NewMintAllowanceRepository(db)

	engine := ledger.NewEngine(db, accountRepo, ledgerRepo, m)
	outbox := notify.NewOutbox(notificationRepo, cfg.PublicBaseURL, m)

	orders := lifecycle.NewService(orderRepo, engine, fees, outbox, db, m)
	invites := acceptance.NewService(inviteRepo, proposalRepo, orders, outbox, db, m, cfg.InviteTTL)
	wallets := service.NewWalletService(db, engine, mintRepo, service.MintLimits{
		Daily:   cfg.MintDailyLimit,
		Monthly: cfg.MintMonthlyLimit,
	})

	sweeper := service.NewAutoConfirmSweeper(orders, logger, cfg.AutoConfirmInterval, cfg.AutoConfirmBatchSize, m)
	expirer := service.NewInviteExpirer(invites, logger, cfg.InviteExpiryInterval, cfg.AutoConfirmBatchSize)

	ctx, stop := context.WithCancel(context.Background())
	var jobs sync.WaitGroup
	run := func(start func(context.Context)) {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			start(ctx)
		}()
	}

	run(sweeper.Start)
	run(expirer.Start)
	run(func(ctx context.Context) { cleanIdempotency(ctx, idempotencyRepo, logger) })
	if cfg.NotifyWebhookURL != "" {
		client := notify.NewWebhookClient(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret)
		dispatcher := notify.NewDispatcher(notificationRepo, client, logger, cfg.NotifyPollInterval, cfg.NotifyMaxAttempts, m)
		run(dispatcher.Start)
	} else {
		logger.Info("notification webhook not configured, events stay in the outbox")
	}

	router := newRouter(handlers{
		health:  handler.NewHealthHandler(db, version),
		wallet:  handler.NewWalletHandler(wallets),
		orders:  handler.NewOrderHandler(orders),
		invites: handler.NewInviteHandler(invites),
		admin:   handler.NewAdminHandler(wallets, sweeper, notificationRepo),
	}, routerDeps{
		jwtSecret:   cfg.JWTSecret,
		limiter:     middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m),
		idempotency: idempotencyRepo,
		metrics:     m,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			break
		}
		if err := fees.Reload(); err != nil {
			logger.Error("fee schedule reload failed, keeping previous schedule", "error", err)
			continue
		}
		logger.Info("fee schedule reloaded", "schedule", fees.Snapshot())
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stop()
	jobs.Wait()
	logger.Info("server stopped")
}

func connectDB(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}
	db, err := repository.ConnectWithRetry(context.Background(), cfg.DatabaseURL, pool, 30, logger)
	if err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}

	if cfg.MigrateOnStart {
		ran, err := migrations.Apply(context.Background(), db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connectDB: %w", err)
		}
		if len(ran) > 0 {
			logger.Info("migrations applied", "versions", ran)
		}
	}
	return db, nil
}

func cleanIdempotency(ctx context.Context, repo *repository.IdempotencyRepository, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanExpired(ctx)
			if err != nil {
				logger.Error("failed to clean idempotency cache", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("idempotency cache cleaned", "removed", n)
			}
		}
	}
}
