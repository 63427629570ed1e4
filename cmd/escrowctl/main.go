package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/auth"
	"github.com/josh-kwaku/escrow-marketplace/internal/config"
	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/notify"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
	"github.com/josh-kwaku/escrow-marketplace/internal/service"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/acceptance"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
	"github.com/josh-kwaku/escrow-marketplace/migrations"
)

const usage = `usage: escrowctl <command> [flags]

commands:
  migrate  apply pending schema migrations
  sweep    run one auto-confirmation pass
  expire   expire invites past their deadline
  audit    check ledger conservation and balance replay
  token    mint a JWT for local testing (-user, -role, -ttl)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("escrowctl", cfg.LogLevel, cfg.AppEnv)

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "token" {
		if err := token(cfg, args); err != nil {
			logger.Error("token failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     4,
		MaxIdleConns:     2,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var out any
	switch cmd {
	case "migrate":
		var ran []int
		ran, err = migrations.Apply(ctx, db)
		out = map[string][]int{"applied": ran}
	case "sweep":
		out, err = sweep(ctx, cfg, db, logger)
	case "expire":
		out, err = expire(ctx, cfg, db, logger)
	case "audit":
		out, err = audit(ctx, db)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
	printJSON(out)
}

func outbox(cfg *config.Config, db *sql.DB) *notify.Outbox {
	return notify.NewOutbox(repository.NewNotificationEventRepository(db), cfg.PublicBaseURL, nil)
}

func lifecycleService(cfg *config.Config, db *sql.DB) (*lifecycle.Service, error) {
	fees, err := config.NewFees(cfg.Fees, cfg.FeeScheduleFile)
	if err != nil {
		return nil, err
	}
	engine := ledger.NewEngine(db, repository.NewAccountRepository(db), repository.NewLedgerRepository(db), nil)
	return lifecycle.NewService(repository.NewOrderRepository(db), engine, fees, outbox(cfg, db), db, nil), nil
}

func sweep(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (any, error) {
	orders, err := lifecycleService(cfg, db)
	if err != nil {
		return nil, err
	}
	s := service.NewAutoConfirmSweeper(orders, logger, cfg.AutoConfirmInterval, cfg.AutoConfirmBatchSize, nil)
	return s.Sweep(ctx), nil
}

func expire(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (any, error) {
	orders, err := lifecycleService(cfg, db)
	if err != nil {
		return nil, err
	}
	invites := acceptance.NewService(
		repository.NewInviteRepository(db), repository.NewProposalRepository(db),
		orders, outbox(cfg, db), db, nil, cfg.InviteTTL,
	)
	n := service.NewInviteExpirer(invites, logger, cfg.InviteExpiryInterval, cfg.AutoConfirmBatchSize).Expire(ctx)
	return map[string]int{"expired": n}, nil
}

func audit(ctx context.Context, db *sql.DB) (any, error) {
	engine := ledger.NewEngine(db, repository.NewAccountRepository(db), repository.NewLedgerRepository(db), nil)
	report, err := engine.Audit(ctx)
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		printJSON(report)
		return nil, fmt.Errorf("audit: ledger inconsistent (conserved=%t consistent=%t)", report.Conserved, report.Consistent)
	}
	return report, nil
}

func token(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id (random when empty)")
	role := fs.String("role", string(domain.RoleUser), "user or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			return fmt.Errorf("token: -user: %w", err)
		}
		id = parsed
	}

	tok, err := auth.GenerateToken(id, domain.Role(*role), cfg.JWTSecret, *ttl)
	if err != nil {
		return err
	}
	printJSON(map[string]string{"user_id": id.String(), "role": *role, "token": tok})
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
