package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

type walletLedger interface {
	Bind(tx *sql.Tx) *ledger.Tx
	Balance(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	History(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
	Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, description string) (*ledger.Settlement, error)
	Issue(ctx context.Context, to uuid.UUID, amount decimal.Decimal) (*ledger.Settlement, error)
	Redeem(ctx context.Context, from uuid.UUID, amount decimal.Decimal) (*ledger.Settlement, error)
	Audit(ctx context.Context) (*ledger.AuditReport, error)
}

type mintAllowances interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, defaults domain.MintAllowance) (*domain.MintAllowance, error)
	Save(ctx context.Context, tx *sql.Tx, a *domain.MintAllowance) error
}

// MintLimits are the caps given to an admin the first time they mint.
type MintLimits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// WalletService is the actor-facing side of the ledger: balance reads,
// peer transfers and the admin-only supply operations.
type WalletService struct {
	db         *sql.DB
	ledger     walletLedger
	allowances mintAllowances
	limits     MintLimits
	now        func() time.Time
}

type WalletOption func(*WalletService)

func WithWalletClock(now func() time.Time) WalletOption {
	return func(s *WalletService) { s.now = now }
}

func NewWalletService(db *sql.DB, l walletLedger, allowances mintAllowances, limits MintLimits, opts ...WalletOption) *WalletService {
	s := &WalletService{
		db:         db,
		ledger:     l,
		allowances: allowances,
		limits:     limits,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WalletService) Balance(ctx context.Context, actor domain.Actor, accountID uuid.UUID) (*domain.Account, error) {
	if err := canRead(actor, accountID); err != nil {
		return nil, fmt.Errorf("Balance: %w", err)
	}
	acct, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Balance: %w", err)
	}
	return acct, nil
}

func (s *WalletService) History(ctx context.Context, actor domain.Actor, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	if err := canRead(actor, accountID); err != nil {
		return nil, 0, fmt.Errorf("History: %w", err)
	}
	entries, total, err := s.ledger.History(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("History: %w", err)
	}
	return entries, total, nil
}

func canRead(actor domain.Actor, accountID uuid.UUID) error {
	if actor.IsAdmin() || actor.ID == accountID {
		return nil
	}
	return domain.ErrForbidden
}

// Transfer moves tokens from the actor's wallet to another user's.
func (s *WalletService) Transfer(ctx context.Context, actor domain.Actor, to uuid.UUID, amount decimal.Decimal, note string) (*ledger.Settlement, error) {
	if to == domain.SystemAccountID {
		return nil, fmt.Errorf("Transfer: %w", domain.NewValidationError(domain.ReasonInvalidInput, "use redeem to return tokens to the platform"))
	}
	desc := "transfer"
	if note = strings.TrimSpace(note); note != "" {
		desc = "transfer: " + note
	}
	st, err := s.ledger.Transfer(ctx, actor.ID, to, amount, desc)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	logging.FromContext(ctx).Info("wallet transfer completed",
		"from", actor.ID,
		"to", to,
		"amount", domain.FormatMoney(amount),
	)
	return st, nil
}

func (s *WalletService) Redeem(ctx context.Context, actor domain.Actor, amount decimal.Decimal) (*ledger.Settlement, error) {
	st, err := s.ledger.Redeem(ctx, actor.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("Redeem: %w", err)
	}
	logging.FromContext(ctx).Info("tokens redeemed", "account_id", actor.ID, "amount", domain.FormatMoney(amount))
	return st, nil
}

// Mint creates new supply on the system account. It is the only operation
// that changes the total, and each admin may only mint within their daily
// and monthly caps.
func (s *WalletService) Mint(ctx context.Context, actor domain.Actor, amount decimal.Decimal, reason string) (*ledger.Settlement, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("Mint: %w", domain.ErrForbidden)
	}
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return nil, fmt.Errorf("Mint: %w", err)
	}
	desc := "minted by admin"
	if reason = strings.TrimSpace(reason); reason != "" {
		desc = "minted: " + reason
	}

	now := s.now()
	var (
		st        *ledger.Settlement
		allowance *domain.MintAllowance
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		allowance, err = s.allowances.GetForUpdate(ctx, tx, s.defaultAllowance(actor.ID, now))
		if err != nil {
			return err
		}
		allowance.Roll(now)
		if err := allowance.Check(amount); err != nil {
			return err
		}
		if st, err = s.ledger.Bind(tx).Mint(ctx, amount, desc); err != nil {
			return err
		}
		allowance.Use(amount, now)
		return s.allowances.Save(ctx, tx, allowance)
	})
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			logging.Integrity(ctx, "wallet.mint", err)
		}
		return nil, fmt.Errorf("Mint: %w", err)
	}
	logging.FromContext(ctx).Info("tokens minted",
		"amount", domain.FormatMoney(amount),
		"admin_id", actor.ID,
		"daily_remaining", domain.FormatMoney(allowance.DailyRemaining()),
		"monthly_remaining", domain.FormatMoney(allowance.MonthlyRemaining()),
	)
	return st, nil
}

func (s *WalletService) defaultAllowance(adminID uuid.UUID, now time.Time) domain.MintAllowance {
	a := domain.MintAllowance{
		AdminID:      adminID,
		DailyLimit:   s.limits.Daily,
		MonthlyLimit: s.limits.Monthly,
	}
	a.Roll(now)
	return a
}

// Issue sells tokens from the platform wallet to a user.
func (s *WalletService) Issue(ctx context.Context, actor domain.Actor, to uuid.UUID, amount decimal.Decimal) (*ledger.Settlement, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("Issue: %w", domain.ErrForbidden)
	}
	st, err := s.ledger.Issue(ctx, to, amount)
	if err != nil {
		return nil, fmt.Errorf("Issue: %w", err)
	}
	logging.FromContext(ctx).Info("tokens issued",
		"account_id", to,
		"amount", domain.FormatMoney(amount),
		"admin_id", actor.ID,
	)
	return st, nil
}

func (s *WalletService) Audit(ctx context.Context, actor domain.Actor) (*ledger.AuditReport, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("Audit: %w", domain.ErrForbidden)
	}
	report, err := s.ledger.Audit(ctx)
	if err != nil {
		return nil, fmt.Errorf("Audit: %w", err)
	}
	if !report.OK() {
		logging.FromContext(ctx).Error("ledger audit failed",
			"conserved", report.Conserved,
			"drifted_accounts", len(report.Drift),
		)
	}
	return report, nil
}
