// Package ledger moves value between wallet accounts. Every operation is
// planned as a list of legs and applied atomically: one ledger entry per leg,
// balances updated under row locks, and only Mint may change total supply.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

type accountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Ensure(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalances(ctx context.Context, tx *sql.Tx, acct *domain.Account) error
}

type entryStore interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	EscrowHeldForOrder(ctx context.Context, tx *sql.Tx, accountID, orderID uuid.UUID) (decimal.Decimal, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error)
	Totals(ctx context.Context) (*domain.LedgerTotals, error)
	Drift(ctx context.Context) ([]domain.BalanceDrift, error)
}

type Engine struct {
	db       *sql.DB
	accounts accountStore
	entries  entryStore
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(db *sql.DB, accounts accountStore, entries entryStore, m *metrics.Metrics) *Engine {
	return &Engine{
		db:       db,
		accounts: accounts,
		entries:  entries,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tx scopes engine operations to a transaction owned by the caller, so that
// ledger legs commit together with the caller's own writes.
type Tx struct {
	e  *Engine
	tx *sql.Tx
}

func (e *Engine) Bind(tx *sql.Tx) *Tx {
	return &Tx{e: e, tx: tx}
}

func (e *Engine) run(ctx context.Context, op string, fn func(t *Tx) (*Settlement, error)) (*Settlement, error) {
	var out *Settlement
	err := repository.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		s, err := fn(e.Bind(tx))
		out = s
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			logging.Integrity(ctx, "ledger."+op, err)
		}
		return nil, err
	}

	log := logging.FromContext(ctx).With("operation", op)
	if out.OrderID != uuid.Nil {
		logSettlement(log, "escrow movement committed", out)
	} else {
		log.Info("ledger operation committed", "entries", len(out.Entries))
	}
	return out, nil
}

// Apply validates and writes a plan. Nothing is written unless every leg
// keeps both balances of its account non-negative.
func (t *Tx) Apply(ctx context.Context, plan Plan) (*Settlement, error) {
	s, err := t.apply(ctx, plan)
	t.e.metrics.LedgerOperation(plan.Op, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", plan.Op, err)
	}
	return s, nil
}

type escrowKey struct {
	account uuid.UUID
	order   uuid.UUID
}

func (t *Tx) apply(ctx context.Context, plan Plan) (*Settlement, error) {
	if len(plan.Legs) == 0 {
		return nil, &domain.IntegrityError{Op: plan.Op, Err: errors.New("plan has no legs")}
	}
	if plan.Conserving && !plan.Net().IsZero() {
		return nil, &domain.IntegrityError{Op: plan.Op, Err: fmt.Errorf("plan changes total supply by %s", plan.Net())}
	}
	for _, l := range plan.Legs {
		if err := l.Kind.CheckSign(l.Amount); err != nil {
			return nil, &domain.IntegrityError{Op: plan.Op, Err: err}
		}
		if !domain.HasMoneyPrecision(l.Amount) {
			return nil, &domain.IntegrityError{Op: plan.Op, Err: fmt.Errorf("amount %s exceeds money precision", l.Amount)}
		}
	}

	ids := accountIDs(plan.Legs)
	created, err := t.ensureAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	locked, err := lockAccountsInOrder(ctx, t.tx, t.e.accounts, ids)
	if err != nil {
		return nil, err
	}

	if err := t.checkOrderEscrow(ctx, plan.Legs); err != nil {
		return nil, err
	}

	now := t.e.now()
	entries := make([]domain.LedgerEntry, 0, len(plan.Legs)+len(created))
	for _, id := range created {
		entry, err := newEntry(id, domain.EntryKindWalletCreation, decimal.Zero, nil, "wallet created", decimal.Zero, decimal.Zero, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	for _, l := range plan.Legs {
		acct := locked[l.AccountID]
		da, de := l.Kind.Effect(l.Amount)
		nextAvail := acct.AvailableBalance.Add(da)
		nextEscrow := acct.EscrowBalance.Add(de)

		if nextAvail.IsNegative() {
			return nil, &domain.InsufficientFundsError{
				Who: l.Party, AccountID: acct.ID, Balance: domain.BalanceAvailable,
				Required: da.Neg(), Available: acct.AvailableBalance,
			}
		}
		if nextEscrow.IsNegative() {
			return nil, &domain.InsufficientFundsError{
				Who: l.Party, AccountID: acct.ID, Balance: domain.BalanceEscrow,
				Required: de.Neg(), Available: acct.EscrowBalance,
			}
		}

		acct.AvailableBalance = nextAvail
		acct.EscrowBalance = nextEscrow

		entry, err := newEntry(acct.ID, l.Kind, l.Amount, l.OrderID, l.Description, nextAvail, nextEscrow, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	for i := range entries {
		if err := t.e.entries.Create(ctx, t.tx, &entries[i]); err != nil {
			return nil, fmt.Errorf("write entry: %w", repository.Classify(err))
		}
	}
	for _, id := range ids {
		if err := t.e.accounts.UpdateBalances(ctx, t.tx, locked[id]); err != nil {
			return nil, fmt.Errorf("update balances: %w", repository.Classify(err))
		}
	}

	s := plan.Settlement
	s.Entries = entries
	return &s, nil
}

func (t *Tx) ensureAccounts(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var created []uuid.UUID
	for _, id := range ids {
		ok, err := t.e.accounts.Ensure(ctx, t.tx, id)
		if err != nil {
			return nil, fmt.Errorf("ensure account %s: %w", id, err)
		}
		if ok {
			created = append(created, id)
		}
	}
	return created, nil
}

// checkOrderEscrow makes sure legs that draw on escrow for an order only
// draw what that order actually holds on that account.
func (t *Tx) checkOrderEscrow(ctx context.Context, legs []Leg) error {
	draws := make(map[escrowKey]decimal.Decimal)
	parties := make(map[escrowKey]domain.Party)
	var keys []escrowKey
	for _, l := range legs {
		if l.OrderID == nil {
			continue
		}
		_, de := l.Kind.Effect(l.Amount)
		k := escrowKey{account: l.AccountID, order: *l.OrderID}
		if _, seen := draws[k]; !seen {
			keys = append(keys, k)
			draws[k] = decimal.Zero
			parties[k] = l.Party
		}
		draws[k] = draws[k].Add(de)
	}

	for _, k := range keys {
		net := draws[k]
		if !net.IsNegative() {
			continue
		}
		held, err := t.e.entries.EscrowHeldForOrder(ctx, t.tx, k.account, k.order)
		if err != nil {
			return fmt.Errorf("checkOrderEscrow: %w", err)
		}
		if held.Add(net).IsNegative() {
			return &domain.InsufficientFundsError{
				Who: parties[k], AccountID: k.account, Balance: domain.BalanceEscrow,
				Required: net.Neg(), Available: held,
			}
		}
	}
	return nil
}

func newEntry(accountID uuid.UUID, kind domain.EntryKind, amount decimal.Decimal, orderID *uuid.UUID, desc string, availAfter, escrowAfter decimal.Decimal, now time.Time) (domain.LedgerEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("newEntry: %w", err)
	}
	return domain.LedgerEntry{
		ID:             id,
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		OrderID:        orderID,
		Description:    desc,
		AvailableAfter: availAfter,
		EscrowAfter:    escrowAfter,
		CreatedAt:      now,
	}, nil
}

func accountIDs(legs []Leg) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(legs))
	var ids []uuid.UUID
	for _, l := range legs {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// lockAccountsInOrder expects ids already sorted so every transaction takes
// account locks in the same order.
func lockAccountsInOrder(ctx context.Context, tx *sql.Tx, accounts accountStore, ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	result := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range ids {
		acct, err := accounts.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lockAccountsInOrder: %w", err)
		}
		result[id] = acct
	}
	return result, nil
}

func logSettlement(log *slog.Logger, msg string, s *Settlement) {
	log.Info(msg,
		"order_id", s.OrderID,
		"provider_payout", domain.FormatMoney(s.ProviderPayout),
		"client_refund", domain.FormatMoney(s.ClientRefund),
		"platform_fee", domain.FormatMoney(s.PlatformFee),
		"entries", len(s.Entries),
	)
}
