package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
	"github.com/josh-kwaku/escrow-marketplace/internal/testutil"
)

var dec = testutil.Dec

func newEngine(t *testing.T, db *sql.DB) *ledger.Engine {
	t.Helper()
	return ledger.NewEngine(
		db,
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		metrics.New(prometheus.NewRegistry()),
	)
}

func assertBalances(t *testing.T, db *sql.DB, id uuid.UUID, available, escrow string) {
	t.Helper()
	a, e := testutil.Balances(t, db, id)
	assert.True(t, a.Equal(dec(available)), "available for %s: want %s, got %s", id, available, a)
	assert.True(t, e.Equal(dec(escrow)), "escrow for %s: want %s, got %s", id, escrow, e)
}

func assertAudit(t *testing.T, engine *ledger.Engine) {
	t.Helper()
	report, err := engine.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Conserved, "supply %s+%s, minted %s", report.Totals.Available, report.Totals.Escrow, report.Totals.Minted)
	assert.Empty(t, report.Drift)
}

func TestEngine_HoldOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "100")
	provider := testutil.SeedUser(t, db, "20")
	order := testutil.SeedAcceptedOrder(t, db, client, provider, "80", "10")

	terms, err := ledger.TermsOf(order)
	require.NoError(t, err)

	s, err := engine.HoldOrder(ctx, terms)
	require.NoError(t, err)
	assert.Len(t, s.Entries, 2)

	assertBalances(t, db, client, "10", "90")
	assertBalances(t, db, provider, "10", "10")
	assert.Equal(t, 2, testutil.CountLedgerEntries(t, db, order.ID))
	assertAudit(t, engine)
}

func TestEngine_HoldOrder_ProviderShortLeavesNothingWritten(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "100")
	provider := testutil.SeedUser(t, db, "5")
	order := testutil.SeedAcceptedOrder(t, db, client, provider, "80", "10")

	terms, err := ledger.TermsOf(order)
	require.NoError(t, err)

	_, err = engine.HoldOrder(ctx, terms)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, domain.PartyProvider, insufficient.Who)
	assert.Equal(t, domain.BalanceAvailable, insufficient.Balance)
	assert.True(t, insufficient.Required.Equal(dec("10")))
	assert.True(t, insufficient.Available.Equal(dec("5")))

	assertBalances(t, db, client, "100", "0")
	assertBalances(t, db, provider, "5", "0")
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, order.ID))
}

func TestEngine_ReleaseFromEscrow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "110")
	provider := testutil.SeedUser(t, db, "10")
	order := testutil.SeedAcceptedOrder(t, db, client, provider, "100", "10")
	terms, err := ledger.TermsOf(order)
	require.NoError(t, err)

	_, err = engine.HoldOrder(ctx, terms)
	require.NoError(t, err)

	s, err := engine.ReleaseFromEscrow(ctx, terms, dec("5"))
	require.NoError(t, err)
	assert.True(t, s.ProviderPayout.Equal(dec("95")))
	assert.True(t, s.PlatformFee.Equal(dec("5")))

	assertBalances(t, db, client, "10", "0")
	assertBalances(t, db, provider, "105", "0")
	assertBalances(t, db, domain.SystemAccountID, "5", "0")
	assertAudit(t, engine)

	// Escrow is spent, so a second release has nothing to draw from.
	_, err = engine.ReleaseFromEscrow(ctx, terms, dec("5"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, domain.BalanceEscrow, insufficient.Balance)
}

func TestEngine_EscrowIsScopedPerOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "200")
	provider := testutil.SeedUser(t, db, "20")
	held := testutil.SeedAcceptedOrder(t, db, client, provider, "100", "10")
	other := testutil.SeedAcceptedOrder(t, db, client, provider, "50", "10")

	heldTerms, err := ledger.TermsOf(held)
	require.NoError(t, err)
	_, err = engine.HoldOrder(ctx, heldTerms)
	require.NoError(t, err)

	// The client's escrow balance covers the other order's value, but none of
	// it belongs to that order.
	otherTerms, err := ledger.TermsOf(other)
	require.NoError(t, err)
	_, err = engine.RefundFromEscrow(ctx, otherTerms)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assertBalances(t, db, client, "90", "110")
	assertAudit(t, engine)
}

func TestEngine_RefundAndSplit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "220")
	provider := testutil.SeedUser(t, db, "20")

	refunded := testutil.SeedAcceptedOrder(t, db, client, provider, "100", "10")
	refundTerms, err := ledger.TermsOf(refunded)
	require.NoError(t, err)
	_, err = engine.HoldOrder(ctx, refundTerms)
	require.NoError(t, err)
	_, err = engine.RefundFromEscrow(ctx, refundTerms)
	require.NoError(t, err)

	assertBalances(t, db, client, "220", "0")
	assertBalances(t, db, provider, "20", "0")

	split := testutil.SeedAcceptedOrder(t, db, client, provider, "100", "10")
	splitTerms, err := ledger.TermsOf(split)
	require.NoError(t, err)
	_, err = engine.HoldOrder(ctx, splitTerms)
	require.NoError(t, err)
	s, err := engine.ResolveDisputeCustomSplit(ctx, splitTerms, dec("30"), dec("60"), dec("10"))
	require.NoError(t, err)
	assert.True(t, s.ClientRefund.Equal(dec("30")))
	assert.True(t, s.ProviderPayout.Equal(dec("60")))
	assert.True(t, s.PlatformFee.Equal(dec("10")))

	assertBalances(t, db, client, "150", "0")
	assertBalances(t, db, provider, "80", "0")
	assertBalances(t, db, domain.SystemAccountID, "10", "0")
	assertAudit(t, engine)

	_, err = engine.ResolveDisputeCustomSplit(ctx, splitTerms, dec("30"), dec("60"), dec("5"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestEngine_TransferCreatesRecipientWallet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	from := testutil.SeedUser(t, db, "50")
	to := uuid.New()

	s, err := engine.Transfer(ctx, from, to, dec("20.25"), "lunch")
	require.NoError(t, err)
	require.Len(t, s.Entries, 3)
	assert.Equal(t, domain.EntryKindWalletCreation, s.Entries[0].Kind)
	assert.Equal(t, to, s.Entries[0].AccountID)

	assertBalances(t, db, from, "29.75", "0")
	assertBalances(t, db, to, "20.25", "0")

	_, err = engine.Transfer(ctx, to, from, dec("20.26"), "too much")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assertBalances(t, db, to, "20.25", "0")
	assertAudit(t, engine)
}

func TestEngine_Balance_UnknownAccountReadsZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newEngine(t, db)

	acct, err := engine.Balance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, acct.AvailableBalance.IsZero())
	assert.True(t, acct.EscrowBalance.IsZero())
}

func TestEngine_BoundTxRollsBackWithCaller(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "100")
	provider := testutil.SeedUser(t, db, "10")
	order := testutil.SeedAcceptedOrder(t, db, client, provider, "50", "10")
	terms, err := ledger.TermsOf(order)
	require.NoError(t, err)

	errAbort := errors.New("abort")
	err = repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := engine.Bind(tx).HoldOrder(ctx, terms); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assertBalances(t, db, client, "100", "0")
	assertBalances(t, db, provider, "10", "0")
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, order.ID))
}

func TestEngine_ConcurrentTransfersConserveSupply(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	a := testutil.SeedUser(t, db, "100")
	b := testutil.SeedUser(t, db, "100")

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, err := engine.Transfer(ctx, from, to, dec("7"), "ping-pong")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Equal numbers each way leave both wallets where they started.
	assertBalances(t, db, a, "100", "0")
	assertBalances(t, db, b, "100", "0")
	assertAudit(t, engine)
}

func TestEngine_ConcurrentDrainNeverOverdraws(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	from := testutil.SeedUser(t, db, "50")

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(ctx, from, uuid.New(), dec("10"), "drain")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assertBalances(t, db, from, "0", "0")
	assertAudit(t, engine)
}

func TestEngine_LedgerIsAppendOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	from := testutil.SeedUser(t, db, "10")

	_, err := db.Exec(`UPDATE ledger_entries SET amount = 999 WHERE account_id = $1`, from)
	require.Error(t, err)

	_, err = db.Exec(`DELETE FROM ledger_entries WHERE account_id = $1`, from)
	require.Error(t, err)
}

func entryKinds(t *testing.T, db *sql.DB, accountID uuid.UUID) []domain.EntryKind {
	t.Helper()
	rows, err := db.Query(`SELECT kind FROM ledger_entries WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	require.NoError(t, err)
	defer rows.Close()
	var kinds []domain.EntryKind
	for rows.Next() {
		var k domain.EntryKind
		require.NoError(t, rows.Scan(&k))
		kinds = append(kinds, k)
	}
	require.NoError(t, rows.Err())
	return kinds
}

func TestTx_CreditCreatesAccountLazily(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	payer := testutil.SeedUser(t, db, "30")
	payee := uuid.New()

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		lt := engine.Bind(tx)
		if _, err := lt.Debit(ctx, payer, dec("12.50"), "adjustment"); err != nil {
			return err
		}
		entry, err := lt.Credit(ctx, payee, dec("12.50"), "adjustment")
		if err != nil {
			return err
		}
		assert.Equal(t, domain.EntryKindCredit, entry.Kind)
		assert.True(t, entry.AvailableAfter.Equal(dec("12.50")))
		return nil
	})
	require.NoError(t, err)

	assertBalances(t, db, payer, "17.50", "0")
	assertBalances(t, db, payee, "12.50", "0")
	assert.Equal(t, []domain.EntryKind{domain.EntryKindWalletCreation, domain.EntryKindCredit}, entryKinds(t, db, payee))
	assertAudit(t, engine)
}

func TestTx_DebitInsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	acct := testutil.SeedUser(t, db, "10")

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := engine.Bind(tx).Debit(ctx, acct, dec("10.01"), "too much")
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, domain.BalanceAvailable, insufficient.Balance)
	assert.True(t, insufficient.Available.Equal(dec("10")))

	assertBalances(t, db, acct, "10", "0")
	assert.NotContains(t, entryKinds(t, db, acct), domain.EntryKindDebit)

	err = repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := engine.Bind(tx).Debit(ctx, acct, dec("0"), "nothing")
		return err
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTx_CreditRollsBackWithCaller(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	payer := testutil.SeedUser(t, db, "50")
	payee := uuid.New()

	// The debit succeeds, the second debit fails, and the whole scope rolls
	// back including the lazily created payee wallet.
	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		lt := engine.Bind(tx)
		if _, err := lt.Debit(ctx, payer, dec("20"), "first"); err != nil {
			return err
		}
		if _, err := lt.Credit(ctx, payee, dec("20"), "first"); err != nil {
			return err
		}
		_, err := lt.Debit(ctx, payer, dec("40"), "second")
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assertBalances(t, db, payer, "50", "0")
	assert.Empty(t, entryKinds(t, db, payee))
	assertAudit(t, engine)
}

func TestTx_HoldToEscrow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	client := testutil.SeedUser(t, db, "100")
	provider := testutil.SeedUser(t, db, "10")
	order := testutil.SeedAcceptedOrder(t, db, client, provider, "50", "10")

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		entry, err := engine.Bind(tx).HoldToEscrow(ctx, client, domain.PartyClient, dec("60"), order.ID, "held")
		if err != nil {
			return err
		}
		require.NotNil(t, entry.OrderID)
		assert.Equal(t, order.ID, *entry.OrderID)
		assert.True(t, entry.EscrowAfter.Equal(dec("60")))
		return nil
	})
	require.NoError(t, err)
	assertBalances(t, db, client, "40", "60")

	err = repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := engine.Bind(tx).HoldToEscrow(ctx, provider, domain.PartyProvider, dec("10.01"), order.ID, "held")
		return err
	})
	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, domain.PartyProvider, insufficient.Who)
	assertBalances(t, db, provider, "10", "0")
	assertAudit(t, engine)
}

func TestTx_MintCreditsSystemAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db)

	err := repository.WithTx(ctx, db, func(tx *sql.Tx) error {
		s, err := engine.Bind(tx).Mint(ctx, dec("500"), "supply")
		if err != nil {
			return err
		}
		require.Len(t, s.Entries, 1)
		assert.Equal(t, domain.SystemAccountID, s.Entries[0].AccountID)
		return nil
	})
	require.NoError(t, err)

	assertBalances(t, db, domain.SystemAccountID, "500", "0")
	assertAudit(t, engine)
}
