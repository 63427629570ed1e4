package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
	"github.com/josh-kwaku/escrow-marketplace/internal/testutil"
)

func newWalletService(t *testing.T, db *sql.DB, limits MintLimits, opts ...WalletOption) *WalletService {
	t.Helper()
	engine := ledger.NewEngine(db, repository.NewAccountRepository(db), repository.NewLedgerRepository(db), nil)
	return NewWalletService(db, engine, repository.NewMintAllowanceRepository(db), limits, opts...)
}

func TestWalletService(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newWalletService(t, db, MintLimits{Daily: testutil.Dec("10000"), Monthly: testutil.Dec("100000")})

	admin := domain.AdminActor(uuid.New())
	alice := domain.UserActor(uuid.New())
	bob := domain.UserActor(uuid.New())

	_, err := svc.Mint(ctx, alice, testutil.Dec("100"), "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Mint(ctx, admin, testutil.Dec("1000"), "initial supply")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, admin, alice.ID, testutil.Dec("150"))
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, alice, bob.ID, testutil.Dec("40.25"), "lunch")
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, alice, domain.SystemAccountID, testutil.Dec("1"), "")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Redeem(ctx, bob, testutil.Dec("0.25"))
	require.NoError(t, err)

	acct, err := svc.Balance(ctx, alice, alice.ID)
	require.NoError(t, err)
	assert.True(t, acct.AvailableBalance.Equal(testutil.Dec("109.75")))

	_, err = svc.Balance(ctx, bob, alice.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	acct, err = svc.Balance(ctx, admin, bob.ID)
	require.NoError(t, err)
	assert.True(t, acct.AvailableBalance.Equal(testutil.Dec("40")))

	entries, total, err := svc.History(ctx, bob, bob.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, entries, 3)

	report, err := svc.Audit(ctx, admin)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.True(t, report.Totals.Minted.Equal(testutil.Dec("1000")))
}

func TestWalletService_MintLimits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	var mu sync.Mutex
	now := time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	svc := newWalletService(t, db, MintLimits{Daily: testutil.Dec("100"), Monthly: testutil.Dec("250")}, WithWalletClock(clock))
	admin := domain.AdminActor(uuid.New())
	other := domain.AdminActor(uuid.New())

	_, err := svc.Mint(ctx, admin, testutil.Dec("60"), "")
	require.NoError(t, err)
	_, err = svc.Mint(ctx, admin, testutil.Dec("40.01"), "")
	requireReason(t, err, domain.ReasonMintDailyLimit)
	_, err = svc.Mint(ctx, admin, testutil.Dec("40"), "")
	require.NoError(t, err)

	// Caps are per admin.
	_, err = svc.Mint(ctx, other, testutil.Dec("100"), "")
	require.NoError(t, err)

	// Next day: the daily window resets, the monthly one does not.
	advance(24 * time.Hour)
	_, err = svc.Mint(ctx, admin, testutil.Dec("100"), "")
	require.NoError(t, err)
	advance(time.Hour)
	_, err = svc.Mint(ctx, admin, testutil.Dec("0.01"), "")
	requireReason(t, err, domain.ReasonMintDailyLimit)

	// February 1st: both windows reset.
	advance(24 * time.Hour)
	_, err = svc.Mint(ctx, admin, testutil.Dec("51"), "")
	require.NoError(t, err)

	available, _ := testutil.Balances(t, db, domain.SystemAccountID)
	assert.True(t, available.Equal(testutil.Dec("351")), "system available %s", available)
	testutil.AssertConserved(t, db)
}

func TestWalletService_MintMonthlyLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newWalletService(t, db, MintLimits{Daily: testutil.Dec("100"), Monthly: testutil.Dec("150")},
		WithWalletClock(func() time.Time { return now }))
	admin := domain.AdminActor(uuid.New())

	_, err := svc.Mint(ctx, admin, testutil.Dec("100"), "")
	require.NoError(t, err)
	now = now.Add(24 * time.Hour)
	_, err = svc.Mint(ctx, admin, testutil.Dec("60"), "")
	requireReason(t, err, domain.ReasonMintMonthlyLimit)

	// A rejected mint writes nothing.
	available, _ := testutil.Balances(t, db, domain.SystemAccountID)
	assert.True(t, available.Equal(testutil.Dec("100")))
	var used string
	require.NoError(t, db.QueryRow(`SELECT monthly_used::text FROM mint_allowances WHERE admin_id = $1`, admin.ID).Scan(&used))
	assert.Equal(t, "100.00", used)
}

func requireReason(t *testing.T, err error, want domain.Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := domain.ReasonOf(err)
	require.True(t, ok, "not a validation error: %v", err)
	assert.Equal(t, want, got)
}
