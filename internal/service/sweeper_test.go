package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/escrow-marketplace/internal/config"
	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
	"github.com/josh-kwaku/escrow-marketplace/internal/testutil"
)

type stubConfirmer struct {
	due     []uuid.UUID
	listErr error
	results map[uuid.UUID]error
	called  []uuid.UUID
}

func (s *stubConfirmer) DueForAutoConfirm(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return s.due, s.listErr
}

func (s *stubConfirmer) Confirm(_ context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error) {
	if !actor.IsSweeper() {
		return nil, errors.New("unexpected actor")
	}
	s.called = append(s.called, id)
	if err := s.results[id]; err != nil {
		return nil, err
	}
	return &lifecycle.Outcome{Order: &domain.Order{ID: id, Status: domain.OrderStatusCompleted}}, nil
}

func (s *stubConfirmer) Now() time.Time { return time.Now() }

func TestAutoConfirmSweeper_Classification(t *testing.T) {
	ok, moved, early, broken := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	stub := &stubConfirmer{
		due: []uuid.UUID{ok, moved, early, broken},
		results: map[uuid.UUID]error{
			moved:  fmt.Errorf("Confirm: %w", domain.NewValidationError(domain.ReasonInvalidTransition, "order is disputed")),
			early:  fmt.Errorf("Confirm: %w", domain.NewValidationError(domain.ReasonConfirmationNotDue, "not yet")),
			broken: fmt.Errorf("Confirm: %w", domain.ErrConflict),
		},
	}
	sweeper := NewAutoConfirmSweeper(stub, slog.Default(), time.Second, 50, nil)

	report := sweeper.Sweep(context.Background())

	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, 2, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, broken, report.Errors[0].OrderID)
	assert.Equal(t, stub.due, stub.called)
}

func TestAutoConfirmSweeper_ListFailure(t *testing.T) {
	stub := &stubConfirmer{listErr: errors.New("connection refused")}
	sweeper := NewAutoConfirmSweeper(stub, slog.Default(), time.Second, 50, nil)

	report := sweeper.Sweep(context.Background())
	assert.Zero(t, report.Processed)
	assert.Empty(t, report.Errors)
}

func TestAutoConfirmSweeper_ReleasesOverdueOrders(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	var mu sync.Mutex
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
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

	fees, err := config.NewFees(config.DefaultFeeSchedule(), "")
	require.NoError(t, err)
	engine := ledger.NewEngine(db, repository.NewAccountRepository(db), repository.NewLedgerRepository(db), nil)
	orders := lifecycle.NewService(repository.NewOrderRepository(db), engine, fees, nil, db, nil, lifecycle.WithClock(clock))
	sweeper := NewAutoConfirmSweeper(orders, slog.Default(), time.Minute, 10, nil)

	client := testutil.SeedUser(t, db, "300")
	provider := testutil.SeedUser(t, db, "30")

	deliver := func(value string) uuid.UUID {
		o, err := orders.Open(ctx, lifecycle.OpenRequest{ClientID: client, Title: "Copywriting", Value: testutil.Dec(value)})
		require.NoError(t, err)
		_, err = orders.Accept(ctx, o.ID, domain.UserActor(provider))
		require.NoError(t, err)
		_, err = orders.Start(ctx, o.ID, domain.UserActor(provider))
		require.NoError(t, err)
		_, err = orders.MarkCompleted(ctx, o.ID, domain.UserActor(provider))
		require.NoError(t, err)
		return o.ID
	}

	first := deliver("100")
	advance(12 * time.Hour)
	second := deliver("50")

	report := sweeper.Sweep(ctx)
	assert.Zero(t, report.Processed)

	advance(25 * time.Hour)
	report = sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Confirmed)

	o, err := orders.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	assert.True(t, o.AutoConfirmed)

	o, err = orders.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingConfirmation, o.Status)

	available, escrow := testutil.Balances(t, db, provider)
	assert.True(t, available.Equal(testutil.Dec("115")), "provider available %s", available)
	assert.True(t, escrow.Equal(testutil.Dec("10")), "provider escrow %s", escrow)
	testutil.AssertConserved(t, db)

	type snapshot struct{ available, escrow string }
	balances := func() map[uuid.UUID]snapshot {
		out := make(map[uuid.UUID]snapshot)
		for _, id := range []uuid.UUID{client, provider, domain.SystemAccountID} {
			a, e := testutil.Balances(t, db, id)
			out[id] = snapshot{a.StringFixed(2), e.StringFixed(2)}
		}
		return out
	}
	before := balances()
	entriesBefore := testutil.CountLedgerEntries(t, db, first)

	report = sweeper.Sweep(ctx)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Confirmed)
	assert.Empty(t, report.Errors)

	o, err = orders.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	o, err = orders.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingConfirmation, o.Status)
	assert.Equal(t, before, balances())
	assert.Equal(t, entriesBefore, testutil.CountLedgerEntries(t, db, first))
	testutil.AssertConserved(t, db)
}

type stubExpirer struct {
	batches []int
	calls   int
}

func (s *stubExpirer) ExpireDue(context.Context, int) (int, error) {
	if s.calls >= len(s.batches) {
		return 0, nil
	}
	n := s.batches[s.calls]
	s.calls++
	return n, nil
}

func TestInviteExpirer_DrainsFullBatches(t *testing.T) {
	stub := &stubExpirer{batches: []int{5, 5, 2}}
	expirer := NewInviteExpirer(stub, slog.Default(), time.Minute, 5)

	assert.Equal(t, 12, expirer.Expire(context.Background()))
	assert.Equal(t, 3, stub.calls)
}
