package orderstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusAvailable,
	domain.OrderStatusAccepted,
	domain.OrderStatusInProgress,
	domain.OrderStatusAwaitingConfirmation,
	domain.OrderStatusCompleted,
	domain.OrderStatusDisputed,
	domain.OrderStatusCancelled,
	domain.OrderStatusResolved,
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusAvailable:            {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
		domain.OrderStatusAccepted:             {domain.OrderStatusInProgress, domain.OrderStatusCancelled, domain.OrderStatusDisputed},
		domain.OrderStatusInProgress:           {domain.OrderStatusAwaitingConfirmation, domain.OrderStatusCancelled, domain.OrderStatusDisputed},
		domain.OrderStatusAwaitingConfirmation: {domain.OrderStatusCompleted, domain.OrderStatusCancelled, domain.OrderStatusDisputed},
		domain.OrderStatusCompleted:            {domain.OrderStatusDisputed},
		domain.OrderStatusDisputed:             {domain.OrderStatusCompleted, domain.OrderStatusCancelled, domain.OrderStatusResolved},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(domain.OrderStatusCancelled))
	assert.True(t, IsTerminal(domain.OrderStatusResolved))
	assert.False(t, IsTerminal(domain.OrderStatusCompleted))
	assert.False(t, IsTerminal(domain.OrderStatus("bogus")))
}

func TestAllowed_ReturnsCopy(t *testing.T) {
	next := Allowed(domain.OrderStatusAvailable)
	require.Len(t, next, 2)
	next[0] = domain.OrderStatusResolved
	assert.True(t, CanTransition(domain.OrderStatusAvailable, domain.OrderStatusAccepted))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "provider accepts the order", Describe(domain.OrderStatusAvailable, domain.OrderStatusAccepted))
	assert.Contains(t, Describe(domain.OrderStatusCancelled, domain.OrderStatusAccepted), "not allowed")
	assert.Contains(t, Describe("nope", domain.OrderStatusAccepted), "unknown status")
}

func TestValidate(t *testing.T) {
	client := uuid.New()
	provider := uuid.New()
	stranger := uuid.New()
	admin := domain.AdminActor(uuid.New())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acceptedRecently := now.Add(-2 * time.Hour)
	acceptedLongAgo := now.Add(-30 * time.Hour)
	deadlinePassed := now.Add(-time.Minute)
	deadlineAhead := now.Add(time.Hour)

	tests := []struct {
		name       string
		req        Request
		wantReason domain.Reason
	}{
		{
			name:       "unknown from status",
			req:        Request{From: "shipped", To: domain.OrderStatusCompleted, Actor: domain.UserActor(client)},
			wantReason: domain.ReasonInvalidStatus,
		},
		{
			name:       "transition outside table",
			req:        Request{From: domain.OrderStatusAvailable, To: domain.OrderStatusCompleted, Actor: domain.UserActor(client)},
			wantReason: domain.ReasonInvalidTransition,
		},
		{
			name: "provider accepts",
			req:  Request{From: domain.OrderStatusAvailable, To: domain.OrderStatusAccepted, Actor: domain.UserActor(provider), ClientID: client},
		},
		{
			name:       "client cannot accept own order",
			req:        Request{From: domain.OrderStatusAvailable, To: domain.OrderStatusAccepted, Actor: domain.UserActor(client), ClientID: client},
			wantReason: domain.ReasonSelfDealing,
		},
		{
			name:       "only provider starts work",
			req:        Request{From: domain.OrderStatusAccepted, To: domain.OrderStatusInProgress, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider},
			wantReason: domain.ReasonUnauthorizedActor,
		},
		{
			name: "provider marks delivered",
			req:  Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusAwaitingConfirmation, Actor: domain.UserActor(provider), ClientID: client, ProviderID: &provider},
		},
		{
			name:       "leaving dispute needs admin",
			req:        Request{From: domain.OrderStatusDisputed, To: domain.OrderStatusCompleted, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider},
			wantReason: domain.ReasonAdminRequired,
		},
		{
			name: "admin resolves dispute",
			req:  Request{From: domain.OrderStatusDisputed, To: domain.OrderStatusResolved, Actor: admin, ClientID: client, ProviderID: &provider},
		},
		{
			name:       "dispute reason too short",
			req:        Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusDisputed, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider, Reason: "no"},
			wantReason: domain.ReasonDisputeReasonTooShort,
		},
		{
			name:       "dispute reason padded with spaces",
			req:        Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusDisputed, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider, Reason: "   short    "},
			wantReason: domain.ReasonDisputeReasonTooShort,
		},
		{
			name:       "dispute reason counts characters not bytes",
			req:        Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusDisputed, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider, Reason: "não é bom"},
			wantReason: domain.ReasonDisputeReasonTooShort,
		},
		{
			name: "multi-byte dispute reason at the minimum",
			req:  Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusDisputed, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider, Reason: "não é bom!"},
		},
		{
			name:       "stranger cannot dispute",
			req:        Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusDisputed, Actor: domain.UserActor(stranger), ClientID: client, ProviderID: &provider, Reason: "work was never delivered"},
			wantReason: domain.ReasonUnauthorizedDispute,
		},
		{
			name: "provider disputes with reason",
			req:  Request{From: domain.OrderStatusAwaitingConfirmation, To: domain.OrderStatusDisputed, Actor: domain.UserActor(provider), ClientID: client, ProviderID: &provider, Reason: "client is unresponsive"},
		},
		{
			name: "client cancels within window",
			req:  Request{From: domain.OrderStatusAccepted, To: domain.OrderStatusCancelled, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider, AcceptedAt: &acceptedRecently, Now: now},
		},
		{
			name:       "client cancels after 30 hours",
			req:        Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusCancelled, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider, AcceptedAt: &acceptedLongAgo, Now: now},
			wantReason: domain.ReasonCancellationTimeout,
		},
		{
			name: "provider cancels after 30 hours",
			req:  Request{From: domain.OrderStatusInProgress, To: domain.OrderStatusCancelled, Actor: domain.UserActor(provider), ClientID: client, ProviderID: &provider, AcceptedAt: &acceptedLongAgo, Now: now},
		},
		{
			name:       "stranger cannot cancel",
			req:        Request{From: domain.OrderStatusAccepted, To: domain.OrderStatusCancelled, Actor: domain.UserActor(stranger), ClientID: client, ProviderID: &provider, AcceptedAt: &acceptedRecently, Now: now},
			wantReason: domain.ReasonUnauthorizedActor,
		},
		{
			name: "client withdraws open order",
			req:  Request{From: domain.OrderStatusAvailable, To: domain.OrderStatusCancelled, Actor: domain.UserActor(client), ClientID: client, Now: now},
		},
		{
			name: "client confirms",
			req:  Request{From: domain.OrderStatusAwaitingConfirmation, To: domain.OrderStatusCompleted, Actor: domain.UserActor(client), ClientID: client, ProviderID: &provider},
		},
		{
			name:       "provider cannot confirm",
			req:        Request{From: domain.OrderStatusAwaitingConfirmation, To: domain.OrderStatusCompleted, Actor: domain.UserActor(provider), ClientID: client, ProviderID: &provider},
			wantReason: domain.ReasonClientConfirmationRequired,
		},
		{
			name: "sweeper confirms after deadline",
			req:  Request{From: domain.OrderStatusAwaitingConfirmation, To: domain.OrderStatusCompleted, Actor: domain.SweeperActor, ClientID: client, ProviderID: &provider, ConfirmationDeadline: &deadlinePassed, Now: now},
		},
		{
			name:       "sweeper exactly at deadline",
			req:        Request{From: domain.OrderStatusAwaitingConfirmation, To: domain.OrderStatusCompleted, Actor: domain.SweeperActor, ClientID: client, ProviderID: &provider, ConfirmationDeadline: &now, Now: now},
			wantReason: domain.ReasonConfirmationNotDue,
		},
		{
			name:       "sweeper before deadline",
			req:        Request{From: domain.OrderStatusAwaitingConfirmation, To: domain.OrderStatusCompleted, Actor: domain.SweeperActor, ClientID: client, ProviderID: &provider, ConfirmationDeadline: &deadlineAhead, Now: now},
			wantReason: domain.ReasonConfirmationNotDue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantReason == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrValidation)
			reason, ok := domain.ReasonOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantReason, reason)
			assert.NotEmpty(t, err.Error())
		})
	}
}
