package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/escrow-marketplace/internal/auth"
	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/service"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func request(t *testing.T, method, target, body string, actor *domain.Actor, params map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := req.Context()
	if actor != nil {
		ctx = auth.ContextWithActor(ctx, *actor)
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid transition", domain.NewValidationError(domain.ReasonInvalidTransition, "no"), http.StatusConflict, "INVALID_TRANSITION"},
		{"cancellation timeout", domain.NewValidationError(domain.ReasonCancellationTimeout, "late"), http.StatusConflict, "CANCELLATION_TIMEOUT"},
		{"unauthorized actor", domain.NewValidationError(domain.ReasonUnauthorizedActor, "who"), http.StatusForbidden, "UNAUTHORIZED_ACTOR"},
		{"client must confirm", domain.NewValidationError(domain.ReasonClientConfirmationRequired, "client"), http.StatusForbidden, "CLIENT_CONFIRMATION_REQUIRED"},
		{"self dealing", domain.NewValidationError(domain.ReasonSelfDealing, "self"), http.StatusUnprocessableEntity, "SELF_DEALING"},
		{"invalid split", domain.NewValidationError(domain.ReasonInvalidSplit, "sum"), http.StatusBadRequest, "INVALID_SPLIT"},
		{"wrapped reason", fmt.Errorf("Cancel: %w", domain.NewValidationError(domain.ReasonReasonRequired, "why")), http.StatusBadRequest, "REASON_REQUIRED"},
		{"not found", fmt.Errorf("Get: %w", domain.ErrNotFound), http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"version conflict", domain.ErrVersionConflict, http.StatusConflict, "CONFLICT"},
		{"integrity", &domain.IntegrityError{Op: "Transfer", Err: errors.New("drift")}, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondDomainError(rec, httptest.NewRequest(http.MethodPost, "/", nil), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decode(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestRespondDomainError_IntegrityLogsFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/x/confirm", nil)
	req = req.WithContext(logging.WithLogger(req.Context(), logger.With("request_id", "req-7")))

	rec := httptest.NewRecorder()
	RespondDomainError(rec, req, fmt.Errorf("confirm: %w", &domain.IntegrityError{Op: "escrow_release", Err: errors.New("accounts_escrow_non_negative")}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, true, line["fatal"])
	assert.Equal(t, "req-7", line["request_id"])
	assert.Equal(t, "POST /api/v1/orders/x/confirm", line["operation"])
}

func TestRespondDomainError_InsufficientFunds(t *testing.T) {
	acct := uuid.New()
	rec := httptest.NewRecorder()
	RespondDomainError(rec, httptest.NewRequest(http.MethodPost, "/", nil), fmt.Errorf("Accept: %w", &domain.InsufficientFundsError{
		Who:       domain.PartyProvider,
		AccountID: acct,
		Balance:   domain.BalanceAvailable,
		Required:  decimal.RequireFromString("10"),
		Available: decimal.RequireFromString("2.5"),
	}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Error.Code)

	var details insufficientFundsDetails
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	assert.Equal(t, insufficientFundsDetails{
		Who:       "provider",
		AccountID: acct.String(),
		Balance:   "available",
		Required:  "10.00",
		Available: "2.50",
	}, details)
}

type fakeOrders struct {
	orderService

	opened   *lifecycle.OpenRequest
	decision *domain.DisputeDecision
	cancel   func(id uuid.UUID, actor domain.Actor, reason string) (*lifecycle.Outcome, error)
}

func (f *fakeOrders) Open(_ context.Context, req lifecycle.OpenRequest) (*domain.Order, error) {
	f.opened = &req
	return &domain.Order{ID: uuid.New(), ClientID: req.ClientID, Title: req.Title, Value: req.Value, Status: domain.OrderStatusAvailable}, nil
}

func (f *fakeOrders) Cancel(_ context.Context, id uuid.UUID, actor domain.Actor, reason string) (*lifecycle.Outcome, error) {
	return f.cancel(id, actor, reason)
}

func (f *fakeOrders) ResolveDispute(_ context.Context, id uuid.UUID, _ domain.Actor, d domain.DisputeDecision) (*lifecycle.Outcome, error) {
	f.decision = &d
	return &lifecycle.Outcome{
		Order:   &domain.Order{ID: id, Status: domain.OrderStatusResolved},
		From:    domain.OrderStatusDisputed,
		Message: "Dispute resolved.",
	}, nil
}

func TestOrderHandler_Open(t *testing.T) {
	client := domain.UserActor(uuid.New())

	t.Run("creates", func(t *testing.T) {
		orders := &fakeOrders{}
		h := NewOrderHandler(orders)
		rec := httptest.NewRecorder()
		h.Open(rec, request(t, http.MethodPost, "/api/v1/orders", `{"title":"Logo","value":"120.50"}`, &client, nil))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.NotNil(t, orders.opened)
		assert.Equal(t, client.ID, orders.opened.ClientID)
		assert.True(t, orders.opened.Value.Equal(decimal.RequireFromString("120.50")))
		assert.Contains(t, rec.Header().Get("Location"), "/api/v1/orders/")

		env := decode(t, rec)
		assert.True(t, env.Success)
		assert.NotEmpty(t, env.Message)
		var dto orderDTO
		require.NoError(t, json.Unmarshal(env.Data, &dto))
		assert.Equal(t, "120.50", dto.Value)
		assert.Equal(t, "available", dto.Status)
	})

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{"missing title", `{"value":"10"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"zero value", `{"title":"x","value":"0"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"too precise", `{"title":"x","value":"1.001"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown field", `{"title":"x","value":"1","provider":"y"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad json", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{}
			rec := httptest.NewRecorder()
			NewOrderHandler(orders).Open(rec, request(t, http.MethodPost, "/api/v1/orders", tt.body, &client, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			env := decode(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantError, env.Error.Code)
			assert.Nil(t, orders.opened)
		})
	}

	t.Run("no actor", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewOrderHandler(&fakeOrders{}).Open(rec, request(t, http.MethodPost, "/api/v1/orders", `{}`, nil, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestOrderHandler_Cancel(t *testing.T) {
	client := domain.UserActor(uuid.New())
	orderID := uuid.New()

	t.Run("passes reason and reports settlement", func(t *testing.T) {
		orders := &fakeOrders{cancel: func(id uuid.UUID, actor domain.Actor, reason string) (*lifecycle.Outcome, error) {
			assert.Equal(t, orderID, id)
			assert.Equal(t, client, actor)
			assert.Equal(t, "changed my mind", reason)
			return &lifecycle.Outcome{
				Order: &domain.Order{ID: id, Status: domain.OrderStatusCancelled},
				From:  domain.OrderStatusAccepted,
				Settlement: &ledger.Settlement{
					OrderID:         id,
					ClientRefund:    decimal.RequireFromString("90"),
					CancellationFee: decimal.RequireFromString("10"),
				},
				Message: "Order cancelled.",
			}, nil
		}}
		rec := httptest.NewRecorder()
		NewOrderHandler(orders).Cancel(rec, request(t, http.MethodPost, "/", `{"reason":"changed my mind"}`, &client,
			map[string]string{"id": orderID.String()}))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		env := decode(t, rec)
		assert.Equal(t, "Order cancelled.", env.Message)

		var out struct {
			From       string `json:"from"`
			Settlement struct {
				ClientRefund    string `json:"client_refund"`
				CancellationFee string `json:"cancellation_fee"`
			} `json:"settlement"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &out))
		assert.Equal(t, "accepted", out.From)
		assert.Equal(t, "90.00", out.Settlement.ClientRefund)
		assert.Equal(t, "10.00", out.Settlement.CancellationFee)
	})

	t.Run("maps domain reason", func(t *testing.T) {
		orders := &fakeOrders{cancel: func(uuid.UUID, domain.Actor, string) (*lifecycle.Outcome, error) {
			return nil, domain.NewValidationError(domain.ReasonCancellationTimeout, "too late")
		}}
		rec := httptest.NewRecorder()
		NewOrderHandler(orders).Cancel(rec, request(t, http.MethodPost, "/", `{"reason":"late"}`, &client,
			map[string]string{"id": orderID.String()}))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CANCELLATION_TIMEOUT", decode(t, rec).Error.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewOrderHandler(&fakeOrders{}).Cancel(rec, request(t, http.MethodPost, "/", `{"reason":"x"}`, &client,
			map[string]string{"id": "not-a-uuid"}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestResolveDisputeRequest_Decision(t *testing.T) {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	fee := d("5")

	tests := []struct {
		name    string
		req     resolveDisputeRequest
		wantFee decimal.Decimal
	}{
		{"split defaults fee to remainder", resolveDisputeRequest{Outcome: "split", ClientPct: d("30"), ProviderPct: d("60")}, d("10")},
		{"explicit fee kept", resolveDisputeRequest{Outcome: "split", ClientPct: d("30"), ProviderPct: d("60"), FeePct: &fee}, d("5")},
		{"non split leaves fee zero", resolveDisputeRequest{Outcome: "favor_client"}, decimal.Zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.req.decision()
			assert.True(t, tt.wantFee.Equal(got.FeePct), "fee %s", got.FeePct)
			assert.Equal(t, domain.DisputeOutcome(tt.req.Outcome), got.Outcome)
		})
	}
}

func TestOrderHandler_ResolveDispute(t *testing.T) {
	admin := domain.AdminActor(uuid.New())
	orders := &fakeOrders{}
	rec := httptest.NewRecorder()
	NewOrderHandler(orders).ResolveDispute(rec, request(t, http.MethodPost, "/",
		`{"outcome":"split","client_pct":"25","provider_pct":"70","notes":"partial delivery"}`, &admin,
		map[string]string{"id": uuid.NewString()}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, orders.decision)
	assert.True(t, decimal.NewFromInt(5).Equal(orders.decision.FeePct))
	assert.Equal(t, "partial delivery", orders.decision.Notes)
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", defaultPageLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=1000", maxPageLimit, 0},
		{"?limit=-3&offset=-1", defaultPageLimit, 0},
		{"?limit=abc", defaultPageLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			limit, offset := pagination(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

type fakeSweeper struct{ report service.SweepReport }

func (f fakeSweeper) Sweep(context.Context) service.SweepReport { return f.report }

type fakeTreasury struct {
	treasuryService
	minted  *decimal.Decimal
	mintErr error
}

func (f *fakeTreasury) Mint(_ context.Context, _ domain.Actor, amount decimal.Decimal, _ string) (*ledger.Settlement, error) {
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	f.minted = &amount
	return &ledger.Settlement{}, nil
}

func (f *fakeTreasury) Audit(context.Context, domain.Actor) (*ledger.AuditReport, error) {
	return &ledger.AuditReport{
		Totals:     domain.LedgerTotals{Available: decimal.NewFromInt(90), Escrow: decimal.NewFromInt(10), Minted: decimal.NewFromInt(100)},
		Conserved:  true,
		Consistent: false,
		Drift:      []domain.BalanceDrift{{AccountID: uuid.New(), StoredAvailable: decimal.NewFromInt(1)}},
	}, nil
}

func TestAdminHandler(t *testing.T) {
	admin := domain.AdminActor(uuid.New())

	t.Run("mint", func(t *testing.T) {
		treasury := &fakeTreasury{}
		rec := httptest.NewRecorder()
		NewAdminHandler(treasury, fakeSweeper{}, nil).Mint(rec, request(t, http.MethodPost, "/", `{"amount":"1000"}`, &admin, nil))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NotNil(t, treasury.minted)
		assert.Equal(t, "1000", treasury.minted.String())
	})

	t.Run("mint takes no target account", func(t *testing.T) {
		treasury := &fakeTreasury{}
		rec := httptest.NewRecorder()
		body := fmt.Sprintf(`{"amount":"1000","to":%q}`, uuid.New())
		NewAdminHandler(treasury, fakeSweeper{}, nil).Mint(rec, request(t, http.MethodPost, "/", body, &admin, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, treasury.minted)
	})

	t.Run("mint over the daily cap", func(t *testing.T) {
		treasury := &fakeTreasury{mintErr: fmt.Errorf("Mint: %w",
			domain.NewValidationError(domain.ReasonMintDailyLimit, "daily mint limit exceeded: 0.00 remaining, 1000.00 requested"))}
		rec := httptest.NewRecorder()
		NewAdminHandler(treasury, fakeSweeper{}, nil).Mint(rec, request(t, http.MethodPost, "/", `{"amount":"1000"}`, &admin, nil))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		env := decode(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, "DAILY_MINT_LIMIT_EXCEEDED", env.Error.Code)
	})

	t.Run("audit with drift is a server error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewAdminHandler(&fakeTreasury{}, fakeSweeper{}, nil).Audit(rec, request(t, http.MethodGet, "/", "", &admin, nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var dto auditDTO
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &dto))
		assert.False(t, dto.OK)
		assert.Equal(t, "100.00", dto.Minted)
		assert.Len(t, dto.Drift, 1)
	})

	t.Run("sweep returns report", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sweeper := fakeSweeper{report: service.SweepReport{Processed: 3, Confirmed: 2, Skipped: 1}}
		NewAdminHandler(&fakeTreasury{}, sweeper, nil).Sweep(rec, request(t, http.MethodPost, "/", "", &admin, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var report service.SweepReport
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &report))
		assert.Equal(t, 2, report.Confirmed)
	})
}

type fakeNotifications []domain.NotificationEvent

func (f fakeNotifications) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.NotificationEvent, error) {
	var out []domain.NotificationEvent
	for _, e := range f {
		if e.OrderID != nil && *e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestAdminHandler_OrderNotifications(t *testing.T) {
	orderID := uuid.New()
	other := uuid.New()
	log := fakeNotifications{
		{ID: uuid.New(), Type: domain.NotificationOrderAccepted, OrderID: &orderID, Payload: json.RawMessage(`{"value":"100.00"}`), Status: domain.NotificationStatusPending},
		{ID: uuid.New(), Type: domain.NotificationOrderAccepted, OrderID: &other, Payload: json.RawMessage(`{}`)},
	}

	rec := httptest.NewRecorder()
	NewAdminHandler(&fakeTreasury{}, fakeSweeper{}, log).OrderNotifications(rec,
		request(t, http.MethodGet, "/", "", nil, map[string]string{"id": orderID.String()}))

	require.Equal(t, http.StatusOK, rec.Code)
	var dtos []notificationDTO
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &dtos))
	require.Len(t, dtos, 1)
	assert.Equal(t, "order.accepted", dtos[0].Type)
	assert.JSONEq(t, `{"value":"100.00"}`, string(dtos[0].Payload))
}
