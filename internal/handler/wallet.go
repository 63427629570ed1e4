package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
)

type walletService interface {
	Balance(ctx context.Context, actor domain.Actor, accountID uuid.UUID) (*domain.Account, error)
	History(ctx context.Context, actor domain.Actor, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
	Transfer(ctx context.Context, actor domain.Actor, to uuid.UUID, amount decimal.Decimal, note string) (*ledger.Settlement, error)
	Redeem(ctx context.Context, actor domain.Actor, amount decimal.Decimal) (*ledger.Settlement, error)
}

type WalletHandler struct {
	wallets walletService
}

func NewWalletHandler(wallets walletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

type transferRequest struct {
	To     uuid.UUID       `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

type redeemRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type entriesPage struct {
	Entries []ledgerEntryDTO `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	acct, err := h.wallets.Balance(r.Context(), actor, actor.ID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(acct))
}

func (h *WalletHandler) Entries(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	limit, offset := pagination(r)

	entries, total, err := h.wallets.History(r.Context(), actor, actor.ID, limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, entriesPage{
		Entries: toLedgerEntryDTOs(entries),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req transferRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	var fields []FieldError
	if req.To == uuid.Nil {
		fields = append(fields, FieldError{Field: "to", Message: "required"})
	}
	if !req.Amount.IsPositive() {
		fields = append(fields, FieldError{Field: "amount", Message: "must be greater than 0"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	s, err := h.wallets.Transfer(r.Context(), actor, req.To, req.Amount, req.Note)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, fmt.Sprintf("Transferred %s.", money(req.Amount)), toSettlementDTO(s))
}

func (h *WalletHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req redeemRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	if !req.Amount.IsPositive() {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be greater than 0"}})
		return
	}

	s, err := h.wallets.Redeem(r.Context(), actor, req.Amount)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, fmt.Sprintf("Redeemed %s.", money(req.Amount)), toSettlementDTO(s))
}
