package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

// RespondMessage is RespondSuccess with a human readable summary of what
// happened.
func RespondMessage(w http.ResponseWriter, status int, message string, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

type insufficientFundsDetails struct {
	Who       string `json:"who"`
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Required  string `json:"required"`
	Available string `json:"available"`
}

func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *domain.ValidationError
		ie *domain.InsufficientFundsError
	)

	switch {
	case errors.As(err, &ve):
		RespondAppError(w, &AppError{
			Status:  reasonStatus(ve.Reason),
			Code:    strings.ToUpper(string(ve.Reason)),
			Message: ve.Message,
		}, nil)
	case errors.As(err, &ie):
		RespondAppError(w, &AppError{
			Status:  ErrInsufficientFunds.Status,
			Code:    ErrInsufficientFunds.Code,
			Message: ie.Error(),
		}, insufficientFundsDetails{
			Who:       string(ie.Who),
			AccountID: ie.AccountID.String(),
			Balance:   string(ie.Balance),
			Required:  domain.FormatMoney(ie.Required),
			Available: domain.FormatMoney(ie.Available),
		})
	case errors.Is(err, domain.ErrNotFound):
		RespondAppError(w, ErrResourceNotFound, nil)
	case errors.Is(err, domain.ErrForbidden):
		RespondAppError(w, ErrForbidden, nil)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrVersionConflict):
		RespondAppError(w, ErrConflict, nil)
	case errors.Is(err, domain.ErrInvalidRequest):
		RespondAppError(w, ErrInvalidRequest, nil)
	case errors.Is(err, domain.ErrIntegrity):
		logging.Integrity(r.Context(), r.Method+" "+r.URL.Path, err)
		RespondAppError(w, ErrInternalError, nil)
	default:
		logging.FromContext(r.Context()).Error("unhandled domain error", "error", err)
		RespondAppError(w, ErrInternalError, nil)
	}
}

func reasonStatus(r domain.Reason) int {
	switch r {
	case domain.ReasonUnauthorizedActor, domain.ReasonUnauthorizedDispute,
		domain.ReasonAdminRequired, domain.ReasonClientConfirmationRequired:
		return http.StatusForbidden
	case domain.ReasonInvalidTransition, domain.ReasonInvalidStatus,
		domain.ReasonCancellationTimeout, domain.ReasonConfirmationNotDue,
		domain.ReasonInviteClosed, domain.ReasonInviteExpired,
		domain.ReasonProposalPending, domain.ReasonProposalClosed:
		return http.StatusConflict
	case domain.ReasonSelfDealing, domain.ReasonMintDailyLimit, domain.ReasonMintMonthlyLimit:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
