package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrValidation              = errors.New("validation failed")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrIntegrity               = errors.New("ledger integrity violation")
	ErrConflict                = errors.New("concurrent modification, retry")
	ErrVersionConflict         = errors.New("optimistic lock conflict")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Reason identifies why a request was rejected. Reasons are stable and safe
// to expose to API clients.
type Reason string

const (
	ReasonInvalidStatus              Reason = "invalid_status"
	ReasonInvalidTransition          Reason = "invalid_transition"
	ReasonAdminRequired              Reason = "admin_required"
	ReasonDisputeReasonTooShort      Reason = "dispute_reason_too_short"
	ReasonUnauthorizedDispute        Reason = "unauthorized_dispute"
	ReasonCancellationTimeout        Reason = "cancellation_timeout"
	ReasonClientConfirmationRequired Reason = "client_confirmation_required"
	ReasonUnauthorizedActor          Reason = "unauthorized_actor"
	ReasonInvalidAmount              Reason = "invalid_amount"
	ReasonInvalidSplit               Reason = "invalid_split"
	ReasonReasonRequired             Reason = "reason_required"
	ReasonSelfDealing                Reason = "self_dealing"
	ReasonInviteClosed               Reason = "invite_closed"
	ReasonInviteExpired              Reason = "invite_expired"
	ReasonProposalPending            Reason = "proposal_pending"
	ReasonProposalClosed             Reason = "proposal_closed"
	ReasonConfirmationNotDue         Reason = "confirmation_not_due"
	ReasonInvalidInput               Reason = "invalid_input"
	ReasonMintDailyLimit             Reason = "daily_mint_limit_exceeded"
	ReasonMintMonthlyLimit           Reason = "monthly_mint_limit_exceeded"
)

type ValidationError struct {
	Reason  Reason
	Message string
}

func NewValidationError(reason Reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ReasonOf extracts the validation reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// Party names the role an account plays in an order.
type Party string

const (
	PartyClient   Party = "client"
	PartyProvider Party = "provider"
	PartyPlatform Party = "platform"
	PartyAccount  Party = "account"
)

// BalanceKind distinguishes the two buckets of an account.
type BalanceKind string

const (
	BalanceAvailable BalanceKind = "available"
	BalanceEscrow    BalanceKind = "escrow"
)

type InsufficientFundsError struct {
	Who       Party
	AccountID uuid.UUID
	Balance   BalanceKind
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: required %s, available %s",
		e.Balance, e.Who, FormatMoney(e.Required), FormatMoney(e.Available))
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// IntegrityError reports a broken ledger invariant or a store constraint
// violation. The enclosing transaction is always rolled back.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in %s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
