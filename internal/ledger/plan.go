package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Leg is one balance movement on one account. Applying a leg writes exactly
// one ledger entry.
type Leg struct {
	AccountID   uuid.UUID
	Party       domain.Party
	Kind        domain.EntryKind
	Amount      decimal.Decimal
	OrderID     *uuid.UUID
	Description string
}

// Plan is an ordered list of legs applied in one transaction. Conserving
// plans must net to zero across all accounts.
type Plan struct {
	Op         string
	Legs       []Leg
	Conserving bool
	Settlement Settlement
}

// Net returns the change in total supply the plan would cause.
func (p Plan) Net() decimal.Decimal {
	net := decimal.Zero
	for _, l := range p.Legs {
		avail, escrow := l.Kind.Effect(l.Amount)
		net = net.Add(avail).Add(escrow)
	}
	return net
}

func (p *Plan) add(l Leg) {
	if l.Amount.IsZero() {
		return
	}
	p.Legs = append(p.Legs, l)
}

// EscrowTerms identifies an order's escrow position without tying the ledger
// to order storage.
type EscrowTerms struct {
	OrderID         uuid.UUID
	ClientID        uuid.UUID
	ProviderID      uuid.UUID
	Value           decimal.Decimal
	ContestationFee decimal.Decimal
}

// TermsOf builds EscrowTerms from an order that has a provider.
func TermsOf(o *domain.Order) (EscrowTerms, error) {
	if o.ProviderID == nil {
		return EscrowTerms{}, domain.NewValidationError(domain.ReasonInvalidStatus, "order has no provider")
	}
	return EscrowTerms{
		OrderID:         o.ID,
		ClientID:        o.ClientID,
		ProviderID:      *o.ProviderID,
		Value:           o.Value,
		ContestationFee: o.Fees.ContestationFee,
	}, nil
}

func (t EscrowTerms) validate() error {
	if t.ClientID == t.ProviderID {
		return domain.NewValidationError(domain.ReasonSelfDealing, "client and provider must be different accounts")
	}
	if err := domain.ValidateAmount("order value", t.Value); err != nil {
		return err
	}
	if t.ContestationFee.IsNegative() || !domain.HasMoneyPrecision(t.ContestationFee) {
		return domain.NewValidationError(domain.ReasonInvalidAmount, "contestation fee must be a non-negative amount with at most 2 decimals")
	}
	return nil
}

func (t EscrowTerms) clientHold() decimal.Decimal { return t.Value.Add(t.ContestationFee) }

// Settlement summarises where an order's escrow went.
type Settlement struct {
	OrderID              uuid.UUID
	ProviderPayout       decimal.Decimal
	ClientRefund         decimal.Decimal
	PlatformFee          decimal.Decimal
	ContestationReturned decimal.Decimal
	CancellationFee      decimal.Decimal
	Compensation         decimal.Decimal
	Entries              []domain.LedgerEntry
}

func (t EscrowTerms) leg(party domain.Party, kind domain.EntryKind, amount decimal.Decimal, desc string) Leg {
	id := t.ClientID
	switch party {
	case domain.PartyProvider:
		id = t.ProviderID
	case domain.PartyPlatform:
		id = domain.SystemAccountID
	}
	orderID := t.OrderID
	return Leg{AccountID: id, Party: party, Kind: kind, Amount: amount, OrderID: &orderID, Description: desc}
}

func (t EscrowTerms) returnProviderContestation(p *Plan) {
	p.add(t.leg(domain.PartyProvider, domain.EntryKindEscrowRefund, t.ContestationFee, "contestation fee returned"))
	p.Settlement.ContestationReturned = t.ContestationFee.Mul(decimal.NewFromInt(2))
}

// PlanHold holds value plus contestation fee from the client and the
// contestation fee from the provider.
func PlanHold(t EscrowTerms) (Plan, error) {
	if err := t.validate(); err != nil {
		return Plan{}, err
	}
	p := Plan{Op: "escrow_hold", Conserving: true, Settlement: Settlement{OrderID: t.OrderID}}
	p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowHold, t.clientHold(), "service value and contestation fee held"))
	p.add(t.leg(domain.PartyProvider, domain.EntryKindEscrowHold, t.ContestationFee, "contestation fee held"))
	return p, nil
}

// PlanRelease pays the provider value minus the platform fee and returns both
// contestation holds.
func PlanRelease(t EscrowTerms, feePct decimal.Decimal) (Plan, error) {
	if err := t.validate(); err != nil {
		return Plan{}, err
	}
	if err := domain.ValidatePercent("platform fee percentage", feePct); err != nil {
		return Plan{}, err
	}
	fee := domain.PercentOf(t.Value, feePct)
	payout := t.Value.Sub(fee)

	p := Plan{Op: "escrow_release", Conserving: true, Settlement: Settlement{
		OrderID:        t.OrderID,
		ProviderPayout: payout,
		PlatformFee:    fee,
	}}
	p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRelease, t.Value.Neg(), "service value released"))
	p.add(t.leg(domain.PartyProvider, domain.EntryKindCredit, payout, "payment for completed order"))
	p.add(t.leg(domain.PartyPlatform, domain.EntryKindPlatformFee, fee, fmt.Sprintf("platform fee %s%%", feePct.String())))
	p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRefund, t.ContestationFee, "contestation fee returned"))
	t.returnProviderContestation(&p)
	return p, nil
}

// PlanRefund returns the client's full hold and the provider's contestation
// hold.
func PlanRefund(t EscrowTerms) (Plan, error) {
	if err := t.validate(); err != nil {
		return Plan{}, err
	}
	p := Plan{Op: "escrow_refund", Conserving: true, Settlement: Settlement{
		OrderID:      t.OrderID,
		ClientRefund: t.Value,
	}}
	p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRefund, t.clientHold(), "service value and contestation fee refunded"))
	t.returnProviderContestation(&p)
	return p, nil
}

// ValidateSplit checks that the three percentages are non-negative and sum
// to exactly 100.
func ValidateSplit(clientPct, providerPct, feePct decimal.Decimal) error {
	parts := []struct {
		name string
		pct  decimal.Decimal
	}{{"client", clientPct}, {"provider", providerPct}, {"fee", feePct}}
	for _, part := range parts {
		if part.pct.IsNegative() {
			return domain.NewValidationError(domain.ReasonInvalidSplit, part.name+" percentage must not be negative")
		}
	}
	if !clientPct.Add(providerPct).Add(feePct).Equal(hundred) {
		return domain.NewValidationError(domain.ReasonInvalidSplit, "client, provider and fee percentages must add up to 100")
	}
	return nil
}

// PlanSplit divides the escrowed value between client, provider and platform.
// The platform leg absorbs rounding so the value is always fully allocated.
func PlanSplit(t EscrowTerms, clientPct, providerPct, feePct decimal.Decimal) (Plan, error) {
	if err := t.validate(); err != nil {
		return Plan{}, err
	}
	if err := ValidateSplit(clientPct, providerPct, feePct); err != nil {
		return Plan{}, err
	}

	clientShare := domain.PercentOf(t.Value, clientPct)
	providerShare := domain.PercentOf(t.Value, providerPct)
	if clientShare.Add(providerShare).GreaterThan(t.Value) {
		providerShare = t.Value.Sub(clientShare)
	}
	fee := t.Value.Sub(clientShare).Sub(providerShare)

	p := Plan{Op: "dispute_split", Conserving: true, Settlement: Settlement{
		OrderID:        t.OrderID,
		ProviderPayout: providerShare,
		ClientRefund:   clientShare,
		PlatformFee:    fee,
	}}
	p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRelease, t.Value.Neg(), "service value released for dispute split"))
	p.add(t.leg(domain.PartyClient, domain.EntryKindDisputeSplit, clientShare, fmt.Sprintf("dispute split %s%% to client", clientPct.String())))
	p.add(t.leg(domain.PartyProvider, domain.EntryKindDisputeSplit, providerShare, fmt.Sprintf("dispute split %s%% to provider", providerPct.String())))
	p.add(t.leg(domain.PartyPlatform, domain.EntryKindPlatformFee, fee, "dispute resolution fee"))
	p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRefund, t.ContestationFee, "contestation fee returned"))
	t.returnProviderContestation(&p)
	return p, nil
}

// PlanCancellation charges the cancelling party a fee of pct percent of the
// value. Half goes to the platform and the rest compensates the other party.
// Everything else held for the order is returned.
func PlanCancellation(t EscrowTerms, cancelledBy domain.Party, pct decimal.Decimal) (Plan, error) {
	if err := t.validate(); err != nil {
		return Plan{}, err
	}
	if err := domain.ValidatePercent("cancellation fee percentage", pct); err != nil {
		return Plan{}, err
	}

	fee := domain.PercentOf(t.Value, pct)
	platformHalf := domain.RoundMoney(fee.Div(decimal.NewFromInt(2)))
	compensation := fee.Sub(platformHalf)

	p := Plan{Op: "cancellation", Conserving: true, Settlement: Settlement{
		OrderID:         t.OrderID,
		PlatformFee:     platformHalf,
		CancellationFee: fee,
		Compensation:    compensation,
	}}

	switch cancelledBy {
	case domain.PartyClient:
		p.Settlement.ClientRefund = t.Value.Sub(fee)
		p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRelease, fee.Neg(), "cancellation fee withheld from escrow"))
		p.add(t.leg(domain.PartyPlatform, domain.EntryKindPlatformFee, platformHalf, "platform share of cancellation fee"))
		p.add(t.leg(domain.PartyProvider, domain.EntryKindCredit, compensation, "cancellation compensation"))
		p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRefund, t.clientHold().Sub(fee), "remaining escrow refunded after cancellation"))
		t.returnProviderContestation(&p)
	case domain.PartyProvider:
		p.Settlement.ClientRefund = t.Value
		p.add(t.leg(domain.PartyClient, domain.EntryKindEscrowRefund, t.clientHold(), "service value and contestation fee refunded"))
		t.returnProviderContestation(&p)
		p.add(t.leg(domain.PartyProvider, domain.EntryKindDebit, fee.Neg(), "cancellation fee"))
		p.add(t.leg(domain.PartyPlatform, domain.EntryKindPlatformFee, platformHalf, "platform share of cancellation fee"))
		p.add(t.leg(domain.PartyClient, domain.EntryKindCredit, compensation, "cancellation compensation"))
	default:
		return Plan{}, fmt.Errorf("PlanCancellation: unsupported cancelling party %q", cancelledBy)
	}
	return p, nil
}

func accountLeg(id uuid.UUID, party domain.Party, kind domain.EntryKind, amount decimal.Decimal, desc string) Leg {
	return Leg{AccountID: id, Party: party, Kind: kind, Amount: amount, Description: desc}
}

func partyOf(id uuid.UUID) domain.Party {
	if id == domain.SystemAccountID {
		return domain.PartyPlatform
	}
	return domain.PartyAccount
}

// PlanTransfer moves amount between two accounts' available balances.
func PlanTransfer(from, to uuid.UUID, amount decimal.Decimal, desc string) (Plan, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return Plan{}, err
	}
	if from == to {
		return Plan{}, domain.NewValidationError(domain.ReasonSelfDealing, "cannot transfer to the same account")
	}
	p := Plan{Op: "transfer", Conserving: true}
	p.add(accountLeg(from, partyOf(from), domain.EntryKindDebit, amount.Neg(), desc))
	p.add(accountLeg(to, partyOf(to), domain.EntryKindCredit, amount, desc))
	return p, nil
}

// PlanMint creates new supply. Minting only ever credits the system account;
// users receive tokens through Issue.
func PlanMint(amount decimal.Decimal, desc string) (Plan, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return Plan{}, err
	}
	p := Plan{Op: "mint"}
	p.add(accountLeg(domain.SystemAccountID, domain.PartyPlatform, domain.EntryKindMint, amount, desc))
	return p, nil
}
