package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MintAllowance tracks how much supply one admin has created in the current
// UTC day and month against that admin's caps.
type MintAllowance struct {
	AdminID      uuid.UUID
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
	DailyUsed    decimal.Decimal
	MonthlyUsed  decimal.Decimal
	Day          time.Time
	Month        time.Time
	UpdatedAt    time.Time
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Roll zeroes the counters whose window has passed.
func (a *MintAllowance) Roll(now time.Time) {
	if d := dayOf(now); !a.Day.Equal(d) {
		a.Day = d
		a.DailyUsed = decimal.Zero
	}
	if m := monthOf(now); !a.Month.Equal(m) {
		a.Month = m
		a.MonthlyUsed = decimal.Zero
	}
}

func (a *MintAllowance) DailyRemaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, a.DailyLimit.Sub(a.DailyUsed))
}

func (a *MintAllowance) MonthlyRemaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, a.MonthlyLimit.Sub(a.MonthlyUsed))
}

// Check reports whether amount fits in both windows. The daily cap is
// checked first.
func (a *MintAllowance) Check(amount decimal.Decimal) error {
	if a.DailyUsed.Add(amount).GreaterThan(a.DailyLimit) {
		return NewValidationError(ReasonMintDailyLimit, fmt.Sprintf(
			"daily mint limit exceeded: %s remaining, %s requested",
			FormatMoney(a.DailyRemaining()), FormatMoney(amount)))
	}
	if a.MonthlyUsed.Add(amount).GreaterThan(a.MonthlyLimit) {
		return NewValidationError(ReasonMintMonthlyLimit, fmt.Sprintf(
			"monthly mint limit exceeded: %s remaining, %s requested",
			FormatMoney(a.MonthlyRemaining()), FormatMoney(amount)))
	}
	return nil
}

func (a *MintAllowance) Use(amount decimal.Decimal, now time.Time) {
	a.DailyUsed = a.DailyUsed.Add(amount)
	a.MonthlyUsed = a.MonthlyUsed.Add(amount)
	a.UpdatedAt = now
}
