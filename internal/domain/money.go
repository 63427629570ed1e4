package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// PercentOf returns pct percent of amount, rounded to money precision.
// pct is expressed in percent points: 5 means 5%.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}

func HasMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces))
}

// ValidateAmount checks that amount is strictly positive with at most two
// decimals. field names the offending input in the error message.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError(ReasonInvalidAmount, fmt.Sprintf("%s must be greater than zero", field))
	}
	if !HasMoneyPrecision(amount) {
		return NewValidationError(ReasonInvalidAmount, fmt.Sprintf("%s must have at most %d decimal places", field, MoneyPlaces))
	}
	return nil
}

// ValidatePercent checks 0 <= pct <= 100.
func ValidatePercent(field string, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return NewValidationError(ReasonInvalidAmount, fmt.Sprintf("%s must be between 0 and 100", field))
	}
	return nil
}

// FormatMoney renders an amount with exactly two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}
