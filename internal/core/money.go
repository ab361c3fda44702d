// Package core provides the ledger domain types and money handling utilities.
//
// Amounts are kept as integer minor units (cents). Decimal strings coming
// from clients are parsed with shopspring/decimal and rounded half away from
// zero on the third decimal place.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountCents bounds a single amount so that sums over a trip cannot overflow.
const MaxAmountCents int64 = 100_000_000_000_00

// Tolerance is the maximum deviation allowed between an expense amount and
// the sum of its shares.
var Tolerance = Money{Cents: 1}

// Money is an amount in minor units of the owning expense's currency.
type Money struct {
	Cents int64
}

// Cents builds a Money from minor units.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// MoneyFromDecimal rounds d to two decimals and converts it to minor units.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Round(2).Shift(2).IntPart()}
}

// ParseMoney parses a decimal string such as "12.34" or "12,34".
// Negative and zero values are accepted here; callers validate the sign.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Abs().GreaterThan(decimal.New(MaxAmountCents, -2)) {
		return Money{}, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

// Within reports whether m and o differ by at most tol.
func (m Money) Within(o, tol Money) bool {
	return m.Sub(o).Abs().Cents <= tol.Cents
}

// Validate checks that the amount is positive and in range.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	if m.Cents > MaxAmountCents {
		return fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return nil
}

// MarshalJSON renders the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		return nil
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SumShares adds up share amounts.
func SumShares(shares []Share) Money {
	var total Money
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}
