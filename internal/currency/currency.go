// Package currency converts amounts between currencies for aggregate
// reporting. Converted figures are approximations and are never stored.
package currency

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tripledger/internal/core"
)

// DefaultTarget is used when no target currency is given.
const DefaultTarget = "USD"

// RateProvider returns how many units of the provider's base currency one
// unit of code is worth. ok is false for currencies the provider does not know.
type RateProvider interface {
	Rate(ctx context.Context, code string) (rate decimal.Decimal, ok bool, err error)
}

// FixedRates is a static rate table keyed by upper-case currency code.
type FixedRates map[string]decimal.Decimal

// DefaultRates is the built-in approximation table, in USD.
func DefaultRates() FixedRates {
	return FixedRates{
		"USD": decimal.NewFromInt(1),
		"EUR": decimal.RequireFromString("1.08"),
		"GBP": decimal.RequireFromString("1.27"),
		"INR": decimal.RequireFromString("0.012"),
	}
}

func (f FixedRates) Rate(_ context.Context, code string) (decimal.Decimal, bool, error) {
	r, ok := f[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok, nil
}

// Normalizer converts amounts with a RateProvider.
type Normalizer struct {
	rates  RateProvider
	target string
}

// NewNormalizer returns a normalizer; an empty target means USD.
func NewNormalizer(rates RateProvider, target string) *Normalizer {
	if rates == nil {
		rates = DefaultRates()
	}
	target = strings.ToUpper(strings.TrimSpace(target))
	if target == "" {
		target = DefaultTarget
	}
	return &Normalizer{rates: rates, target: target}
}

// Normalize converts amount from one currency to another. When either
// currency is unknown to the provider the amount passes through unconverted
// and converted is false.
func (n *Normalizer) Normalize(ctx context.Context, amount core.Money, from, to string) (out core.Money, converted bool, err error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if to == "" {
		to = n.target
	}
	if from == to {
		return amount, true, nil
	}

	fromRate, ok, err := n.rates.Rate(ctx, from)
	if err != nil {
		return amount, false, fmt.Errorf("rate for %s: %w", from, err)
	}
	if !ok {
		return amount, false, nil
	}
	toRate, ok, err := n.rates.Rate(ctx, to)
	if err != nil {
		return amount, false, fmt.Errorf("rate for %s: %w", to, err)
	}
	if !ok || toRate.IsZero() {
		return amount, false, nil
	}

	return core.MoneyFromDecimal(amount.Decimal().Mul(fromRate).Div(toRate)), true, nil
}
