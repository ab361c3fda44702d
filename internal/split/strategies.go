package split

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tripledger/internal/core"
)

var hundred = decimal.NewFromInt(100)

// AutoStrategy divides the amount evenly. Remainder cents go one each to
// the first participants, so shares differ by at most one cent and always
// sum to the amount.
type AutoStrategy struct{}

func (AutoStrategy) Mode() core.SplitMode { return core.SplitAuto }

func (AutoStrategy) Shares(amount core.Money, participants []string, _ Request) ([]core.Money, error) {
	return spread(amount.Cents, make([]int64, len(participants))), nil
}

// ManualStrategy takes caller-specified amounts that must add up to the total.
type ManualStrategy struct{}

func (ManualStrategy) Mode() core.SplitMode { return core.SplitManual }

func (ManualStrategy) Shares(amount core.Money, participants []string, req Request) ([]core.Money, error) {
	out := make([]core.Money, len(participants))
	var total core.Money
	for i, id := range participants {
		m, ok := req.ManualSplits[id]
		if !ok {
			return nil, core.Invalidf("missing manual split for %q", id)
		}
		if m.Cents < 0 {
			return nil, core.Invalidf("negative manual split for %q", id)
		}
		out[i] = m
		total = total.Add(m)
	}
	if !total.Within(amount, core.Tolerance) {
		return nil, fmt.Errorf("%w: manual splits total %s, amount %s", core.ErrSplitMismatch, total, amount)
	}
	return out, nil
}

// PercentageStrategy assigns each participant a percentage of the amount.
// Percentages must total 100; rounding leftovers are spread like AutoStrategy.
type PercentageStrategy struct{}

func (PercentageStrategy) Mode() core.SplitMode { return core.SplitPercentage }

func (PercentageStrategy) Shares(amount core.Money, participants []string, req Request) ([]core.Money, error) {
	base := make([]int64, len(participants))
	total := decimal.Zero
	for i, id := range participants {
		p, ok := req.Percentages[id]
		if !ok {
			return nil, core.Invalidf("missing percentage for %q", id)
		}
		if p.IsNegative() {
			return nil, core.Invalidf("negative percentage for %q", id)
		}
		total = total.Add(p)
		base[i] = decimal.NewFromInt(amount.Cents).Mul(p).Div(hundred).Floor().IntPart()
	}
	if total.Sub(hundred).Abs().GreaterThan(decimal.New(1, -2)) {
		return nil, fmt.Errorf("%w: percentages total %s, want 100", core.ErrSplitMismatch, total.String())
	}
	var assigned int64
	for _, b := range base {
		assigned += b
	}
	return spreadOnto(base, amount.Cents-assigned), nil
}

// spread fills zeroed base with an even division of cents.
func spread(cents int64, base []int64) []core.Money {
	n := int64(len(base))
	for i := range base {
		base[i] = cents / n
	}
	return spreadOnto(base, cents%n)
}

// spreadOnto hands out leftover cents one at a time from the first entry.
func spreadOnto(base []int64, leftover int64) []core.Money {
	for i := 0; leftover > 0 && len(base) > 0; i = (i + 1) % len(base) {
		base[i]++
		leftover--
	}
	out := make([]core.Money, len(base))
	for i, b := range base {
		out[i] = core.Cents(b)
	}
	return out
}
