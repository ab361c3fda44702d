// Package split turns an expense amount and its participants into ordered,
// validated shares.
package split

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tripledger/internal/core"
)

// Request describes how an amount is divided.
type Request struct {
	TripID       string
	Amount       core.Money
	Currency     string
	Participants []string
	Mode         core.SplitMode
	ManualSplits map[string]core.Money
	Percentages  map[string]decimal.Decimal
}

// Strategy computes share amounts for one split mode. Participants are
// already deduplicated and checked for membership.
type Strategy interface {
	Mode() core.SplitMode
	Shares(amount core.Money, participants []string, req Request) ([]core.Money, error)
}

// Calculator dispatches to the strategy registered for the request mode.
type Calculator struct {
	strategies map[core.SplitMode]Strategy
}

// NewCalculator returns a calculator with the auto, manual and percentage
// strategies registered. Extra strategies replace built-ins with the same mode.
func NewCalculator(extra ...Strategy) *Calculator {
	c := &Calculator{strategies: make(map[core.SplitMode]Strategy)}
	for _, s := range append([]Strategy{AutoStrategy{}, ManualStrategy{}, PercentageStrategy{}}, extra...) {
		c.strategies[s.Mode()] = s
	}
	return c
}

// Calculate validates the request against the trip members and returns
// pending shares in participant order.
//
// Checks run in order: amount, participants, membership, then the
// mode-specific rules.
func (c *Calculator) Calculate(req Request, members core.MemberSet) ([]core.Share, error) {
	if err := req.Amount.Validate(); err != nil {
		return nil, err
	}
	participants := Dedupe(req.Participants)
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", core.ErrInvalidSplit)
	}
	for _, id := range participants {
		if !members.Has(id) {
			return nil, &core.MembershipError{TripID: req.TripID, UserID: id}
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = core.SplitAuto
	}
	strategy, ok := c.strategies[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported split mode %q", core.ErrInvalidSplit, mode)
	}
	amounts, err := strategy.Shares(req.Amount, participants, req)
	if err != nil {
		return nil, err
	}
	if len(amounts) != len(participants) {
		return nil, fmt.Errorf("%w: %s strategy returned %d shares for %d participants",
			core.ErrInvalidSplit, mode, len(amounts), len(participants))
	}

	shares := make([]core.Share, len(participants))
	for i, id := range participants {
		shares[i] = core.Share{UserID: id, Amount: amounts[i], Status: core.SharePending}
	}
	if !core.SumShares(shares).Within(req.Amount, core.Tolerance) {
		return nil, fmt.Errorf("%w: shares total %s, amount %s",
			core.ErrSplitMismatch, core.SumShares(shares), req.Amount)
	}
	return shares, nil
}

// Dedupe drops empty and repeated ids, keeping first occurrences in order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
