// Package settlement moves shares from pending to paid and derives the
// expense status from its shares.
package settlement

import (
	"fmt"
	"time"

	"tripledger/internal/core"
)

// DeriveStatus returns settled iff every share is paid. An expense without
// shares stays pending.
func DeriveStatus(shares []core.Share) core.ExpenseStatus {
	if len(shares) == 0 {
		return core.ExpensePending
	}
	for _, s := range shares {
		if s.Status != core.SharePaid {
			return core.ExpensePending
		}
	}
	return core.ExpenseSettled
}

// MarkPaid transitions userID's share to paid and recomputes e.Status.
// Marking an already paid share is a no-op and reports changed == false.
func MarkPaid(e *core.Expense, userID, settledBy string, at time.Time) (changed bool, err error) {
	i := e.ShareIndex(userID)
	if i < 0 {
		return false, fmt.Errorf("%w: no share for %q on expense %s", core.ErrShareNotFound, userID, e.ID)
	}
	if e.Shares[i].Status == core.SharePaid {
		return false, nil
	}
	if settledBy == "" {
		settledBy = userID
	}
	at = at.UTC()
	e.Shares[i].Status = core.SharePaid
	e.Shares[i].PaidAt = &at
	e.Shares[i].SettledBy = settledBy
	e.Status = DeriveStatus(e.Shares)
	return true, nil
}

// Summarize reports who still owes the contributor and how much has been paid.
// The contributor's own share counts towards the totals like any other share.
func Summarize(e core.Expense) core.Settlements {
	out := core.Settlements{
		ExpenseID:     e.ID,
		ContributorID: e.ContributorID,
		Currency:      e.Currency,
		Status:        DeriveStatus(e.Shares),
		Pending:       []core.PendingShare{},
	}
	for _, s := range e.Shares {
		if s.Status == core.SharePaid {
			out.TotalPaid = out.TotalPaid.Add(s.Amount)
			continue
		}
		out.TotalPending = out.TotalPending.Add(s.Amount)
		out.Pending = append(out.Pending, core.PendingShare{From: s.UserID, Amount: s.Amount})
	}
	return out
}
