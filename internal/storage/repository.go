// Package storage persists expenses, their shares and the per-trip sequence
// counter. Every mutation commits the expense rows and the sequence bump in
// one transaction.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"tripledger/internal/core"
)

// DefaultPageSize is used when a list query has no limit.
const DefaultPageSize = 50

// MaxPageSize caps a single page.
const MaxPageSize = 500

// Repository is the ledger's source of truth.
type Repository interface {
	// CreateExpense stores e with its shares and returns the new trip sequence.
	CreateExpense(ctx context.Context, e core.Expense) (seq int64, err error)
	GetExpense(ctx context.Context, id string) (core.Expense, error)
	// UpdateExpense replaces the expense row and all its shares when the
	// stored version equals expectedVersion. e.Version must already carry
	// the new version.
	UpdateExpense(ctx context.Context, e core.Expense, expectedVersion int64) (seq int64, err error)
	// DeleteExpense removes the expense and its shares. Deleting an absent
	// expense reports deleted == false and no error.
	DeleteExpense(ctx context.Context, id string) (tripID string, seq int64, deleted bool, err error)
	ListExpenses(ctx context.Context, q ListQuery) (Page, error)
	TotalsByCurrency(ctx context.Context, tripID string) ([]core.CurrencyTotal, error)
	// TripSequence returns the last sequence number issued for the trip, 0 if none.
	TripSequence(ctx context.Context, tripID string) (int64, error)
	Close() error
}

// ListQuery selects one page of a trip's expenses, newest first.
type ListQuery struct {
	TripID string
	Status core.ExpenseStatus
	Limit  int
	After  *Cursor
}

// Page is one page of expenses. Next is nil on the last page.
type Page struct {
	Expenses []core.Expense
	Next     *Cursor
}

func (q ListQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	}
	return q.Limit
}

// Activity is one entry of a trip's audit trail.
type Activity struct {
	ID        string            `json:"id"`
	TripID    string            `json:"tripId"`
	ExpenseID string            `json:"expenseId,omitempty"`
	Type      string            `json:"type"`
	Actor     string            `json:"actor,omitempty"`
	Sequence  int64             `json:"sequence"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ActivityLog stores the audit trail.
type ActivityLog interface {
	AppendActivity(ctx context.Context, entries ...Activity) error
	// ListActivity returns the newest entries first.
	ListActivity(ctx context.Context, tripID string, limit int) ([]Activity, error)
}

// Store is what a backend provides.
type Store interface {
	Repository
	ActivityLog
}

// Expenses yields every expense matching q, following the cursor from page
// to page. Iterating again restarts from q.After.
func Expenses(ctx context.Context, repo Repository, q ListQuery) iter.Seq2[core.Expense, error] {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	return func(yield func(core.Expense, error) bool) {
		q := q
		for {
			page, err := repo.ListExpenses(ctx, q)
			if err != nil {
				yield(core.Expense{}, fmt.Errorf("list trip %s: %w", q.TripID, err))
				return
			}
			for _, e := range page.Expenses {
				if !yield(e, nil) {
					return
				}
			}
			if page.Next == nil {
				return
			}
			q.After = page.Next
		}
	}
}

// CollectTrip reads every expense of a trip.
func CollectTrip(ctx context.Context, repo Repository, tripID string) ([]core.Expense, error) {
	var all []core.Expense
	for e, err := range Expenses(ctx, repo, ListQuery{TripID: tripID, Limit: MaxPageSize}) {
		if err != nil {
			return nil, err
		}
		all = append(all, e)
	}
	return all, nil
}
