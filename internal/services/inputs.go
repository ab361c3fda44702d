package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tripledger/internal/core"
)

// CreateExpenseInput carries a new expense as submitted by a client.
// Category, SplitMode and Currency are parsed by the service.
type CreateExpenseInput struct {
	TripID        string
	ContributorID string
	Amount        core.Money
	Currency      string
	Description   string
	Category      string
	Notes         string
	Date          time.Time
	Participants  []string
	SplitMode     string
	ManualSplits  map[string]core.Money
	Percentages   map[string]decimal.Decimal
}

// ExpensePatch changes selected fields of an expense. Nil fields are left
// alone. When the amount, participants or split mode differ from the stored
// expense, or the per-user splits give different amounts, the expense is
// re-split and every share goes back to pending. Resending current values
// keeps the shares and their payments.
type ExpensePatch struct {
	Amount        *core.Money
	Currency      *string
	Description   *string
	Category      *string
	Notes         *string
	ContributorID *string
	Date          *time.Time
	Participants  []string
	SplitMode     *string
	ManualSplits  map[string]core.Money
	Percentages   map[string]decimal.Decimal
	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64
}

// SettleShare marks one share of an expense as paid.
type SettleShare struct {
	ExpenseID string
	UserID    string
	// SettledBy defaults to UserID.
	SettledBy string
	// ExpectedVersion is ignored when the share is already paid so client
	// retries stay harmless.
	ExpectedVersion int64
}

// ListOptions filters ListByTrip.
type ListOptions struct {
	Status   core.ExpenseStatus
	PageSize int
}

type actorKey struct{}

// WithActor returns a context carrying the user performing a mutation.
// When present, the actor must be a member of the trip being changed.
func WithActor(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the acting user, if any.
func ActorFrom(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrMembership):
		return "membership"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
