package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidSplit  = fmt.Errorf("%w: invalid split", ErrValidation)
	ErrSplitMismatch = fmt.Errorf("%w: split mismatch", ErrValidation)

	ErrMembership = errors.New("not a trip member")

	ErrNotFound        = errors.New("not found")
	ErrExpenseNotFound = fmt.Errorf("expense %w", ErrNotFound)
	ErrShareNotFound   = fmt.Errorf("share %w", ErrNotFound)
	ErrTripNotFound    = fmt.Errorf("trip %w", ErrNotFound)

	ErrConcurrencyConflict = errors.New("concurrent modification, re-read and retry")
)

// Invalidf returns a validation error with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// MembershipError reports a user that is not a current member of a trip.
type MembershipError struct {
	TripID string
	UserID string
}

func (e *MembershipError) Error() string {
	return fmt.Sprintf("user %q is not a member of trip %q", e.UserID, e.TripID)
}

func (e *MembershipError) Is(target error) bool {
	return target == ErrMembership
}
