package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func validExpense() Expense {
	return Expense{
		TripID:        "trip-1",
		ContributorID: "A",
		Amount:        Cents(9000),
		Currency:      "USD",
		Description:   "Dinner",
		Category:      CategoryFood,
		Date:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExpenseValidate(t *testing.T) {
	if err := validExpense().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []func(e *Expense){
		func(e *Expense) { e.TripID = "" },
		func(e *Expense) { e.ContributorID = " " },
		func(e *Expense) { e.Amount = Cents(0) },
		func(e *Expense) { e.Amount = Cents(-5) },
		func(e *Expense) { e.Description = "" },
		func(e *Expense) { e.Category = "souvenirs" },
		func(e *Expense) { e.Date = time.Time{} },
	}
	for i, mutate := range bads {
		e := validExpense()
		mutate(&e)
		err := e.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"", CategoryOther, true},
		{"Food", CategoryFood, true},
		{" accommodation ", CategoryAccommodation, true},
		{"souvenirs", "", false},
	}
	for _, tc := range cases {
		got, err := ParseCategory(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"usd", "USD", true},
		{" EUR ", "EUR", true},
		{"Beach tokens", "Beach tokens", true},
		{"r2d", "r2d", true},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeCurrency(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q expected %q, got %q (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestMembershipErrorIs(t *testing.T) {
	err := fmt.Errorf("create expense: %w", &MembershipError{TripID: "t", UserID: "Z"})
	if !errors.Is(err, ErrMembership) {
		t.Fatalf("expected errors.Is(err, ErrMembership)")
	}
	var me *MembershipError
	if !errors.As(err, &me) || me.UserID != "Z" {
		t.Fatalf("expected MembershipError for Z, got %v", err)
	}
	if !errors.Is(ErrShareNotFound, ErrNotFound) || !errors.Is(ErrSplitMismatch, ErrValidation) {
		t.Fatalf("sentinel hierarchy broken")
	}
}

func TestExpenseClone(t *testing.T) {
	paid := time.Now()
	e := validExpense()
	e.Shares = []Share{{UserID: "A", Amount: Cents(9000), Status: SharePaid, PaidAt: &paid}}
	c := e.Clone()
	c.Shares[0].Status = SharePending
	*c.Shares[0].PaidAt = time.Time{}
	if e.Shares[0].Status != SharePaid || e.Shares[0].PaidAt.IsZero() {
		t.Fatalf("clone shares storage with original")
	}
}
