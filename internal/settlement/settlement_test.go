package settlement

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"tripledger/internal/core"
)

func threeShareExpense() core.Expense {
	return core.Expense{
		ID:            "e1",
		ContributorID: "A",
		Amount:        core.Cents(9000),
		Currency:      "USD",
		Status:        core.ExpensePending,
		Shares: []core.Share{
			{UserID: "A", Amount: core.Cents(3000), Status: core.SharePending},
			{UserID: "B", Amount: core.Cents(3000), Status: core.SharePending},
			{UserID: "C", Amount: core.Cents(3000), Status: core.SharePending},
		},
	}
}

func TestMarkPaidThenSettlements(t *testing.T) {
	e := threeShareExpense()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	changed, err := MarkPaid(&e, "B", "", now)
	if err != nil || !changed {
		t.Fatalf("MarkPaid(B) = %v, %v; want true, nil", changed, err)
	}
	if e.Status != core.ExpensePending {
		t.Fatalf("status = %s, want pending", e.Status)
	}
	if e.Shares[1].SettledBy != "B" || e.Shares[1].PaidAt == nil || !e.Shares[1].PaidAt.Equal(now) {
		t.Fatalf("share B not stamped: %+v", e.Shares[1])
	}

	got := Summarize(e)
	want := []core.PendingShare{{From: "A", Amount: core.Cents(3000)}, {From: "C", Amount: core.Cents(3000)}}
	if !reflect.DeepEqual(got.Pending, want) {
		t.Fatalf("pending = %+v, want %+v", got.Pending, want)
	}
	if got.TotalPaid != core.Cents(3000) {
		t.Fatalf("totalPaid = %s, want 30.00", got.TotalPaid)
	}
	if got.TotalPending != core.Cents(6000) {
		t.Fatalf("totalPending = %s, want 60.00", got.TotalPending)
	}
}

func TestMarkPaidIdempotent(t *testing.T) {
	e := threeShareExpense()
	first := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	if _, err := MarkPaid(&e, "C", "A", first); err != nil {
		t.Fatalf("first MarkPaid: %v", err)
	}
	snapshot := e.Clone()

	changed, err := MarkPaid(&e, "C", "B", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("second MarkPaid: %v", err)
	}
	if changed {
		t.Fatalf("second MarkPaid reported a change")
	}
	if !reflect.DeepEqual(e, snapshot) {
		t.Fatalf("second MarkPaid mutated the expense:\n got %+v\nwant %+v", e, snapshot)
	}
}

func TestMarkPaidSettlesWhenAllPaid(t *testing.T) {
	e := threeShareExpense()
	for _, u := range []string{"A", "B", "C"} {
		if _, err := MarkPaid(&e, u, "", time.Now()); err != nil {
			t.Fatalf("MarkPaid(%s): %v", u, err)
		}
	}
	if e.Status != core.ExpenseSettled {
		t.Fatalf("status = %s, want settled", e.Status)
	}
	s := Summarize(e)
	if len(s.Pending) != 0 || s.TotalPending.Cents != 0 || s.TotalPaid != e.Amount {
		t.Fatalf("unexpected settlements %+v", s)
	}
}

func TestMarkPaidUnknownShare(t *testing.T) {
	e := threeShareExpense()
	_, err := MarkPaid(&e, "Z", "", time.Now())
	if !errors.Is(err, core.ErrShareNotFound) || !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want share not found", err)
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		shares []core.Share
		want   core.ExpenseStatus
	}{
		{nil, core.ExpensePending},
		{[]core.Share{{Status: core.SharePaid}}, core.ExpenseSettled},
		{[]core.Share{{Status: core.SharePaid}, {Status: core.SharePending}}, core.ExpensePending},
	}
	for i, tc := range cases {
		if got := DeriveStatus(tc.shares); got != tc.want {
			t.Errorf("case %d: DeriveStatus = %s, want %s", i, got, tc.want)
		}
	}
}
