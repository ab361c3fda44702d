// Package storagetest holds behaviour checks shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"tripledger/internal/core"
	"tripledger/internal/storage"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// Expense builds a stored-shape expense with an even split.
func Expense(id, tripID string, day int, cents int64, currency string, users ...string) core.Expense {
	shares := make([]core.Share, len(users))
	each := cents / int64(len(users))
	for i, u := range users {
		shares[i] = core.Share{UserID: u, Amount: core.Cents(each), Status: core.SharePending}
	}
	shares[0].Amount = shares[0].Amount.Add(core.Cents(cents - each*int64(len(users))))
	return core.Expense{
		ID:            id,
		TripID:        tripID,
		Amount:        core.Cents(cents),
		Currency:      currency,
		Description:   "expense " + id,
		Category:      core.CategoryFood,
		ContributorID: users[0],
		Date:          base.AddDate(0, 0, day),
		Status:        core.ExpensePending,
		SplitMode:     core.SplitAuto,
		Shares:        shares,
		Version:       1,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
}

// Run exercises a Store implementation. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("CreateGetRoundTrip", func(t *testing.T) { testCreateGet(t, open(t)) })
	t.Run("SequencePerTrip", func(t *testing.T) { testSequence(t, open(t)) })
	t.Run("UpdateVersionCheck", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("ListOrderAndPaging", func(t *testing.T) { testList(t, open(t)) })
	t.Run("TotalsByCurrency", func(t *testing.T) { testTotals(t, open(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, open(t)) })
}

func mustCreate(t *testing.T, s storage.Store, e core.Expense) int64 {
	t.Helper()
	seq, err := s.CreateExpense(context.Background(), e)
	if err != nil {
		t.Fatalf("CreateExpense(%s): %v", e.ID, err)
	}
	return seq
}

func testCreateGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := Expense("e1", "t1", 0, 10000, "USD", "A", "B", "C")
	paid := base.Add(time.Hour)
	e.Shares[1].Status = core.SharePaid
	e.Shares[1].PaidAt = &paid
	e.Shares[1].SettledBy = "A"
	e.Notes = "tip included"
	mustCreate(t, s, e)

	got, err := s.GetExpense(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExpense: %v", err)
	}
	if got.Amount != e.Amount || got.Currency != "USD" || got.Notes != "tip included" || !got.Date.Equal(e.Date) {
		t.Fatalf("GetExpense = %+v, want %+v", got, e)
	}
	if len(got.Shares) != 3 {
		t.Fatalf("shares = %d, want 3", len(got.Shares))
	}
	for i, sh := range got.Shares {
		if sh.UserID != e.Shares[i].UserID || sh.Amount != e.Shares[i].Amount || sh.Status != e.Shares[i].Status {
			t.Fatalf("share %d = %+v, want %+v", i, sh, e.Shares[i])
		}
	}
	if got.Shares[1].PaidAt == nil || !got.Shares[1].PaidAt.Equal(paid) || got.Shares[1].SettledBy != "A" {
		t.Fatalf("paid share not persisted: %+v", got.Shares[1])
	}

	_, err = s.GetExpense(ctx, "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetExpense(missing) err = %v, want not found", err)
	}
}

func testSequence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if seq, _ := s.TripSequence(ctx, "t1"); seq != 0 {
		t.Fatalf("initial sequence = %d, want 0", seq)
	}
	if seq := mustCreate(t, s, Expense("e1", "t1", 0, 100, "USD", "A")); seq != 1 {
		t.Fatalf("first seq = %d, want 1", seq)
	}
	if seq := mustCreate(t, s, Expense("e2", "t2", 0, 100, "USD", "A")); seq != 1 {
		t.Fatalf("other trip seq = %d, want 1", seq)
	}
	if seq := mustCreate(t, s, Expense("e3", "t1", 0, 100, "USD", "A")); seq != 2 {
		t.Fatalf("second seq = %d, want 2", seq)
	}
	if seq, _ := s.TripSequence(ctx, "t1"); seq != 2 {
		t.Fatalf("TripSequence = %d, want 2", seq)
	}
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, Expense("e1", "t1", 0, 9000, "USD", "A", "B", "C"))

	e, _ := s.GetExpense(ctx, "e1")
	e.Amount = core.Cents(6000)
	e.Shares = e.Shares[:2]
	e.Shares[0].Amount, e.Shares[1].Amount = core.Cents(3000), core.Cents(3000)
	e.Description = "changed"
	e.Version = 2
	seq, err := s.UpdateExpense(ctx, e, 1)
	if err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}
	if seq != 2 {
		t.Fatalf("seq = %d, want 2", seq)
	}

	got, _ := s.GetExpense(ctx, "e1")
	if got.Version != 2 || got.Description != "changed" || len(got.Shares) != 2 || got.Amount != core.Cents(6000) {
		t.Fatalf("update not applied: %+v", got)
	}

	e.Version = 3
	if _, err := s.UpdateExpense(ctx, e, 1); !errors.Is(err, core.ErrConcurrencyConflict) {
		t.Fatalf("stale update err = %v, want conflict", err)
	}
	missing := Expense("nope", "t1", 0, 100, "USD", "A")
	if _, err := s.UpdateExpense(ctx, missing, 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing update err = %v, want not found", err)
	}
	if seq, _ := s.TripSequence(ctx, "t1"); seq != 2 {
		t.Fatalf("failed updates bumped the sequence to %d", seq)
	}
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, Expense("e1", "t1", 0, 9000, "USD", "A", "B"))

	trip, seq, deleted, err := s.DeleteExpense(ctx, "e1")
	if err != nil || !deleted || trip != "t1" || seq != 2 {
		t.Fatalf("DeleteExpense = %s, %d, %v, %v", trip, seq, deleted, err)
	}
	if _, err := s.GetExpense(ctx, "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expense still readable after delete: %v", err)
	}
	_, _, deleted, err = s.DeleteExpense(ctx, "e1")
	if err != nil || deleted {
		t.Fatalf("second delete = %v, %v; want false, nil", deleted, err)
	}
	// the id can be reused once the shares are gone
	mustCreate(t, s, Expense("e1", "t1", 0, 100, "USD", "A", "B"))
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()
	// e2 and e3 share a date; ties break on id descending
	mustCreate(t, s, Expense("e1", "t1", 0, 100, "USD", "A"))
	mustCreate(t, s, Expense("e2", "t1", 2, 100, "USD", "A"))
	mustCreate(t, s, Expense("e3", "t1", 2, 100, "USD", "A"))
	mustCreate(t, s, Expense("e4", "t1", 1, 100, "USD", "A"))
	mustCreate(t, s, Expense("x1", "t2", 5, 100, "USD", "A"))
	settled := Expense("e5", "t1", 3, 100, "USD", "A")
	settled.Status = core.ExpenseSettled
	settled.Shares[0].Status = core.SharePaid
	mustCreate(t, s, settled)

	var ids []string
	q := storage.ListQuery{TripID: "t1", Limit: 2}
	pages := 0
	for {
		page, err := s.ListExpenses(ctx, q)
		if err != nil {
			t.Fatalf("ListExpenses: %v", err)
		}
		pages++
		for _, e := range page.Expenses {
			ids = append(ids, e.ID)
			if len(e.Shares) != 1 {
				t.Fatalf("%s listed without shares", e.ID)
			}
		}
		if page.Next == nil {
			break
		}
		q.After = page.Next
	}
	if got, want := fmt.Sprint(ids), "[e5 e3 e2 e4 e1]"; got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
	if pages != 3 {
		t.Fatalf("pages = %d, want 3", pages)
	}

	page, err := s.ListExpenses(ctx, storage.ListQuery{TripID: "t1", Status: core.ExpenseSettled})
	if err != nil || len(page.Expenses) != 1 || page.Expenses[0].ID != "e5" {
		t.Fatalf("status filter = %+v, %v", page.Expenses, err)
	}

	all, err := storage.CollectTrip(ctx, s, "t1")
	if err != nil || len(all) != 5 {
		t.Fatalf("CollectTrip = %d, %v; want 5", len(all), err)
	}

	// stopping early across a page boundary
	var head []string
	for e, err := range storage.Expenses(ctx, s, storage.ListQuery{TripID: "t1", Limit: 2}) {
		if err != nil {
			t.Fatalf("Expenses: %v", err)
		}
		head = append(head, e.ID)
		if len(head) == 3 {
			break
		}
	}
	if got, want := fmt.Sprint(head), "[e5 e3 e2]"; got != want {
		t.Fatalf("Expenses head = %s, want %s", got, want)
	}
}

func testTotals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, Expense("e1", "t1", 0, 1000, "USD", "A"))
	mustCreate(t, s, Expense("e2", "t1", 0, 2550, "USD", "A"))
	mustCreate(t, s, Expense("e3", "t1", 0, 700, "EUR", "A"))
	mustCreate(t, s, Expense("e4", "t2", 0, 999, "USD", "A"))

	totals, err := s.TotalsByCurrency(ctx, "t1")
	if err != nil {
		t.Fatalf("TotalsByCurrency: %v", err)
	}
	want := []core.CurrencyTotal{
		{Currency: "EUR", TotalAmount: core.Cents(700), TotalExpenses: 1},
		{Currency: "USD", TotalAmount: core.Cents(3550), TotalExpenses: 2},
	}
	if fmt.Sprint(totals) != fmt.Sprint(want) {
		t.Fatalf("totals = %+v, want %+v", totals, want)
	}
	empty, err := s.TotalsByCurrency(ctx, "none")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty trip totals = %+v, %v", empty, err)
	}
}

func testActivity(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		err := s.AppendActivity(ctx, storage.Activity{
			ID:        fmt.Sprintf("a%d", i),
			TripID:    "t1",
			ExpenseID: "e1",
			Type:      "newExpense",
			Actor:     "A",
			Sequence:  int64(i),
			Data:      json.RawMessage(`{"n":1}`),
			Metadata:  map[string]string{"source": "test"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
	}
	got, err := s.ListActivity(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a3" || got[1].ID != "a2" {
		t.Fatalf("activity = %+v", got)
	}
	if got[0].Metadata["source"] != "test" || string(got[0].Data) != `{"n":1}` {
		t.Fatalf("activity payload lost: %+v", got[0])
	}
}
