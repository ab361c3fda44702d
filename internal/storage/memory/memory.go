// Package memory is an in-process Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"tripledger/internal/core"
	"tripledger/internal/storage"
)

type Store struct {
	mu       sync.Mutex
	expenses map[string]core.Expense
	seqs     map[string]int64
	activity map[string][]storage.Activity
}

func New() *Store {
	return &Store{
		expenses: make(map[string]core.Expense),
		seqs:     make(map[string]int64),
		activity: make(map[string][]storage.Activity),
	}
}

func (s *Store) bump(tripID string) int64 {
	s.seqs[tripID]++
	return s.seqs[tripID]
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.expenses[e.ID]; exists {
		return 0, fmt.Errorf("expense %s already exists", e.ID)
	}
	s.expenses[e.ID] = e.Clone()
	return s.bump(e.TripID), nil
}

func (s *Store) GetExpense(_ context.Context, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, fmt.Errorf("%w: %s", core.ErrExpenseNotFound, id)
	}
	return e.Clone(), nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.expenses[e.ID]
	if !ok {
		return 0, core.ErrExpenseNotFound
	}
	if cur.Version != expectedVersion {
		return 0, fmt.Errorf("%w: expense %s is not at version %d", core.ErrConcurrencyConflict, e.ID, expectedVersion)
	}
	e.TripID = cur.TripID
	e.CreatedAt = cur.CreatedAt
	s.expenses[e.ID] = e.Clone()
	return s.bump(e.TripID), nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) (string, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok {
		return "", 0, false, nil
	}
	delete(s.expenses, id)
	return e.TripID, s.bump(e.TripID), true, nil
}

func (s *Store) ListExpenses(_ context.Context, q storage.ListQuery) (storage.Page, error) {
	s.mu.Lock()
	matched := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if e.TripID != q.TripID {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if q.After != nil && !q.After.Admits(e) {
			continue
		}
		matched = append(matched, e.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(matched, storage.CompareListOrder)

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = storage.DefaultPageSize
	case limit > storage.MaxPageSize:
		limit = storage.MaxPageSize
	}
	var page storage.Page
	if len(matched) > limit {
		matched = matched[:limit]
		page.Next = storage.CursorAfter(matched[limit-1])
	}
	page.Expenses = matched
	return page, nil
}

func (s *Store) TotalsByCurrency(_ context.Context, tripID string) ([]core.CurrencyTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCur := make(map[string]*core.CurrencyTotal)
	for _, e := range s.expenses {
		if e.TripID != tripID {
			continue
		}
		t, ok := byCur[e.Currency]
		if !ok {
			t = &core.CurrencyTotal{Currency: e.Currency}
			byCur[e.Currency] = t
		}
		t.TotalAmount = t.TotalAmount.Add(e.Amount)
		t.TotalExpenses++
	}
	out := make([]core.CurrencyTotal, 0, len(byCur))
	for _, t := range byCur {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b core.CurrencyTotal) int { return strings.Compare(a.Currency, b.Currency) })
	return out, nil
}

func (s *Store) TripSequence(_ context.Context, tripID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqs[tripID], nil
}

func (s *Store) AppendActivity(_ context.Context, entries ...storage.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range entries {
		s.activity[a.TripID] = append(s.activity[a.TripID], a)
	}
	return nil
}

func (s *Store) ListActivity(_ context.Context, tripID string, limit int) ([]storage.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > storage.MaxPageSize {
		limit = storage.DefaultPageSize
	}
	all := s.activity[tripID]
	out := make([]storage.Activity, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
