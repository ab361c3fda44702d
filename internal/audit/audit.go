// Package audit records ledger mutations as an append-only activity trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tripledger/internal/storage"
)

type Event struct {
	ID        uuid.UUID
	TripID    string
	ExpenseID string
	Type      string
	Actor     string
	Sequence  int64
	Data      any
	Metadata  map[string]string
	CreatedAt time.Time
}

type EventOption func(*Event)

func WithType(eventType string) EventOption {
	return func(e *Event) {
		e.Type = eventType
	}
}

func WithTrip(tripID string) EventOption {
	return func(e *Event) {
		e.TripID = tripID
	}
}

func WithExpense(expenseID string) EventOption {
	return func(e *Event) {
		e.ExpenseID = expenseID
	}
}

func WithActor(actor string) EventOption {
	return func(e *Event) {
		e.Actor = actor
	}
}

func WithSequence(seq int64) EventOption {
	return func(e *Event) {
		e.Sequence = seq
	}
}

func WithData(data any) EventOption {
	return func(e *Event) {
		e.Data = data
	}
}

func WithMetadata(key, value string) EventOption {
	return func(e *Event) {
		e.Metadata[key] = value
	}
}

func NewEvent(opts ...EventOption) Event {
	e := Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Saver persists audit events.
type Saver interface {
	Save(ctx context.Context, e Event) error
}

// Recorder saves events into a storage activity log.
type Recorder struct {
	log storage.ActivityLog
}

func NewRecorder(log storage.ActivityLog) *Recorder {
	return &Recorder{log: log}
}

func (r *Recorder) Save(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode %s data: %w", e.Type, err)
	}
	return r.log.AppendActivity(ctx, storage.Activity{
		ID:        e.ID.String(),
		TripID:    e.TripID,
		ExpenseID: e.ExpenseID,
		Type:      e.Type,
		Actor:     e.Actor,
		Sequence:  e.Sequence,
		Data:      data,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	})
}

// Trail returns the newest activity of a trip first.
func (r *Recorder) Trail(ctx context.Context, tripID string, limit int) ([]storage.Activity, error) {
	entries, err := r.log.ListActivity(ctx, tripID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity for trip %s: %w", tripID, err)
	}
	return entries, nil
}
