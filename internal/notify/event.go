// Package notify publishes ledger mutations to trip rooms as
// sequence-numbered invalidation hints and helps subscribers reconcile them.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tripledger/internal/core"
)

type EventType string

const (
	NewExpense     EventType = "newExpense"
	ExpenseUpdated EventType = "expenseUpdated"
	ExpenseSettled EventType = "expenseSettled"
	ExpenseDeleted EventType = "expenseDeleted"
)

const roomPrefix = "trip:"

// Event is the envelope broadcast to a trip room. Sequence numbers are
// issued per trip by the store and increase with every committed mutation.
type Event struct {
	Type      EventType       `json:"type"`
	TripID    string          `json:"tripId"`
	Sequence  int64           `json:"sequenceNumber"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// ExpensePayload accompanies newExpense and expenseUpdated.
type ExpensePayload struct {
	TripID  string       `json:"tripId"`
	Expense core.Expense `json:"expense"`
}

// SettledPayload accompanies expenseSettled.
type SettledPayload struct {
	TripID    string             `json:"tripId"`
	ExpenseID string             `json:"expenseId"`
	UserID    string             `json:"userId"`
	SettledBy string             `json:"settledBy"`
	Status    core.ExpenseStatus `json:"status"`
}

// DeletedPayload accompanies expenseDeleted.
type DeletedPayload struct {
	TripID    string `json:"tripId"`
	ExpenseID string `json:"expenseId"`
}

// NewEvent wraps payload in an envelope.
func NewEvent(typ EventType, tripID string, seq int64, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{Type: typ, TripID: tripID, Sequence: seq, Payload: raw, EmittedAt: time.Now().UTC()}, nil
}

// RoomID names the room of a trip.
func RoomID(tripID string) string {
	return roomPrefix + tripID
}

// TripFromRoom is the inverse of RoomID.
func TripFromRoom(room string) (string, bool) {
	trip, ok := strings.CutPrefix(room, roomPrefix)
	return trip, ok && trip != ""
}
