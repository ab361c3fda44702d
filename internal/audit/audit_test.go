package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"tripledger/internal/log"
	"tripledger/internal/storage/memory"
)

func TestNewEventOptions(t *testing.T) {
	e := NewEvent(
		WithType("expenseSettled"),
		WithTrip("t1"),
		WithExpense("e1"),
		WithActor("A"),
		WithSequence(3),
		WithMetadata("source", "http"),
		WithData(map[string]string{"userId": "B"}),
	)
	if e.ID.String() == "" || e.CreatedAt.IsZero() {
		t.Fatalf("event missing id or timestamp: %+v", e)
	}
	if e.Type != "expenseSettled" || e.TripID != "t1" || e.ExpenseID != "e1" || e.Actor != "A" || e.Sequence != 3 {
		t.Fatalf("options not applied: %+v", e)
	}
	if e.Metadata["source"] != "http" {
		t.Fatalf("metadata = %v", e.Metadata)
	}
	if NewEvent().ID == e.ID {
		t.Fatalf("ids should be unique")
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(memory.New())

	for i, typ := range []string{"newExpense", "expenseSettled"} {
		err := rec.Save(ctx, NewEvent(WithType(typ), WithTrip("t1"), WithSequence(int64(i+1)), WithData(map[string]int{"n": i})))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	rec.Save(ctx, NewEvent(WithType("newExpense"), WithTrip("t2"), WithSequence(1)))

	trail, err := rec.Trail(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != 2 || trail[0].Type != "expenseSettled" {
		t.Fatalf("trail = %+v", trail)
	}
	var data map[string]int
	if err := json.Unmarshal(trail[0].Data, &data); err != nil || data["n"] != 1 {
		t.Fatalf("data = %s (%v)", trail[0].Data, err)
	}
}

type memorySaver struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memorySaver) Save(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	saver := &memorySaver{}
	w := NewWorker(saver, 16, quietLogger())
	for range 10 {
		if !w.Log(NewEvent(WithType("newExpense"))) {
			t.Fatalf("Log rejected an event with room in the buffer")
		}
	}
	w.Start()
	w.Shutdown()

	if len(saver.events) != 10 {
		t.Fatalf("saved %d events, want 10", len(saver.events))
	}
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Format: "json", Output: io.Discard})
}

func TestWorkerDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	w := NewWorker(&memorySaver{}, 1, log.New(log.Config{Format: "json", Output: &buf}))
	if !w.Log(NewEvent()) {
		t.Fatalf("first event should fit")
	}
	if w.Log(NewEvent(WithType("newExpense"), WithTrip("t1"))) {
		t.Fatalf("second event should be dropped")
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec[log.FieldComponent] != log.ComponentAudit || rec["msg"] != "Audit channel full, dropping event" {
		t.Fatalf("log line = %v", rec)
	}
	if rec[log.FieldEventType] != "newExpense" || rec[log.FieldTripID] != "t1" {
		t.Fatalf("log line fields = %v", rec)
	}
}

func TestWorkerSurvivesSaveErrors(t *testing.T) {
	saver := &memorySaver{err: errors.New("disk full")}
	w := NewWorker(saver, 4, quietLogger())
	w.Start()
	w.Log(NewEvent())
	w.Shutdown()
}
