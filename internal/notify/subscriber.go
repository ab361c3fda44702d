package notify

import (
	"context"
	"fmt"
	"sync"
)

// Decision is what a subscriber does with an incoming event.
type Decision int

const (
	Apply Decision = iota
	Discard
	Gap
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case Discard:
		return "discard"
	case Gap:
		return "gap"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// SequenceTracker remembers the last applied sequence per trip.
type SequenceTracker struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{last: make(map[string]int64)}
}

// Observe classifies seq for tripID. Apply advances the baseline; Discard
// is a duplicate or stale event; Gap means events were missed and the
// baseline is left unchanged. The first event seen for a trip is applied.
func (t *SequenceTracker) Observe(tripID string, seq int64) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, known := t.last[tripID]
	switch {
	case !known || seq == last+1:
		t.last[tripID] = seq
		return Apply
	case seq <= last:
		return Discard
	default:
		return Gap
	}
}

// Reset sets the baseline, typically after an authoritative fetch.
func (t *SequenceTracker) Reset(tripID string, seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[tripID] = seq
}

// Last returns the baseline for tripID.
func (t *SequenceTracker) Last(tripID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq, ok := t.last[tripID]
	return seq, ok
}

// ResyncFunc refetches authoritative state for a trip and returns the
// sequence number that state reflects.
type ResyncFunc func(ctx context.Context, tripID string) (int64, error)

// Subscriber applies in-order events and resyncs on gaps.
type Subscriber struct {
	tracker *SequenceTracker
	apply   func(Event)
	resync  ResyncFunc
}

func NewSubscriber(tracker *SequenceTracker, apply func(Event), resync ResyncFunc) *Subscriber {
	if tracker == nil {
		tracker = NewSequenceTracker()
	}
	return &Subscriber{tracker: tracker, apply: apply, resync: resync}
}

// Handle processes one event and reports the decision taken.
func (s *Subscriber) Handle(ctx context.Context, e Event) (Decision, error) {
	d := s.tracker.Observe(e.TripID, e.Sequence)
	switch d {
	case Apply:
		if s.apply != nil {
			s.apply(e)
		}
	case Gap:
		if s.resync == nil {
			s.tracker.Reset(e.TripID, e.Sequence)
			return d, nil
		}
		seq, err := s.resync(ctx, e.TripID)
		if err != nil {
			return d, fmt.Errorf("resync trip %s: %w", e.TripID, err)
		}
		s.tracker.Reset(e.TripID, seq)
	}
	return d, nil
}
