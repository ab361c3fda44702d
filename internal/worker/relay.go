// Package worker runs background consumers that sit between the broker and
// the local process.
package worker

import (
	"context"
	"fmt"

	"tripledger/internal/amqp"
	"tripledger/internal/log"
	"tripledger/internal/metrics"
	"tripledger/internal/notify"
)

// Consumer is the broker side of the relay.
type Consumer interface {
	JoinRoom(ctx context.Context, roomID string) error
	Consume(ctx context.Context, handler func(context.Context, amqp.Message) error) error
}

// Relay forwards ledger events published by other instances into the
// rooms served by this process. Events are ordered per trip: duplicates
// are dropped and gaps trigger a resync of the baseline before the event
// is forwarded, so SSE clients see the gap and refetch on their own.
type Relay struct {
	rooms  notify.RoomTransport
	sub    *notify.Subscriber
	logger *log.Logger
}

// NewRelay creates a relay broadcasting into rooms. resync may be nil, in
// which case a gap simply moves the baseline to the incoming event.
func NewRelay(rooms notify.RoomTransport, resync notify.ResyncFunc, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Relay{
		rooms:  rooms,
		sub:    notify.NewSubscriber(notify.NewSequenceTracker(), nil, resync),
		logger: logger.WithComponent(log.ComponentRelay),
	}
}

// Run binds every trip room and consumes until ctx is done.
func (r *Relay) Run(ctx context.Context, c Consumer) error {
	if err := c.JoinRoom(ctx, "#"); err != nil {
		return fmt.Errorf("bind rooms: %w", err)
	}
	r.logger.InfoContext(ctx, "Relay consuming ledger events")
	return c.Consume(ctx, r.HandleMessage)
}

// HandleMessage processes one broker message. A message that cannot be
// decoded is returned as an error so the broker drops it.
func (r *Relay) HandleMessage(ctx context.Context, msg amqp.Message) error {
	e, err := msg.LedgerEvent()
	if err != nil {
		return err
	}

	d, err := r.sub.Handle(ctx, e)
	switch d {
	case notify.Discard:
		r.logger.DebugContext(ctx, "Dropping stale event",
			log.FieldRoom, msg.RoomID,
			log.FieldEventType, string(e.Type),
			log.FieldSequence, e.Sequence)
		return nil
	case notify.Gap:
		metrics.RelayGaps.Inc()
		if err != nil {
			r.logger.ErrorContext(ctx, "Resync after gap failed",
				log.FieldRoom, msg.RoomID,
				log.FieldSequence, e.Sequence,
				log.FieldError, err)
		} else {
			r.logger.WarnContext(ctx, "Sequence gap detected",
				log.FieldRoom, msg.RoomID,
				log.FieldSequence, e.Sequence)
		}
	}

	room := notify.RoomID(e.TripID)
	if err := r.rooms.Broadcast(ctx, room, string(e.Type), msg.Body); err != nil {
		return fmt.Errorf("broadcast %s to %s: %w", e.Type, room, err)
	}
	return nil
}
