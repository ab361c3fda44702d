package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"tripledger/internal/notify"
)

// Message is a room event received from the exchange.
type Message struct {
	RoomID    string
	EventName string
	Body      []byte
	Timestamp time.Time
}

func messageFromDelivery(d amqp091.Delivery) Message {
	return Message{
		RoomID:    d.RoutingKey,
		EventName: d.Type,
		Body:      d.Body,
		Timestamp: d.Timestamp,
	}
}

// LedgerEvent decodes the body as a ledger event envelope.
func (m Message) LedgerEvent() (notify.Event, error) {
	var e notify.Event
	if err := json.Unmarshal(m.Body, &e); err != nil {
		return notify.Event{}, fmt.Errorf("decode event from %s: %w", m.RoomID, err)
	}
	if e.TripID == "" {
		trip, ok := notify.TripFromRoom(m.RoomID)
		if !ok {
			return notify.Event{}, fmt.Errorf("event without trip from room %q", m.RoomID)
		}
		e.TripID = trip
	}
	if e.Type == "" {
		e.Type = notify.EventType(m.EventName)
	}
	return e, nil
}
