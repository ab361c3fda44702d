package notify

import (
	"context"
	"errors"
)

// RoomTransport is the pub/sub primitive the ledger broadcasts through.
type RoomTransport interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	Broadcast(ctx context.Context, roomID, eventName string, payload []byte) error
}

// Fanout broadcasts to several transports. Every transport is tried; the
// errors are joined.
type Fanout []RoomTransport

func (f Fanout) JoinRoom(ctx context.Context, roomID string) error {
	var errs []error
	for _, t := range f {
		errs = append(errs, t.JoinRoom(ctx, roomID))
	}
	return errors.Join(errs...)
}

func (f Fanout) LeaveRoom(ctx context.Context, roomID string) error {
	var errs []error
	for _, t := range f {
		errs = append(errs, t.LeaveRoom(ctx, roomID))
	}
	return errors.Join(errs...)
}

func (f Fanout) Broadcast(ctx context.Context, roomID, eventName string, payload []byte) error {
	var errs []error
	for _, t := range f {
		errs = append(errs, t.Broadcast(ctx, roomID, eventName, payload))
	}
	return errors.Join(errs...)
}

