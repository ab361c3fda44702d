// Package realtime delivers trip room broadcasts to browsers over
// Server-Sent Events.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tripledger/internal/log"
	"tripledger/internal/metrics"
)

// Frame is one message queued for a subscriber.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

type subscriber struct {
	ch chan Frame
}

// Hub keeps SSE subscribers grouped by room. It implements the room
// transport used by the notifier, so a broadcast reaches every client that
// joined the room on this process.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*subscriber]struct{}
	buffer    int
	heartbeat time.Duration
	logger    *log.Logger
}

// NewHub creates a hub. Slow clients lose frames once buffer is full.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Hub{
		rooms:     make(map[string]map[*subscriber]struct{}),
		buffer:    buffer,
		heartbeat: 25 * time.Second,
		logger:    logger.WithComponent(log.ComponentRealtime),
	}
}

// SetHeartbeat changes the keep-alive interval; zero disables it.
func (h *Hub) SetHeartbeat(d time.Duration) {
	h.heartbeat = d
}

// JoinRoom is a no-op: rooms exist while they have subscribers.
func (h *Hub) JoinRoom(context.Context, string) error { return nil }

// LeaveRoom disconnects every subscriber of roomID.
func (h *Hub) LeaveRoom(_ context.Context, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.rooms[roomID] {
		close(s.ch)
		metrics.RealtimeSubscribers.Dec()
	}
	delete(h.rooms, roomID)
	return nil
}

// Close disconnects every subscriber. Streams in progress return, which
// lets an http.Server shut down without waiting on them.
func (h *Hub) Close() {
	for _, room := range h.Rooms() {
		_ = h.LeaveRoom(context.Background(), room)
	}
}

// Broadcast queues payload for every subscriber of roomID. The frame id is
// the sequence number of the event when the payload carries one.
func (h *Hub) Broadcast(_ context.Context, roomID, eventName string, payload []byte) error {
	frame := Frame{Event: eventName, ID: frameID(payload), Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[roomID] {
		select {
		case s.ch <- frame:
		default:
			h.logger.Debug("Subscriber too slow, dropping frame", log.FieldRoom, roomID, log.FieldEventType, eventName)
		}
	}
	return nil
}

// Subscribe registers a client for roomID. The returned func unsubscribes
// and is safe to call more than once.
func (h *Hub) Subscribe(roomID string) (<-chan Frame, func()) {
	s := &subscriber{ch: make(chan Frame, h.buffer)}

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*subscriber]struct{})
	}
	h.rooms[roomID][s] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeSubscribers.Inc()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			room, ok := h.rooms[roomID]
			if !ok {
				return
			}
			if _, ok := room[s]; !ok {
				return
			}
			delete(room, s)
			close(s.ch)
			metrics.RealtimeSubscribers.Dec()
			if len(room) == 0 {
				delete(h.rooms, roomID)
			}
		})
	}
}

// ClientCount returns the number of subscribers in roomID.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Rooms lists the rooms that currently have subscribers.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.rooms))
	for r := range h.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Stream serves roomID to w until the client goes away or the room is
// closed.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, roomID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := h.Subscribe(roomID)
	defer unsub()
	h.logger.Debug("Subscriber joined", log.FieldRoom, roomID)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case f, open := <-ch:
			if !open {
				return
			}
			if err := writeFrame(w, f); err != nil {
				h.logger.Debug("Subscriber write failed", log.FieldRoom, roomID, log.FieldError, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, f Frame) error {
	if f.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", f.Event); err != nil {
			return err
		}
	}
	if f.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", f.ID); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", f.Data)
	return err
}

func frameID(payload []byte) string {
	var env struct {
		Sequence int64 `json:"sequenceNumber"`
	}
	if json.Unmarshal(payload, &env) != nil || env.Sequence == 0 {
		return ""
	}
	return strconv.FormatInt(env.Sequence, 10)
}
