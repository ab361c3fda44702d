package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tripledger/internal/log"
	"tripledger/internal/metrics"
)

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event) bool
}

// Notifier queues events and broadcasts them from a single goroutine, so
// events leave in the order they were published. A full queue drops the
// event; subscribers recover through their sequence gap handling.
type Notifier struct {
	transport RoomTransport
	queue     chan Event
	logger    *log.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotifier(transport RoomTransport, bufferSize int, logger *log.Logger) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Notifier{
		transport: transport,
		queue:     make(chan Event, bufferSize),
		logger:    logger.WithComponent(log.ComponentNotify),
		timeout:   5 * time.Second,
	}
}

// Start launches the broadcast loop.
func (n *Notifier) Start() {
	n.wg.Go(func() {
		for e := range n.queue {
			metrics.NotifyQueueDepth.Set(float64(len(n.queue)))
			n.deliver(e)
		}
	})
}

// Publish enqueues e and reports whether it was accepted.
func (n *Notifier) Publish(e Event) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		metrics.NotificationsDropped.Inc()
		return false
	}
	select {
	case n.queue <- e:
		metrics.NotifyQueueDepth.Set(float64(len(n.queue)))
		return true
	default:
		metrics.NotificationsDropped.Inc()
		n.logger.Warn("Notification queue full, dropping event",
			log.NewFields().WithEvent(string(e.Type), e.TripID, e.Sequence).ToSlice()...)
		return false
	}
}

func (n *Notifier) deliver(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("Failed to encode event", log.FieldError, err, log.FieldEventType, e.Type)
		metrics.NotificationsFailed.Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.transport.Broadcast(ctx, RoomID(e.TripID), string(e.Type), body); err != nil {
		metrics.NotificationsFailed.Inc()
		n.logger.Warn("Broadcast failed, clients will resync",
			log.NewFields().WithEvent(string(e.Type), e.TripID, e.Sequence).WithError(err).ToSlice()...)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(string(e.Type)).Inc()
	n.logger.Debug("Event broadcast", log.NewFields().WithEvent(string(e.Type), e.TripID, e.Sequence).ToSlice()...)
}

// Shutdown stops accepting events and drains the queue, giving up when ctx
// is done.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	remaining := len(n.queue)
	close(n.queue)
	n.mu.Unlock()

	n.logger.Info("Draining notifications before shutdown", "remaining_events", remaining)
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
