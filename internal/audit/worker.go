package audit

import (
	"context"
	"sync"

	"tripledger/internal/log"
)

// Worker saves events in the background so recording never delays a
// ledger mutation.
type Worker struct {
	eventCh chan Event
	saver   Saver
	logger  *log.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWorker(saver Saver, bufferSize int, logger *log.Logger) *Worker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		eventCh: make(chan Event, bufferSize),
		saver:   saver,
		logger:  logger.WithComponent(log.ComponentAudit),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *Worker) Start() {
	w.wg.Go(func() {
		for {
			select {
			case <-w.ctx.Done():
				w.logger.Info("Draining audit events before shutdown", "remaining_events", len(w.eventCh))
				for len(w.eventCh) > 0 {
					w.save(context.Background(), <-w.eventCh)
				}
				return
			case event := <-w.eventCh:
				w.save(context.WithoutCancel(w.ctx), event)
			}
		}
	})
}

func (w *Worker) save(ctx context.Context, event Event) {
	if err := w.saver.Save(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to save audit event",
			log.FieldError, err,
			log.FieldEventType, event.Type,
			log.FieldTripID, event.TripID)
	}
}

// Log queues event and reports whether it was accepted.
func (w *Worker) Log(event Event) bool {
	select {
	case w.eventCh <- event:
		return true
	default:
		w.logger.Warn("Audit channel full, dropping event",
			log.FieldEventType, event.Type,
			log.FieldTripID, event.TripID)
		return false
	}
}

// Shutdown stops the worker after saving what is queued.
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
}
