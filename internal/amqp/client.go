package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"tripledger/internal/metrics"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var errCircuitOpen = errors.New("circuit breaker is open")

// Client broadcasts room events through a topic exchange. The routing key
// of every message is the room id, and joining a room binds the client's
// queue to that key. Bindings are replayed after a reconnect.
type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	queue    string
	bindings map[string]struct{}

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient connects and declares the exchange and queue. An empty
// queueName declares an exclusive server-named queue that disappears with
// the connection, which suits per-process relays.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		bindings:     make(map[string]struct{}),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectLocked() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn, c.channel = conn, channel
	if err := c.setupLocked(); err != nil {
		c.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setupLocked() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	durable := c.queueName != ""
	q, err := c.channel.QueueDeclare(
		c.queueName, // name
		durable,     // durable
		!durable,    // delete when unused
		!durable,    // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	c.queue = q.Name

	for room := range c.bindings {
		if err := c.channel.QueueBind(c.queue, room, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("rebind room %s: %w", room, err)
		}
	}
	return nil
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) ensureConnectedLocked() error {
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	c.closeLocked()
	if err := c.connectLocked(); err != nil {
		return err
	}
	metrics.AMQPReconnects.Inc()
	slog.Info("Reconnected to AMQP", "exchange", c.exchangeName, "rooms", len(c.bindings))
	return nil
}

// JoinRoom binds the client's queue to roomID. Topic wildcards are passed
// through, so "#" follows every room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bindings == nil {
		c.bindings = make(map[string]struct{})
	}
	c.bindings[roomID] = struct{}{}
	if err := c.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := c.channel.QueueBind(c.queue, roomID, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind room %s: %w", roomID, err)
	}
	return nil
}

// LeaveRoom removes the binding for roomID.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, roomID)
	if err := c.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := c.channel.QueueUnbind(c.queue, roomID, c.exchangeName, nil); err != nil {
		return fmt.Errorf("unbind room %s: %w", roomID, err)
	}
	return nil
}

// Broadcast publishes payload with roomID as routing key and eventName as
// the message type.
func (c *Client) Broadcast(ctx context.Context, roomID, eventName string, payload []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", roomID, errCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(); err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		roomID,         // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Type:        eventName,
			Timestamp:   time.Now(),
			Body:        payload,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.closeLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	slog.DebugContext(ctx, "Published room event",
		"room", roomID,
		"event_type", eventName,
		"exchange", c.exchangeName)
	return nil
}

// Consume delivers messages from the client's queue to handler until ctx is
// done. A lost connection is re-established with exponential backoff and
// the room bindings are restored before consumption resumes.
func (c *Client) Consume(ctx context.Context, handler func(context.Context, Message) error) error {
	attempt := 0
	for {
		deliveries, err := c.startConsuming()
		if err != nil {
			wait := exponentialBackoff(attempt)
			attempt++
			slog.WarnContext(ctx, "AMQP consume failed, retrying", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		attempt = 0
		slog.InfoContext(ctx, "Started consuming room events", "queue", c.queueNameSnapshot())

		if err := c.drain(ctx, deliveries, handler); err != nil {
			return err
		}
		slog.WarnContext(ctx, "AMQP delivery channel closed, reconnecting")
	}
}

func (c *Client) startConsuming() (<-chan amqp091.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}
	msgs, err := c.channel.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		if isConnectionError(err) {
			c.closeLocked()
		}
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return msgs, nil
}

// drain returns nil when the delivery channel closes and ctx.Err() when ctx
// is done.
func (c *Client) drain(ctx context.Context, deliveries <-chan amqp091.Delivery, handler func(context.Context, Message) error) error {
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			msg := messageFromDelivery(d)
			if err := handler(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle room event",
					"error", err,
					"room", msg.RoomID,
					"event_type", msg.EventName)
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
	}
}

func (c *Client) queueNameSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout && atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen) {
			metrics.CircuitBreakerState.Set(float64(StateHalfOpen))
			slog.Info("AMQP circuit breaker half-open, probing")
			return false
		}
		return atomic.LoadInt32(&c.state) == StateOpen
	default:
		return false
	}
}

// recordFailure must be called with c.mu held or from a single goroutine.
func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.lastFailure = time.Now()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			metrics.CircuitBreakerState.Set(float64(StateOpen))
			slog.Warn("AMQP circuit breaker opened", "failures", n)
		}
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	if atomic.SwapInt32(&c.state, StateClosed) != StateClosed {
		metrics.CircuitBreakerState.Set(float64(StateClosed))
		slog.Info("AMQP circuit breaker closed")
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
