package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// Channel is the subset of *amqp.Channel the bridge needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithCallTimeout bounds how long Call waits for a reply. Zero disables the
// bound; the caller's context is then the only limit.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithObservability routes bridge counters and logs.
func WithObservability(obs ports.Observability) Option {
	return func(b *Bridge) {
		if obs != nil {
			b.obs = obs
		}
	}
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(fn func() string) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.newID = fn
		}
	}
}

func withConnection(c io.Closer) Option {
	return func(b *Bridge) { b.conn = c }
}

// Bridge turns publish/subscribe into blocking request/response. Every Call
// registers a waiter under a fresh correlation id; the dispatcher hands each
// reply to the waiter holding its id and drops replies nobody waits for.
// Calls may be issued concurrently.
type Bridge struct {
	conn       io.Closer
	ch         Channel
	replyQueue string
	timeout    time.Duration
	newID      func() string
	obs        ports.Observability

	mu      sync.Mutex
	pending map[string]chan amqp.Delivery

	lost      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewBridge declares an exclusive, server-named reply queue on ch and starts
// consuming it.
func NewBridge(ch Channel, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		ch:      ch,
		newID:   uuid.NewString,
		obs:     ports.NopObservability{},
		pending: make(map[string]chan amqp.Delivery),
		lost:    make(chan struct{}),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, ports.NewOpError("declare_reply_queue", ports.ErrBusConnection, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, ports.NewOpError("consume_reply_queue", ports.ErrBusConnection, err)
	}
	b.replyQueue = q.Name

	go b.dispatch(deliveries)
	return b, nil
}

// ReplyQueue is the name the broker assigned to the private reply queue.
func (b *Bridge) ReplyQueue() string { return b.replyQueue }

// Call publishes payload to destination and waits for the reply carrying
// the same correlation id.
func (b *Bridge) Call(ctx context.Context, payload, destination string) (string, error) {
	if !b.Alive() {
		return "", ports.NewOpError("call", ports.ErrBusConnection, errors.New("bridge is closed"))
	}

	id := b.newID()
	wait := make(chan amqp.Delivery, 1)
	b.mu.Lock()
	b.pending[id] = wait
	b.mu.Unlock()
	defer b.forget(id)

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	err := b.ch.PublishWithContext(callCtx, "", destination, false, false, amqp.Publishing{
		ContentType:   "text/plain",
		CorrelationId: id,
		ReplyTo:       b.replyQueue,
		Timestamp:     time.Now(),
		Body:          []byte(payload),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ports.NewOpError("publish", ports.ErrBusConnection, err)
	}
	b.obs.IncCounter("relay_calls_total", 1)

	select {
	case d := <-wait:
		return string(d.Body), nil
	case <-b.lost:
		return "", ports.NewOpError("call", ports.ErrBusConnection, errors.New("reply consumer stopped"))
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		b.obs.IncCounter("relay_call_timeouts_total", 1)
		return "", ports.NewOpError("call", ports.ErrCallTimeout,
			fmt.Errorf("no reply for %s within %s", id, b.timeout))
	}
}

// Pending is the number of calls awaiting a reply.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Alive is false once the reply consumer has stopped or Close was called.
func (b *Bridge) Alive() bool {
	select {
	case <-b.lost:
		return false
	case <-b.closed:
		return false
	default:
		return true
	}
}

// Close tears down the channel and connection and waits for the dispatcher.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.ch.Close()
		if b.conn != nil {
			err = errors.Join(err, b.conn.Close())
		}
	})
	<-b.done
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func (b *Bridge) dispatch(deliveries <-chan amqp.Delivery) {
	defer close(b.done)
	defer close(b.lost)
	for d := range deliveries {
		b.resolve(d)
	}
}

func (b *Bridge) resolve(d amqp.Delivery) {
	b.mu.Lock()
	wait, ok := b.pending[d.CorrelationId]
	if ok {
		delete(b.pending, d.CorrelationId)
	}
	b.mu.Unlock()

	if !ok {
		b.obs.IncCounter("relay_uncorrelated_replies_total", 1)
		b.obs.LogInfo("reply_discarded", ports.Field{Key: "correlation_id", Value: d.CorrelationId})
		return
	}
	wait <- d
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

var _ ports.Caller = (*Bridge)(nil)
