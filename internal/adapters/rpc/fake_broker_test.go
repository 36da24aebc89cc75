package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// fakeBroker routes publishes on the default exchange to named queues.
type fakeBroker struct {
	mu     sync.Mutex
	queues map[string]chan amqp.Delivery
	seq    int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]chan amqp.Delivery)}
}

func (b *fakeBroker) declare(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.seq++
		name = fmt.Sprintf("amq.gen-%d", b.seq)
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = make(chan amqp.Delivery, 64)
	}
	return name
}

func (b *fakeBroker) deliver(key string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		return
	}
	q <- amqp.Delivery{
		RoutingKey:    key,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
	}
}

// drop deletes a queue and ends its consumer's delivery stream.
func (b *fakeBroker) drop(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		close(q)
		delete(b.queues, name)
	}
}

type fakeChannel struct {
	broker     *fakeBroker
	intercept  func(key string, msg amqp.Publishing) bool
	publishErr error

	mu        sync.Mutex
	exclusive []string
	closed    bool
}

func (c *fakeChannel) QueueDeclare(name string, _, _, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	name = c.broker.declare(name)
	if exclusive {
		c.mu.Lock()
		c.exclusive = append(c.exclusive, name)
		c.mu.Unlock()
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	q, ok := c.broker.queues[queue]
	if !ok {
		return nil, errors.New("no such queue")
	}
	return q, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.intercept != nil && c.intercept(key, msg) {
		return nil
	}
	c.broker.deliver(key, msg)
	return nil
}

// Close removes the channel's exclusive queues, as the broker does when
// their owner goes away.
func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, q := range c.exclusive {
		c.broker.drop(q)
	}
	return nil
}

type countingObs struct {
	ports.NopObservability
	mu       sync.Mutex
	counters map[string]float64
}

func (o *countingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counters == nil {
		o.counters = make(map[string]float64)
	}
	o.counters[name] += v
}

func (o *countingObs) count(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}
