package rpc

import (
	"context"
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// Handler computes the reply body for one request body.
type Handler func(ctx context.Context, body string) (string, error)

// Responder serves the far side of a Bridge: it consumes a request queue and
// answers each delivery on its reply-to queue under the same correlation id.
type Responder struct {
	ch      Channel
	queue   string
	handler Handler
	obs     ports.Observability
}

func NewResponder(ch Channel, queue string, handler Handler, obs ports.Observability) *Responder {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Responder{ch: ch, queue: queue, handler: handler, obs: obs}
}

// Serve blocks until ctx is done or the delivery stream ends.
func (r *Responder) Serve(ctx context.Context) error {
	if r.handler == nil {
		return errors.New("rpc responder: nil handler")
	}
	if _, err := r.ch.QueueDeclare(r.queue, false, false, false, false, nil); err != nil {
		return ports.NewOpError("declare_queue", ports.ErrBusConnection, err)
	}
	deliveries, err := r.ch.Consume(r.queue, "", true, false, false, false, nil)
	if err != nil {
		return ports.NewOpError("consume_queue", ports.ErrBusConnection, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ports.NewOpError("serve", ports.ErrBusConnection, errors.New("delivery stream closed"))
			}
			r.reply(ctx, d)
		}
	}
}

func (r *Responder) reply(ctx context.Context, d amqp.Delivery) {
	if d.ReplyTo == "" {
		r.obs.LogInfo("request_without_reply_to", ports.Field{Key: "correlation_id", Value: d.CorrelationId})
		return
	}
	body, err := r.handler(ctx, string(d.Body))
	if err != nil {
		r.obs.LogError("handler_failed", err, ports.Field{Key: "correlation_id", Value: d.CorrelationId})
		return
	}
	err = r.ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "text/plain",
		CorrelationId: d.CorrelationId,
		Body:          []byte(body),
	})
	if err != nil {
		r.obs.LogError("reply_publish_failed", err, ports.Field{Key: "reply_to", Value: d.ReplyTo})
	}
}

// AckHandler confirms a relay payload with "ACK:" and the first field after
// the tag, e.g. "data,100041,20170802,153000" -> "ACK:100041".
func AckHandler(_ context.Context, body string) (string, error) {
	fields := strings.SplitN(body, ",", 3)
	if len(fields) < 2 {
		return "ACK:" + body, nil
	}
	return "ACK:" + fields[1], nil
}
