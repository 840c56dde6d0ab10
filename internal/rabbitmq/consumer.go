package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type Consumer struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	log   *logrus.Entry
}

// NewConsumer declares a durable queue bound to keys on exchange.
func NewConsumer(url, exchange, queue string, keys []string, log *logrus.Entry) (*Consumer, error) {
	conn, ch, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	return &Consumer{conn: conn, ch: ch, queue: q.Name, log: log}, nil
}

// Consume delivers booking events to handler until ctx is done. Malformed
// messages are dropped, failed ones are requeued.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, domain.BookingEvent) error) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, d, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handler func(context.Context, domain.BookingEvent) error) {
	log := c.log.WithFields(logrus.Fields{"routing_key": d.RoutingKey, "message_id": d.MessageId})

	var event domain.BookingEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.WithError(err).Warn("dropping malformed booking event")
		_ = d.Nack(false, false)
		return
	}
	if err := handler(ctx, event); err != nil {
		log.WithError(err).Warn("booking event handler failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
