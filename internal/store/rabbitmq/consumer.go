package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptHeader = "x-attempt"

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewConsumer dials, declares the shared topology and limits unacked
// deliveries to prefetch.
func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	conn, ch, err := open(url, queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = closeBoth(conn, ch)
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error { return closeBoth(c.conn, c.ch) }

// Attempt returns how many times the delivery has already been retried.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Retry parks a copy of d on the retry queue for delay and acks the
// original. Once maxAttempts is reached the message is nacked to the DLQ.
func (c *Consumer) Retry(ctx context.Context, d amqp.Delivery, delay time.Duration, maxAttempts int) error {
	attempt := Attempt(d)
	if attempt+1 >= maxAttempts {
		return d.Nack(false, false)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.ch.PublishWithContext(cctx, "", RetryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptHeader: int32(attempt + 1)},
	}); err != nil {
		return d.Nack(false, false)
	}
	return d.Ack(false)
}
