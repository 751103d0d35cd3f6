package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// DeliveryMessage carries the id of a queued outbound Delivery row.
type DeliveryMessage struct {
	DeliveryID string `json:"delivery_id"`
}

// Publisher enqueues delivery ids. Safe for concurrent use: the scheduler
// sends from several goroutines and an amqp channel is not.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu sync.Mutex
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := open(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return closeBoth(p.conn, p.ch)
}

// PublishDelivery enqueues a persistent message whose MessageId is the
// delivery id, so redeliveries are traceable end to end.
func (p *Publisher) PublishDelivery(ctx context.Context, deliveryID string) error {
	body, err := json.Marshal(DeliveryMessage{DeliveryID: deliveryID})
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    deliveryID,
		Type:         "delivery",
		Timestamp:    time.Now(),
		Body:         body,
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx, "", p.queue, false, false, msg)
}
