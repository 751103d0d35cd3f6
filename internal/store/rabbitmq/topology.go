package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Outbound deliveries flow main -> (nack) -> dlq, and retry -> (ttl) -> main.
// Publisher and consumer declare the same set, so the arguments must match.

func RetryQueue(queue string) string { return queue + ".retry" }
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

type queueSpec struct {
	name       string
	deadLetter string
}

func (q queueSpec) args() amqp.Table {
	if q.deadLetter == "" {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.deadLetter,
	}
}

// topology lists queues in declaration order; dead-letter targets come first.
func topology(queue string) []queueSpec {
	return []queueSpec{
		{name: DeadLetterQueue(queue)},
		{name: RetryQueue(queue), deadLetter: queue},
		{name: queue, deadLetter: DeadLetterQueue(queue)},
	}
}

// DeclareTopology declares every durable queue backing queue.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	for _, q := range topology(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args()); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

// open dials url and returns a channel with the topology for queue declared.
func open(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func closeBoth(conn *amqp.Connection, ch *amqp.Channel) error {
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
