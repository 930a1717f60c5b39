// Package queue carries job IDs between the gateway and the worker pool over
// RabbitMQ. Messages are hints only: the database claim is the ownership
// truth, so a lost or duplicated delivery is harmless.
package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"restyle/internal/infra"
)

const (
	exchangeName = "jobs.exchange"
	queueName    = "jobs.queue.generate"
	routingKey   = "jobs.generate"
)

// Delivery is one job notification plus its ack handle.
type Delivery struct {
	JobID string
	msg   amqp.Delivery
}

// Ack marks the message as handled. Called even when the claim was lost to a
// racing worker, otherwise the message would redeliver forever.
func (d Delivery) Ack() error {
	if d.msg.Acknowledger == nil {
		return nil
	}
	return d.msg.Ack(false)
}

// JobQueue is the AMQP transport for job IDs.
type JobQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  infra.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Connect dials the broker and declares the durable topology.
func Connect(url string, logger infra.Logger) (*JobQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchangeName, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: bind: %w", err)
	}
	return &JobQueue{conn: conn, channel: ch, logger: logger, done: make(chan struct{})}, nil
}

// Publish enqueues a job ID.
func (q *JobQueue) Publish(ctx context.Context, jobID string) error {
	err := q.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(jobID),
	})
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Consume returns a channel of deliveries. prefetch bounds unacked messages
// per worker process.
func (q *JobQueue) Consume(prefetch int) (<-chan Delivery, error) {
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("queue: qos: %w", err)
	}
	msgs, err := q.channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: consume: %w", err)
	}
	out := make(chan Delivery)
	go relay(msgs, out, q.done)
	return out, nil
}

// relay forwards broker messages until the source closes or the queue shuts
// down. The pool stops reading at shutdown; the done signal keeps the relay
// from blocking forever on a dead channel.
func relay(msgs <-chan amqp.Delivery, out chan<- Delivery, done <-chan struct{}) {
	defer close(out)
	for msg := range msgs {
		select {
		case out <- Delivery{JobID: string(msg.Body), msg: msg}:
		case <-done:
			return
		}
	}
}

// Close tears down the channel and connection and releases the consumer
// relay. Safe to call more than once.
func (q *JobQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		if cerr := q.channel.Close(); cerr != nil {
			q.logger.Warn().Err(cerr).Msg("queue: channel close")
		}
		err = q.conn.Close()
	})
	return err
}
