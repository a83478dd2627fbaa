package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPQueue publishes to and consumes from durable RabbitMQ queues named
// after the topic.
type AMQPQueue struct {
	conn *amqp.Connection

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool

	// base is handed to every delivery and cancelled by Shutdown.
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	stopping bool

	Log zerolog.Logger
}

func DialAMQP(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	base, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{conn: conn, pub: ch, declared: map[string]bool{}, base: base, cancel: cancel, Log: log}, nil
}

func declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.declared[topic] {
		if _, err := declare(q.pub, topic); err != nil {
			return fmt.Errorf("declare queue %s: %w", topic, err)
		}
		q.declared[topic] = true
	}
	err := q.pub.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic on a dedicated channel, one delivery at a time.
// A failed delivery is requeued once; a second failure drops it.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if _, err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for d := range msgs {
			if !q.begin() {
				// Shutting down: leave it for the next consumer.
				d.Nack(false, true)
				continue
			}
			q.handle(topic, d, handler)
		}
		q.Log.Info().Str("topic", topic).Msg("consumer stopped")
	}()
	return nil
}

// begin registers a delivery unless Shutdown has started.
func (q *AMQPQueue) begin() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return false
	}
	q.inflight.Add(1)
	return true
}

// handle runs one delivery and settles it before it counts as finished.
func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler Handler) {
	defer q.inflight.Done()

	err := handler(q.base, d.Body)
	switch {
	case err == nil:
		d.Ack(false)
	case q.base.Err() != nil:
		q.Log.Warn().Err(err).Str("topic", topic).Msg("delivery interrupted by shutdown, requeueing")
		d.Nack(false, true)
	case !d.Redelivered:
		q.Log.Warn().Err(err).Str("topic", topic).Msg("delivery failed, requeueing")
		d.Nack(false, true)
	default:
		q.Log.Error().Err(err).Str("topic", topic).Msg("redelivery failed, dropping")
		d.Nack(false, false)
	}
}

// Shutdown cancels the context of the running delivery and waits for it
// until ctx is done. The connection stays open so its continuation can still
// be published; call Close afterwards.
func (q *AMQPQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.stopping = true
	q.mu.Unlock()

	q.cancel()
	return waitGroup(ctx, &q.inflight)
}

// NotifyClose reports connection loss.
func (q *AMQPQueue) NotifyClose() <-chan *amqp.Error {
	return q.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.pub.Close()
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
