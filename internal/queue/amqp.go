package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPOptions configure the broker-backed queue.
type AMQPOptions struct {
	URL        string
	Exchange   string
	QueueName  string
	RoutingKey string
	Logger     *slog.Logger
}

// AMQPQueue is a Queue over a RabbitMQ topic exchange with a durable queue.
// Prefetch equals the consumer concurrency, so at most that many jobs are
// in flight per process.
type AMQPQueue struct {
	conn       *amqp091.Connection
	ch         *amqp091.Channel
	exchange   string
	queueName  string
	routingKey string
	logger     *slog.Logger
	wg         sync.WaitGroup
	once       sync.Once
}

// NewAMQPQueue dials the broker and declares the exchange.
func NewAMQPQueue(opts AMQPOptions) (*AMQPQueue, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPQueue{
		conn:       conn,
		ch:         ch,
		exchange:   opts.Exchange,
		queueName:  opts.QueueName,
		routingKey: opts.RoutingKey,
		logger:     logger.With("component", "queue"),
	}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.ch.PublishWithContext(ctx, q.exchange, q.routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    job.MessageID,
		Body:         body,
	})
}

// StartConsumer declares and binds the durable queue, sets Qos to the pool
// size, and launches the workers. Handler failure nacks with requeue;
// undecodable payloads are dropped.
func (q *AMQPQueue) StartConsumer(ctx context.Context, handler Handler, opts Options) error {
	var startErr error
	q.once.Do(func() {
		concurrency := opts.concurrency()
		if err := q.ch.Qos(concurrency, 0, false); err != nil {
			startErr = fmt.Errorf("set qos: %w", err)
			return
		}
		declared, err := q.ch.QueueDeclare(q.queueName, true, false, false, false, nil)
		if err != nil {
			startErr = fmt.Errorf("declare queue: %w", err)
			return
		}
		if err := q.ch.QueueBind(declared.Name, q.routingKey, q.exchange, false, nil); err != nil {
			startErr = fmt.Errorf("bind queue: %w", err)
			return
		}
		deliveries, err := q.ch.Consume(declared.Name, "", false, false, false, false, nil)
		if err != nil {
			startErr = fmt.Errorf("consume: %w", err)
			return
		}

		for i := 0; i < concurrency; i++ {
			q.wg.Add(1)
			go q.worker(ctx, deliveries, handler)
		}
		q.logger.Info("consumer started", "queue", declared.Name, "concurrency", concurrency)
	})
	return startErr
}

func (q *AMQPQueue) worker(ctx context.Context, deliveries <-chan amqp091.Delivery, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			var job Job
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				q.logger.Error("undecodable job dropped", "message_id", msg.MessageId, "error", err)
				_ = msg.Nack(false, false)
				continue
			}
			if err := handler(ctx, &job); err != nil {
				q.logger.Error("job failed, requeueing",
					"kind", string(job.Kind),
					"message_id", job.MessageID,
					"error", err)
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (q *AMQPQueue) Close() error {
	_ = q.ch.Close()
	err := q.conn.Close()
	q.wg.Wait()
	return err
}
