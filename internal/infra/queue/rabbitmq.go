package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"wrapped-fhe-service/internal/domain"
)

// RabbitRevealQueue реализует очередь заявок на раскрытие через AMQP.
type RabbitRevealQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitRevealQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitRevealQueue(amqpURL, queue string) (*RabbitRevealQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitRevealQueue{conn: conn, channel: ch, queue: queue}, nil
}

var _ domain.RevealQueue = (*RabbitRevealQueue)(nil)

// Enqueue публикует задачу в очередь.
func (q *RabbitRevealQueue) Enqueue(ctx context.Context, job domain.RevealJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

// Receive блокирующе читает задачу из очереди. Ack(false) возвращает задачу
// брокеру для повторной доставки.
func (q *RabbitRevealQueue) Receive(ctx context.Context) (domain.RevealJob, domain.RevealAckFunc, error) {
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.RevealJob{}, nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}
	select {
	case <-ctx.Done():
		return domain.RevealJob{}, nil, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			return domain.RevealJob{}, nil, errors.New("amqp queue: channel closed")
		}
		var job domain.RevealJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			_ = delivery.Nack(false, false)
			return domain.RevealJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return delivery.Ack(false)
			}
			return delivery.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close освобождает канал и соединение.
func (q *RabbitRevealQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
