package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wrapped-fhe-service/internal/domain"
)

// RedisRevealQueue реализует очередь заявок на раскрытие на базе Redis lists.
type RedisRevealQueue struct {
	client *redis.Client
	key    string
}

// NewRedisRevealQueue создаёт очередь по указанному ключу.
func NewRedisRevealQueue(client *redis.Client, key string) *RedisRevealQueue {
	return &RedisRevealQueue{client: client, key: key}
}

var _ domain.RevealQueue = (*RedisRevealQueue)(nil)

// Enqueue публикует задачу в очередь.
func (q *RedisRevealQueue) Enqueue(ctx context.Context, job domain.RevealJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Ack(false) возвращает задачу
// в хвост очереди для повторной доставки.
func (q *RedisRevealQueue) Receive(ctx context.Context) (domain.RevealJob, domain.RevealAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RevealJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RevealJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RevealJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.RevealJob{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := []byte(res[1])
		var job domain.RevealJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return domain.RevealJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, raw).Err()
		}
		return job, ack, nil
	}
}
