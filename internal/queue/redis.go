package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canopy-ai/canopy/internal/model"
)

const defaultRedisKey = "canopy:check_jobs"

// Redis is a Queue backed by a Redis list. Jobs are pushed with LPUSH
// and popped with BRPOP so multiple workers share one queue.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis queue from a redis:// URL and verifies
// connectivity.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("queue: ping redis: %w", err)
	}
	return &Redis{client: client, key: defaultRedisKey}, nil
}

func (q *Redis) Enqueue(ctx context.Context, job model.CheckJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: push job: %w", err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (model.CheckJob, error) {
	for {
		// A finite BRPOP timeout keeps the loop responsive to context
		// cancellation between polls.
		res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return model.CheckJob{}, ctx.Err()
				default:
					continue
				}
			}
			if ctx.Err() != nil {
				return model.CheckJob{}, ctx.Err()
			}
			return model.CheckJob{}, fmt.Errorf("queue: pop job: %w", err)
		}
		// res is [key, payload].
		var job model.CheckJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return model.CheckJob{}, fmt.Errorf("queue: decode job: %w", err)
		}
		return job, nil
	}
}

// Len reports the number of pending jobs.
func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: list length: %w", err)
	}
	return int(n), nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}

var _ Queue = (*Redis)(nil)
