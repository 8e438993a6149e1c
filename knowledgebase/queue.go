package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue hands item ids from the API to the ingestion workers.
type Queue interface {
	Push(ctx context.Context, itemID uint64) error
	// Pop blocks until an id is available or ctx is done.
	Pop(ctx context.Context) (uint64, error)
}

// RedisQueue is a list-backed queue shared by every API replica.
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "knowledge:ingest"
	}
	return &RedisQueue{client: client, key: key, wait: 5 * time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, itemID uint64) error {
	if err := q.client.RPush(ctx, q.key, itemID).Err(); err != nil {
		return fmt.Errorf("knowledgebase: enqueue %d: %w", itemID, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (uint64, error) {
	for {
		result, err := q.client.BLPop(ctx, q.wait, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("knowledgebase: dequeue: %w", err)
		}
		if len(result) != 2 {
			continue
		}
		id, err := strconv.ParseUint(result[1], 10, 64)
		if err != nil || id == 0 {
			continue
		}
		return id, nil
	}
}

// ChannelQueue keeps ids in process memory.
type ChannelQueue struct {
	ch chan uint64
}

func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 1024
	}
	return &ChannelQueue{ch: make(chan uint64, size)}
}

func (q *ChannelQueue) Push(ctx context.Context, itemID uint64) error {
	select {
	case q.ch <- itemID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Pop(ctx context.Context) (uint64, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Len reports the number of queued ids.
func (q *ChannelQueue) Len() int {
	return len(q.ch)
}
