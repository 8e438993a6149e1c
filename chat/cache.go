package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentCacheTTL     = 30 * time.Second
	recentCacheTimeout = 300 * time.Millisecond
)

// recentCache 缓存线程的近期消息，供构造提示词时使用。
type recentCache struct {
	client *redis.Client
}

func newRecentCache(client *redis.Client) *recentCache {
	if client == nil {
		return nil
	}
	return &recentCache{client: client}
}

func (c *recentCache) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= recentCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, recentCacheTimeout)
}

func recentKey(threadID string) string {
	return "chat:recent:" + threadID
}

// get 读取缓存；未命中时返回 redis.Nil。
func (c *recentCache) get(ctx context.Context, threadID string) ([]Message, error) {
	if c == nil {
		return nil, redis.Nil
	}
	ctx, cancel := c.context(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, recentKey(threadID)).Bytes()
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *recentCache) store(ctx context.Context, threadID string, messages []Message) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		log.Printf("chat: marshal recent messages failed: %v", err)
		return
	}
	ctx, cancel := c.context(ctx)
	defer cancel()

	if err := c.client.Set(ctx, recentKey(threadID), payload, recentCacheTTL).Err(); err != nil {
		log.Printf("chat: store recent messages failed: %v", err)
	}
}

func (c *recentCache) invalidate(ctx context.Context, threadID string) {
	if c == nil {
		return
	}
	ctx, cancel := c.context(ctx)
	defer cancel()

	if err := c.client.Del(ctx, recentKey(threadID)).Err(); err != nil {
		log.Printf("chat: invalidate recent messages failed: %v", err)
	}
}
