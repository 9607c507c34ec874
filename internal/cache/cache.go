// Package cache is the Redis-backed staleness and fan-out layer. Poll views
// are cached as serialized JSON keyed by poll id and dropped whenever a poll
// mutates; response events go out over pub/sub so every server instance can
// feed its websocket clients. All operations are best-effort: a Redis
// failure is logged and never blocks the request that triggered it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	viewTTL      = 6 * time.Hour
	eventChannel = "events:poll:responses"
)

type Cache struct {
	client *redis.Client
}

// New connects to Redis at the given URI.
func New(uri string) (*Cache, error) {
	options, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_uri: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Cache{client: client}, nil
}

func viewKey(pollID string) string {
	return fmt.Sprintf("cached:polls:%s", pollID)
}

// GetView returns the cached serialized view of a poll, if present.
func (c *Cache) GetView(ctx context.Context, pollID string) ([]byte, bool) {
	b, err := c.client.Get(ctx, viewKey(pollID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Errorf("redis get, err=%v", err)
		return nil, false
	}
	return b, true
}

// SetView stores the serialized view of a poll.
func (c *Cache) SetView(ctx context.Context, pollID string, view []byte) {
	if err := c.client.Set(ctx, viewKey(pollID), view, viewTTL).Err(); err != nil {
		log.Errorf("redis set, err=%v", err)
	}
}

// Invalidate drops the cached view for a poll.
func (c *Cache) Invalidate(ctx context.Context, pollID string) {
	if err := c.client.Del(ctx, viewKey(pollID)).Err(); err != nil {
		log.Errorf("redis del, err=%v", err)
	}
}

// Publish broadcasts a response event to all subscribed instances.
func (c *Cache) Publish(ctx context.Context, pollID string, event []byte) {
	if err := c.client.Publish(ctx, eventChannel, event).Err(); err != nil {
		log.Errorf("redis publish, err=%v", err)
	}
}

// MarkAnonymousVoter records a hashed IP against a poll and reports whether
// this is its first ballot. Backed by a Redis set, so the add is atomic.
func (c *Cache) MarkAnonymousVoter(ctx context.Context, pollID, ipHash string) (bool, error) {
	added, err := c.client.SAdd(ctx, fmt.Sprintf("poll:votes:%s:ips", pollID), ipHash).Result()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

// Subscribe returns a channel of raw response events for the ws hub bridge.
// The channel closes when ctx is cancelled.
func (c *Cache) Subscribe(ctx context.Context) <-chan []byte {
	sub := c.client.Subscribe(ctx, eventChannel)
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()
	return out
}
