package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisFeedPrefix = "docfeed:"

// RedisFeed carries change batches over Redis pub/sub, one channel per
// collection. It implements both Publisher and Feed.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed builds a Redis-backed change feed.
func NewRedisFeed(addr, password string) *RedisFeed {
	return &RedisFeed{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Publish encodes the batch as JSON and publishes it on the
// collection's channel.
func (f *RedisFeed) Publish(ctx context.Context, col string, batch Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := f.client.Publish(ctx, redisFeedPrefix+col, payload).Err(); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

// Subscribe listens on the collection's channel until stop or context
// cancellation. Undecodable payloads are skipped.
func (f *RedisFeed) Subscribe(ctx context.Context, col string) (<-chan Batch, func(), error) {
	sub := f.client.Subscribe(ctx, redisFeedPrefix+col)
	// Force the subscription to be established before returning so a
	// publish immediately after Subscribe is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", col, err)
	}

	out := make(chan Batch, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var batch Batch
				if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
					continue
				}
				select {
				case out <- batch:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			_ = sub.Close()
			close(done)
		})
	}
	return out, stop, nil
}

// Close releases the underlying client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
