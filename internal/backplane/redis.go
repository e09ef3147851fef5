package backplane

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"codecollab/pkg/logger"
)

const channel = "collab.rooms"

// RedisBackplane bridges room broadcasts between processes over a single
// pub/sub channel. Every process publishes with its own origin id and
// drops its own messages on receive.
type RedisBackplane struct {
	rdb    *redis.Client
	origin string
}

func NewRedisBackplane(url string) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisBackplane{rdb: rdb, origin: uuid.NewString()}, nil
}

func (b *RedisBackplane) Publish(ctx context.Context, msg *Message) error {
	msg.Origin = b.origin
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal backplane message: %w", err)
	}
	return b.rdb.Publish(ctx, channel, data).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, fn func(*Message)) error {
	sub := b.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					logger.Error("Dropping malformed backplane message: %v", err)
					continue
				}
				if msg.Origin == b.origin {
					continue
				}
				fn(&msg)
			}
		}
	}()
	return nil
}

func (b *RedisBackplane) Close() error {
	return b.rdb.Close()
}
