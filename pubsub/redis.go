package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBackend replicates topics across server nodes via Redis PUBLISH /
// SUBSCRIBE. Grounded on the redis/go-redis/v9 client construction and
// channel-subscription idiom used across the retrieval pack's service
// backends.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing *redis.Client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Publish(ctx context.Context, topic string, data []byte) error {
	return r.client.Publish(ctx, topic, data).Err()
}

func (r *RedisBackend) Subscribe(ctx context.Context, topic string, handler func(data []byte)) (Unsubscribe, error) {
	sub := r.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return sub.Close()
	}, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
