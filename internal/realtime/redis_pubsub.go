package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	overlayChannel = "overlay:snapshots"
	publishTimeout = 5 * time.Second
)

// RedisRelay implements Relay on Redis pub/sub so overlay snapshots reach
// displays connected to any server process.
type RedisRelay struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRelay creates a Redis pub/sub relay for overlay snapshots.
func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger}
}

// Publish sends a snapshot to the overlay channel.
func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, overlayChannel, payload).Err()
}

// Subscribe listens on the overlay channel and calls handler for each
// snapshot. Returns a cancel function to stop the subscription.
func (r *RedisRelay) Subscribe(handler func(payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, overlayChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
