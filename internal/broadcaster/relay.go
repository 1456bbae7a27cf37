package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goevery/notifier/internal/notification"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans notifications out across processes. Publish sends them to
// a shared Redis channel; Run re-broadcasts everything received on that
// channel to the local registry, including what this process published.
type RedisRelay struct {
	logger  *zap.Logger
	client  *redis.Client
	channel string
	local   Registry
}

func NewRedisRelay(
	logger *zap.Logger,
	client *redis.Client,
	channel string,
	local Registry,
) *RedisRelay {
	return &RedisRelay{
		logger,
		client,
		channel,
		local,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, draft notification.Draft) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	err = r.client.Publish(ctx, r.channel, payload).Err()
	if err != nil {
		return fmt.Errorf("publishing to redis channel %s: %w", r.channel, err)
	}

	return nil
}

// Subscribe blocks until the subscription to the shared channel is
// confirmed, then relays messages in the background until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)

	_, err := pubsub.Receive(ctx)
	if err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribing to redis channel %s: %w", r.channel, err)
	}

	go r.run(ctx, pubsub)

	return nil
}

func (r *RedisRelay) run(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	r.logger.Info("relaying notifications from redis",
		zap.String("channel", r.channel))

	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}

			var draft notification.Draft
			err := json.Unmarshal([]byte(message.Payload), &draft)
			if err != nil {
				r.logger.Warn("dropping malformed relayed notification",
					zap.String("channel", message.Channel),
					zap.Error(err))
				continue
			}

			err = r.local.Broadcast(draft)
			if err != nil {
				r.logger.Error("failed to broadcast relayed notification", zap.Error(err))
			}
		}
	}
}
