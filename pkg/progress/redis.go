package progress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// DefaultRedisChannel は進捗イベントを中継する pub/sub チャネル名です。
const DefaultRedisChannel = "psygrid:progress"

// NewRedisClient は URL から Redis クライアントを作り、疎通を確認します。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisBroker は複数インスタンス間で進捗イベントを共有します。
// Publish は Redis に送るだけで、Run が受信したメッセージをローカルの Hub に流します。
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   *Hub
	logger  *slog.Logger
}

func NewRedisBroker(client *redis.Client, channel string, local *Hub, logger *slog.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if local == nil {
		return nil, fmt.Errorf("local hub is required")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, channel: channel, local: local, logger: logger}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, key string, ev domain.ProgressEvent) error {
	payload, err := encodeRelay(key, ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run は ctx が終わるまでチャネルを購読し続けます。
// ready が nil でなければ購読の確立後に閉じます。
func (b *RedisBroker) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.InfoContext(ctx, "progress relay subscribed", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, ev, err := decodeRelay([]byte(msg.Payload))
			if err != nil {
				b.logger.WarnContext(ctx, "drop malformed relay message", "error", err)
				continue
			}
			_ = b.local.Publish(ctx, key, ev)
		}
	}
}
