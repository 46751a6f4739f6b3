package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"dataspace.app/orchestrator/internal/model"
)

const PayloadField = "payload"

// Publisher fans endpoint data references out to the per-provider stream the
// receivers read from.
type Publisher interface {
	Publish(ctx context.Context, msg model.PullMessage) (string, error)
	Close() error
}

type redisPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
	logger *slog.Logger
}

func NewRedisPublisher(client *redis.Client, prefix string, maxLen int64, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisPublisher{
		client: client,
		prefix: prefix,
		maxLen: maxLen,
		logger: logger,
	}
}

// StreamKey names the redis stream carrying credentials for providerHost.
func StreamKey(prefix, providerHost string) string {
	return prefix + providerHost
}

func (p *redisPublisher) Publish(ctx context.Context, msg model.PullMessage) (string, error) {
	if msg.TransferProcessID == "" {
		return "", fmt.Errorf("publish credential: transfer_process_id is required")
	}
	if msg.ProviderHost == "" {
		return "", fmt.Errorf("publish credential: provider host is required")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("publish credential: encoding payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: StreamKey(p.prefix, msg.ProviderHost),
		Values: map[string]any{
			"transfer_process_id": msg.TransferProcessID,
			PayloadField:          string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish credential: %w", err)
	}

	p.logger.InfoContext(ctx, "published credential", "stream", args.Stream, "message_id", id, "transfer_id", msg.TransferProcessID)
	return id, nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
