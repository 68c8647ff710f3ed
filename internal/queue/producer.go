package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

type Producer interface {
	Enqueue(ctx context.Context, trigger model.RunTrigger) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{client: client, stream: stream}
}

func (p *redisProducer) Enqueue(ctx context.Context, trigger model.RunTrigger) error {
	fields := map[string]any{
		"trigger":      string(trigger),
		"requested_at": time.Now().UnixMilli(),
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue trigger: %w", err)
	}

	slog.InfoContext(ctx, "enqueued sync trigger", "trigger", trigger, "stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
