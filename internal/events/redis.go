package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "GrinderAI-Chain/internal/errors"
)

// RedisConfig 描述 Redis list 发布器的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	// MaxLen 大于 0 时在每次发布后裁剪列表，只保留最新的 MaxLen 条。
	MaxLen int64
}

type redisCommands interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// RedisPublisher 通过 LPUSH 将事件写入 Redis 列表，消费方可使用 BRPOP 顺序读取。
type RedisPublisher struct {
	client redisCommands
	key    string
	maxLen int64
}

// NewRedisPublisher 创建 Redis 发布器并检查连接。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client redisCommands, cfg RedisConfig) *RedisPublisher {
	key := cfg.Key
	if key == "" {
		key = "grinder:events"
	}
	return &RedisPublisher{client: client, key: key, maxLen: cfg.MaxLen}
}

// Publish 将事件投递到 Redis。
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := encode(evt)
	if err != nil {
		return err
	}
	if err := p.client.LPush(ctx, p.key, body).Err(); err != nil {
		return xerrors.Wrap(CodePublishFailed, err, "Redis 发布事件失败",
			xerrors.WithMetadata("event_id", evt.ID), xerrors.WithMetadata("key", p.key))
	}
	if p.maxLen > 0 {
		if err := p.client.LTrim(ctx, p.key, 0, p.maxLen-1).Err(); err != nil {
			return xerrors.Wrap(CodePublishFailed, err, "Redis 裁剪事件列表失败",
				xerrors.WithMetadata("key", p.key))
		}
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
