package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "GrinderAI-Chain/internal/errors"
	"GrinderAI-Chain/internal/grind"
)

// DefaultCursorKey is used when Config.Key is empty.
const DefaultCursorKey = "grinder:cursor"

// Config describes the Redis connection used by the cursor store.
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// commands is the subset of the go-redis client the store relies on.
type commands interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// CursorStore keeps the cursor as a decimal string under a single key.
type CursorStore struct {
	client commands
	key    string
}

// NewCursorStore connects to Redis and verifies the connection with PING.
func NewCursorStore(ctx context.Context, cfg Config) (*CursorStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newCursorStore(client, cfg.Key), nil
}

func newCursorStore(client commands, key string) *CursorStore {
	if strings.TrimSpace(key) == "" {
		key = DefaultCursorKey
	}
	return &CursorStore{client: client, key: key}
}

// Key returns the Redis key holding the cursor.
func (s *CursorStore) Key() string {
	return s.key
}

// LoadCursor returns the stored cursor. A missing key reports found=false.
func (s *CursorStore) LoadCursor(ctx context.Context) (uint64, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load cursor",
			xerrors.WithMetadata("key", s.key))
	}
	cursor, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "malformed cursor value",
			xerrors.WithMetadata("key", s.key), xerrors.WithRetryable(false))
	}
	return cursor, true, nil
}

// SaveCursor overwrites the stored cursor without expiry.
func (s *CursorStore) SaveCursor(ctx context.Context, cursor uint64) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatUint(cursor, 10), 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save cursor",
			xerrors.WithMetadata("key", s.key))
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *CursorStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ grind.CursorStore = (*CursorStore)(nil)
