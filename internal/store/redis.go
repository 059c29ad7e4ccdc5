package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// RedisLedger stores pending deletions in a Redis hash keyed by job handle.
type RedisLedger struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisLedger connects to Redis and verifies the connection.
func NewRedisLedger(ctx context.Context, cfg config.RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis is offline at %s: %w", cfg.Addr, err)
	}
	return newRedisLedger(client, cfg.Key), nil
}

func newRedisLedger(client *redis.Client, key string) *RedisLedger {
	return &RedisLedger{
		client: client,
		key:    key,
		logger: slog.With("component", "RedisLedger", "key", key),
	}
}

func (l *RedisLedger) Record(ctx context.Context, p PendingDeletion) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending deletion: %w", err)
	}
	if err := l.client.HSet(ctx, l.key, string(p.Handle), data).Err(); err != nil {
		return fmt.Errorf("record pending deletion %s: %w", p.Handle, err)
	}
	l.logger.Debug("Recorded pending deletion.", "handle", p.Handle)
	return nil
}

func (l *RedisLedger) List(ctx context.Context) ([]PendingDeletion, error) {
	values, err := l.client.HGetAll(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending deletions: %w", err)
	}
	out := make([]PendingDeletion, 0, len(values))
	for handle, raw := range values {
		var p PendingDeletion
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			l.logger.Warn("Skipping unreadable ledger entry.", "handle", handle, "error", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (l *RedisLedger) Remove(ctx context.Context, handle models.JobHandle) error {
	if err := l.client.HDel(ctx, l.key, string(handle)).Err(); err != nil {
		return fmt.Errorf("remove pending deletion %s: %w", handle, err)
	}
	return nil
}

// Close releases the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// Open returns the ledger selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Ledger, error) {
	if cfg.Driver == "redis" {
		return NewRedisLedger(ctx, cfg.Redis)
	}
	return NewInMemoryLedger(), nil
}
