package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
)

func exerciseLedger(t *testing.T, ledger Ledger) {
	ctx := context.Background()
	first := PendingDeletion{Handle: "h-1", Flow: "unit", SourcePath: "/in/a.pdf", LastError: "timeout", RecordedAt: time.Unix(100, 0)}
	second := PendingDeletion{Handle: "h-2", Flow: "unit", SourcePath: "/in/b.pdf", RecordedAt: time.Unix(200, 0)}

	require.NoError(t, ledger.Record(ctx, second))
	require.NoError(t, ledger.Record(ctx, first))

	list, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.Handle, list[0].Handle, "entries are ordered by record time")
	assert.Equal(t, "timeout", list[0].LastError)

	require.NoError(t, ledger.Remove(ctx, "h-1"))
	list, err = ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.Handle, list[0].Handle)
}

func TestInMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewInMemoryLedger())
}

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := newRedisLedger(client, "test:pending")
	t.Cleanup(func() { _ = ledger.Close() })

	exerciseLedger(t, ledger)
	assert.True(t, mr.Exists("test:pending"))
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ledger, err := Open(context.Background(), config.StoreConfig{Driver: "redis", Redis: config.RedisConfig{Addr: mr.Addr(), Key: "k"}})
	require.NoError(t, err)
	_, ok := ledger.(*RedisLedger)
	assert.True(t, ok)

	mem, err := Open(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	_, ok = mem.(*InMemoryLedger)
	assert.True(t, ok)
}
