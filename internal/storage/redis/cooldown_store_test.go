package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *CooldownStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewWithClient(client, "test:")
}

func TestCooldownRoundTrip(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

	_, ok, err := store.LastRun(ctx, "fda")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.MarkRun(ctx, "fda", at))
	require.NoError(t, store.MarkRun(ctx, "usda", at.Add(time.Minute)))
	require.Equal(t, at.Format(time.RFC3339Nano), mr.HGet("test:cooldowns", "fda"))

	got, ok, err := store.LastRun(ctx, "fda")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at, got)

	require.NoError(t, store.Reset(ctx, "fda"))
	_, ok, err = store.LastRun(ctx, "fda")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Reset(ctx))
	require.False(t, mr.Exists("test:cooldowns"))
}

func TestCorruptValue(t *testing.T) {
	mr, store := setup(t)
	mr.HSet("test:cooldowns", "fda", "yesterday")
	_, _, err := store.LastRun(context.Background(), "fda")
	require.Error(t, err)
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewPings(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Config{Addr: mr.Addr(), Prefix: "x:"})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
