package di

import (
	"context"
	"testing"
	"time"

	"forumsearch/application/ports"
	"forumsearch/infrastructure/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProvideStore_Memory(t *testing.T) {
	cfg := config.Default()

	store, cleanup, err := ProvideStore(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestProvideStore_MemoryReportsEntryCount(t *testing.T) {
	cfg := config.Default()
	collector := ProvideCollector(cfg)

	store, cleanup, err := ProvideStore(context.Background(), cfg, collector, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	var entries float64
	found := false
	for _, mf := range families {
		if mf.GetName() == "forumsearch_store_entries" {
			entries = mf.GetMetric()[0].GetGauge().GetValue()
			found = true
		}
	}
	require.True(t, found, "store_entries gauge registered")
	assert.Equal(t, float64(2), entries)
}

func TestProvideStore_RedisSharesKeyspaceUnderPrefix(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Store.KeyPrefix = "fs:"

	store, cleanup, err := ProvideStore(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "search:abc", []byte("payload"), time.Minute))

	raw, err := mr.Get("fs:search:abc")
	require.NoError(t, err)
	assert.Equal(t, "payload", raw)

	counter, ok := store.(ports.Counter)
	require.True(t, ok, "prefixed redis store keeps atomic counters")
	n, err := counter.Incr(ctx, "hits", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProvideStore_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "etcd"

	_, _, err := ProvideStore(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestProvideJWTValidator_DisabledWithoutSecret(t *testing.T) {
	cfg := config.Default()

	v, err := ProvideJWTValidator(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.JWTSecret = "secret"
	v, err = ProvideJWTValidator(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestProvideCollector(t *testing.T) {
	cfg := config.Default()
	assert.NotNil(t, ProvideCollector(cfg))

	cfg.EnableMetrics = false
	assert.Nil(t, ProvideCollector(cfg))
}

func TestInitializeContainer(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"

	container, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, container.QueryBus)
	assert.NotNil(t, container.CommandBus)
	assert.NotNil(t, container.Router)
	assert.Nil(t, container.Validator)
}

func TestProvideLogger_RejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"

	_, err := ProvideLogger(cfg)
	assert.Error(t, err)
}
