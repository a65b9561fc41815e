package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/mimasaka/pkg/cache"
	"github.com/ngoyal88/mimasaka/pkg/config"
	"github.com/ngoyal88/mimasaka/pkg/storage"
)

func TestOpenStore(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		store, err := openStore(config.StorageConfig{Backend: config.BackendMemory}, nil)
		require.NoError(t, err)
		assert.IsType(t, &storage.MemoryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		store, err := openStore(config.StorageConfig{Backend: config.BackendRedis}, cache.Wrap(rdb))
		require.NoError(t, err)
		assert.IsType(t, &storage.RedisStore{}, store)
		assert.NoError(t, store.Ping(t.Context()))
	})

	t.Run("redis_without_client", func(t *testing.T) {
		_, err := openStore(config.StorageConfig{Backend: config.BackendRedis}, nil)
		assert.Error(t, err)
	})
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "text", level))
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown k=v")

	buf.Reset()
	logger = slog.New(newHandler(&buf, "json", level))
	logger.Warn("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
