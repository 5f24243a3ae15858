// ABOUTME: Tests for the cache registry.
// ABOUTME: Verifies caches are shared per URL and closed together.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOpen(t *testing.T) {
	registry := NewRegistry("vulnlens", time.Minute, testLogger())
	defer registry.Close()

	memory, err := registry.Open("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, memory)

	same, err := registry.Open(MemoryURL)
	require.NoError(t, err)
	assert.Same(t, memory, same)

	server := miniredis.RunT(t)
	redisCache, err := registry.Open("redis://" + server.Addr())
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, redisCache)

	require.NoError(t, redisCache.Set(context.Background(), KindProject, "k", "v"))
	assert.True(t, server.Exists("vulnlens:Project_k"))

	_, err = registry.Open("ftp://cache")
	assert.Error(t, err)
}

func TestRegistryClose(t *testing.T) {
	registry := NewRegistry("vulnlens", time.Minute, testLogger())

	first, err := registry.Open(MemoryURL)
	require.NoError(t, err)
	require.NoError(t, registry.Close())

	second, err := registry.Open(MemoryURL)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	require.NoError(t, registry.Close())
}
