// ABOUTME: Tests for the periodic vulnerability collector.
// ABOUTME: Tests snapshot replacement, cluster filtering, caching and the collection loop.

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jfeddern/VulnLens/internal/cache"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscoverer struct {
	images []types.ImageInfo
	err    error
}

func (f *fakeDiscoverer) Name() string { return "fake" }

func (f *fakeDiscoverer) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	return f.images, f.err
}

func TestEngineCollect(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryCache("test", time.Hour, testLogger())
	defer store.Close()

	e := NewEngine(newTestAggregator(scenarioRegistry()), nil, store, CollectorConfig{ScrapeInterval: time.Hour}, testLogger())

	artifacts, collectedAt := e.Snapshot()
	assert.Empty(t, artifacts)
	assert.True(t, collectedAt.IsZero())

	require.NoError(t, e.Collect(ctx))

	artifacts, collectedAt = e.Snapshot()
	require.Len(t, artifacts, 1)
	assert.Equal(t, "p/img1:T2", artifacts[0].Name())
	assert.False(t, collectedAt.IsZero())

	var cached []types.ArtifactInfo
	found, err := store.Get(ctx, cache.KindArtifactInfo, cache.AllKey, &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p/img1:T2", cached[0].Name())

	// snapshot is a copy
	artifacts[0].Repository.Name = "changed"
	again, _ := e.Snapshot()
	assert.Equal(t, "p/img1", again[0].Repository.Name)
}

func TestEngineCollectClusterFilter(t *testing.T) {
	ctx := context.Background()
	client := scenarioRegistry()

	discoverer := &fakeDiscoverer{images: []types.ImageInfo{{URI: "harbor.example.com/p/img1:T1"}}}
	e := NewEngine(newTestAggregator(client), discoverer, nil, CollectorConfig{ClusterFilter: true}, testLogger())

	require.NoError(t, e.Collect(ctx))
	artifacts, _ := e.Snapshot()
	assert.Empty(t, artifacts, "only the superseded tag is deployed")

	discoverer.images = []types.ImageInfo{{URI: "harbor.example.com/p/img1:T2"}}
	require.NoError(t, e.Collect(ctx))
	artifacts, _ = e.Snapshot()
	assert.Len(t, artifacts, 1)

	discoverer.err = errors.New("cluster unreachable")
	assert.Error(t, e.Collect(ctx))
	artifacts, _ = e.Snapshot()
	assert.Len(t, artifacts, 1, "failed collection keeps the previous snapshot")
}

func TestEngineStartWarmsFromCache(t *testing.T) {
	store := cache.NewMemoryCache("test", time.Hour, testLogger())
	defer store.Close()

	cached := []types.ArtifactInfo{{Repository: repository("p/cached"), Artifact: artifact("v1", at(0), true)}}
	require.NoError(t, store.Set(context.Background(), cache.KindArtifactInfo, cache.AllKey, cached))

	client := newFakeRegistry()
	client.projectsErr = errors.New("registry down")
	e := NewEngine(newTestAggregator(client), nil, store, CollectorConfig{ScrapeInterval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		e.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after context cancellation")
	}

	artifacts, _ := e.Snapshot()
	require.Len(t, artifacts, 1)
	assert.Equal(t, "p/cached", artifacts[0].Repository.Name)
}
