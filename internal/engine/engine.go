// ABOUTME: Periodic vulnerability collector built on the artifact aggregator.
// ABOUTME: Keeps the latest snapshot in memory and in the cache for the API and metrics.

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfeddern/VulnLens/internal/cache"
	"github.com/jfeddern/VulnLens/internal/providers"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

// CollectorConfig selects what the engine collects and how often.
type CollectorConfig struct {
	ScrapeInterval time.Duration
	// ClusterFilter keeps only artifacts running in the cluster.
	ClusterFilter bool
	Projects      []string
	Tags          []string
}

// Engine periodically collects the latest scanned artifact of every
// repository.
type Engine struct {
	aggregator *Aggregator
	discoverer providers.ImageDiscoverer
	cache      cache.Cache
	config     CollectorConfig
	logger     *logrus.Logger

	// Current snapshot with metadata
	mutex              sync.RWMutex
	artifacts          []types.ArtifactInfo
	lastCollectionTime time.Time
}

// NewEngine creates a collector. discoverer is only consulted when
// ClusterFilter is set; store may be nil.
func NewEngine(aggregator *Aggregator, discoverer providers.ImageDiscoverer, store cache.Cache, config CollectorConfig, logger *logrus.Logger) *Engine {
	return &Engine{
		aggregator: aggregator,
		discoverer: discoverer,
		cache:      store,
		config:     config,
		logger:     logger,
	}
}

// Start loads a cached snapshot, collects once and then collects on every
// scrape interval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	logger := e.logger.WithField("component", "vulnerability_engine")

	e.warm(ctx)

	// Perform initial collection
	if err := e.Collect(ctx); err != nil {
		logger.WithError(err).Error("Initial vulnerability collection failed")
	}

	ticker := time.NewTicker(e.config.ScrapeInterval)
	defer ticker.Stop()

	logger.WithField("interval", e.config.ScrapeInterval).Info("Starting periodic vulnerability collection")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Vulnerability engine stopping")
			return
		case <-ticker.C:
			if err := e.Collect(ctx); err != nil {
				logger.WithError(err).Error("Vulnerability collection failed")
			}
		}
	}
}

func (e *Engine) warm(ctx context.Context) {
	if e.cache == nil {
		return
	}

	var cached []types.ArtifactInfo
	found, err := e.cache.Get(ctx, cache.KindArtifactInfo, cache.AllKey, &cached)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to load cached snapshot")
		return
	}
	if !found {
		return
	}

	e.mutex.Lock()
	e.artifacts = cached
	e.mutex.Unlock()

	e.logger.WithField("artifacts", len(cached)).Info("Loaded cached snapshot")
}

// Collect fetches reports, keeps the latest artifact per repository and
// replaces the snapshot. Failed fetches are skipped.
func (e *Engine) Collect(ctx context.Context) (err error) {
	logger := e.logger.WithField("operation", "collect_vulnerabilities")
	startTime := time.Now()
	defer func() { e.aggregator.recorder.Collection(err) }()

	logger.Info("Starting vulnerability data collection")

	opts := e.aggregator.Config().ReportOptions(e.config.Projects, e.config.Tags, true)
	infos, err := e.aggregator.GetVulnerabilityReports(ctx, opts)
	if err != nil {
		return err
	}
	collected := len(infos)
	infos = FilterLatest(infos, nil)

	if e.config.ClusterFilter && e.discoverer != nil {
		images, err := e.discoverer.DiscoverImages(ctx)
		if err != nil {
			return fmt.Errorf("discovering images: %w", err)
		}
		logger.WithField("image_count", len(images)).Info("Discovered images")
		infos = FilterDeployed(infos, images)
	}

	e.mutex.Lock()
	e.artifacts = infos
	e.lastCollectionTime = time.Now()
	e.mutex.Unlock()

	if e.cache != nil {
		if err := e.cache.Set(ctx, cache.KindArtifactInfo, cache.AllKey, infos); err != nil {
			logger.WithError(err).Warn("Failed to cache snapshot")
		}
	}

	logger.WithFields(logrus.Fields{
		"duration":            time.Since(startTime),
		"artifacts_collected": collected,
		"artifacts_latest":    len(infos),
	}).Info("Vulnerability data collection completed")

	return nil
}

// Snapshot returns a copy of the current artifacts and the time they were
// collected.
func (e *Engine) Snapshot() ([]types.ArtifactInfo, time.Time) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	// Return a copy to prevent race conditions
	artifacts := make([]types.ArtifactInfo, len(e.artifacts))
	copy(artifacts, e.artifacts)

	return artifacts, e.lastCollectionTime
}
