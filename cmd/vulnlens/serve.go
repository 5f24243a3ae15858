// ABOUTME: Serve command running the periodic collector and the HTTP API.
// ABOUTME: Wires registry, cache, metrics and router together and shuts down on signals.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfeddern/VulnLens/internal/cache"
	"github.com/jfeddern/VulnLens/internal/config"
	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/metrics"
	"github.com/jfeddern/VulnLens/internal/providers"
	"github.com/jfeddern/VulnLens/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		port           int
		scrapeInterval time.Duration
		clusterFilter  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Collect vulnerability data periodically and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("port") {
				c.cfg.Port = port
			}
			if flags.Changed("scrape-interval") {
				c.cfg.ScrapeInterval = scrapeInterval
			}
			if flags.Changed("cluster-filter") {
				c.cfg.ClusterFilter = clusterFilter
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle shutdown gracefully
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					c.logger.Info("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			exporter, err := NewExporter(ctx, c)
			if err != nil {
				return fmt.Errorf("failed to create exporter: %w", err)
			}
			return exporter.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 9090, "Port to serve the API and metrics on (env PORT)")
	cmd.Flags().DurationVar(&scrapeInterval, "scrape-interval", 5*time.Minute, "Interval between collections (env SCRAPE_INTERVAL)")
	cmd.Flags().BoolVar(&clusterFilter, "cluster-filter", false, "Only collect artifacts running in the cluster (env CLUSTER_FILTER)")
	return cmd
}

// Exporter owns the long-running collector and HTTP server.
type Exporter struct {
	config config.Config
	logger *logrus.Logger

	engine *engine.Engine
	caches *cache.Registry
	server *http.Server
}

func NewExporter(ctx context.Context, c *cli) (*Exporter, error) {
	cfg := c.cfg
	logger := c.logger

	logger.WithFields(logrus.Fields{
		"registry":        cfg.Registry,
		"port":            cfg.Port,
		"scrape_interval": cfg.ScrapeInterval,
		"cluster_filter":  cfg.ClusterFilter,
	}).Info("Initializing VulnLens")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(promRegistry)

	aggregator, err := c.newAggregator(ctx, recorder)
	if err != nil {
		return nil, err
	}

	var discoverer providers.ImageDiscoverer
	if cfg.ClusterFilter {
		discoverer, err = providers.CreateImageDiscoverer(cfg.ProviderConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create image discoverer: %w", err)
		}
	}

	caches := cache.NewRegistry(cfg.CacheNamespace, cfg.CacheTTL, logger)
	store, err := caches.Open(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	vulnEngine := engine.NewEngine(aggregator, discoverer, store, cfg.CollectorConfig(), logger)

	api := server.New(
		aggregator,
		vulnEngine,
		store,
		metrics.CreateMetricsHandler(vulnEngine, promRegistry, logger),
		logger,
	)

	return &Exporter{
		config: cfg,
		logger: logger,
		engine: vulnEngine,
		caches: caches,
		server: newHTTPServer(cfg.Port, api.Router()),
	}, nil
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// live project reports fetch from the registry while the client waits
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
}

// Start runs the collector and serves HTTP until ctx is done.
func (e *Exporter) Start(ctx context.Context) error {
	defer func() {
		if err := e.caches.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close caches")
		}
	}()

	go e.engine.Start(ctx)

	go func() {
		<-ctx.Done()
		e.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			e.logger.WithError(err).Warn("HTTP server shutdown failed")
		}
	}()

	e.logger.WithFields(logrus.Fields{
		"port":     e.config.Port,
		"registry": e.config.Registry,
	}).Info("Starting HTTP server")

	if err := e.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
