// ABOUTME: Root command with the flags shared by every subcommand.
// ABOUTME: Loads the environment configuration, applies flag overrides and builds the logger.

package main

import (
	"context"
	"fmt"

	"github.com/jfeddern/VulnLens/internal/config"
	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/metrics"
	"github.com/jfeddern/VulnLens/internal/providers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cli carries the resolved configuration between the root command and
// its subcommands.
type cli struct {
	cfg    config.Config
	logger *logrus.Logger

	registry     string
	harborURL    string
	snapshotFile string
	redisURL     string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "vulnlens",
		Short: "Aggregate container image vulnerability reports from Harbor",
		Long: `VulnLens collects the vulnerability reports Harbor keeps for scanned
artifacts and turns them into statistics, ranked findings and Prometheus
metrics. Settings come from the environment; flags override them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.registry, "registry", "", "Registry backend: harbor, ecr, local or mock (env VULNLENS_REGISTRY)")
	flags.StringVar(&c.harborURL, "harbor-url", "", "Harbor base URL (env HARBOR_URL)")
	flags.StringVar(&c.snapshotFile, "snapshot-file", "", "Snapshot file read by the local registry (env SNAPSHOT_FILE)")
	flags.StringVar(&c.redisURL, "redis-url", "", "Redis cache URL, in-memory cache when empty (env REDIS_URL)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level (env LOG_LEVEL)")

	cmd.AddCommand(
		newServeCmd(c),
		newReportCmd(c),
		newArtifactCmd(c),
		newSnapshotCmd(c),
	)
	return cmd
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("registry") {
		cfg.Registry = c.registry
	}
	if flags.Changed("harbor-url") {
		cfg.HarborURL = c.harborURL
	}
	if flags.Changed("snapshot-file") {
		cfg.SnapshotFile = c.snapshotFile
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = c.redisURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}

	c.cfg = cfg
	c.logger = newLogger(cfg.Level())
	return nil
}

// Set up structured logging
func newLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger
}

// newAggregator validates the configuration and connects to the registry.
// recorder may be nil.
func (c *cli) newAggregator(ctx context.Context, recorder *metrics.Recorder) (*engine.Aggregator, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := providers.CreateRegistryClient(ctx, c.cfg.ProviderConfig(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry client: %w", err)
	}
	return engine.NewAggregator(client, c.cfg.AggregatorConfig(), c.logger, recorder), nil
}
