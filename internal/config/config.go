// ABOUTME: Environment-driven configuration for the VulnLens service and CLI.
// ABOUTME: Parses env vars with defaults, validates them and derives component configs.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/providers"
	"github.com/jfeddern/VulnLens/internal/providers/harbor"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Registry string `env:"VULNLENS_REGISTRY" envDefault:"harbor"`

	HarborURL       string        `env:"HARBOR_URL"`
	HarborUsername  string        `env:"HARBOR_USERNAME"`
	HarborPassword  string        `env:"HARBOR_PASSWORD"`
	HarborTimeout   time.Duration `env:"HARBOR_TIMEOUT" envDefault:"30s"`
	HarborRateLimit float64       `env:"HARBOR_RATE_LIMIT" envDefault:"0"`
	HarborPageSize  int           `env:"HARBOR_PAGE_SIZE" envDefault:"100"`

	ECRAccountID string `env:"AWS_ECR_ACCOUNT_ID"`
	ECRRegion    string `env:"AWS_ECR_REGION"`
	SnapshotFile string `env:"SNAPSHOT_FILE"`

	DiscoveryMode string `env:"DISCOVERY_MODE" envDefault:"cluster"`
	ImageListFile string `env:"IMAGE_LIST_FILE"`

	// RedisURL selects the cache. Empty uses the in-memory cache.
	RedisURL       string        `env:"REDIS_URL"`
	CacheNamespace string        `env:"CACHE_NAMESPACE" envDefault:"vulnlens"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"30m"`

	BatchSize            int           `env:"BATCH_SIZE" envDefault:"5"`
	BatchPause           time.Duration `env:"BATCH_PAUSE" envDefault:"1s"`
	RetryAttempts        int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	FetchConcurrency     int           `env:"FETCH_CONCURRENCY" envDefault:"0"`

	Port           int           `env:"PORT" envDefault:"9090"`
	ScrapeInterval time.Duration `env:"SCRAPE_INTERVAL" envDefault:"5m"`
	ClusterFilter  bool          `env:"CLUSTER_FILTER" envDefault:"false"`
	Projects       []string      `env:"PROJECTS" envSeparator:","`
	Tags           []string      `env:"TAGS" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (cfg Config, err error) {
	err = env.Parse(&cfg)
	return
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Registry {
	case providers.RegistryHarbor:
		if c.HarborURL == "" {
			errs = append(errs, errors.New("HARBOR_URL is required for the harbor registry"))
		}
	case providers.RegistryECR:
		if c.ECRAccountID == "" || c.ECRRegion == "" {
			errs = append(errs, errors.New("ECR account ID and region are required for the ecr registry"))
		}
	case providers.RegistryLocal:
		if c.SnapshotFile == "" {
			errs = append(errs, errors.New("SNAPSHOT_FILE is required for the local registry"))
		}
	case providers.RegistryMock:
	default:
		errs = append(errs, fmt.Errorf("unsupported registry %q", c.Registry))
	}

	if c.ClusterFilter {
		switch c.DiscoveryMode {
		case providers.DiscoveryCluster, providers.DiscoveryMock:
		case providers.DiscoveryLocal:
			if c.ImageListFile == "" {
				errs = append(errs, errors.New("IMAGE_LIST_FILE is required for local discovery"))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported discovery mode %q", c.DiscoveryMode))
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.ScrapeInterval <= 0 {
		errs = append(errs, fmt.Errorf("scrape interval must be positive, got %s", c.ScrapeInterval))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", c.RetryAttempts))
	}
	if c.FetchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("fetch concurrency must not be negative, got %d", c.FetchConcurrency))
	}
	if c.HarborRateLimit < 0 {
		errs = append(errs, fmt.Errorf("harbor rate limit must not be negative, got %g", c.HarborRateLimit))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache TTL must not be negative, got %s", c.CacheTTL))
	}

	return errors.Join(errs...)
}

// Level returns the configured log level, or info when it does not parse.
func (c Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (c Config) ProviderConfig() *providers.ProviderConfig {
	return &providers.ProviderConfig{
		Registry: c.Registry,
		Harbor: harbor.Config{
			URL:       c.HarborURL,
			Username:  c.HarborUsername,
			Password:  c.HarborPassword,
			Timeout:   c.HarborTimeout,
			RateLimit: c.HarborRateLimit,
			PageSize:  c.HarborPageSize,
		},
		ECRAccountID:  c.ECRAccountID,
		ECRRegion:     c.ECRRegion,
		SnapshotFile:  c.SnapshotFile,
		DiscoveryMode: c.DiscoveryMode,
		ImageListFile: c.ImageListFile,
	}
}

func (c Config) AggregatorConfig() engine.Config {
	return engine.Config{
		BatchSize:            c.BatchSize,
		BatchPause:           c.BatchPause,
		RetryAttempts:        c.RetryAttempts,
		RetryInitialInterval: c.RetryInitialInterval,
		Concurrency:          c.FetchConcurrency,
	}
}

func (c Config) CollectorConfig() engine.CollectorConfig {
	return engine.CollectorConfig{
		ScrapeInterval: c.ScrapeInterval,
		ClusterFilter:  c.ClusterFilter,
		Projects:       c.Projects,
		Tags:           c.Tags,
	}
}
