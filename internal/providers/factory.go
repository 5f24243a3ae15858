// ABOUTME: Factory for creating registry clients and image discoverers.
// ABOUTME: Centralizes provider instantiation and configuration logic.

package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jfeddern/VulnLens/internal/providers/aws"
	"github.com/jfeddern/VulnLens/internal/providers/harbor"
	"github.com/jfeddern/VulnLens/internal/providers/kube"
	"github.com/jfeddern/VulnLens/internal/providers/local"
	"github.com/jfeddern/VulnLens/internal/providers/mock"
	"github.com/sirupsen/logrus"
)

// Registry backends.
const (
	RegistryHarbor = "harbor"
	RegistryECR    = "ecr"
	RegistryLocal  = "local"
	RegistryMock   = "mock"
)

// Discovery modes.
const (
	DiscoveryCluster = "cluster"
	DiscoveryLocal   = "local"
	DiscoveryMock    = "mock"
)

// ProviderConfig holds configuration for creating providers
type ProviderConfig struct {
	Registry     string
	Harbor       harbor.Config
	ECRAccountID string
	ECRRegion    string
	SnapshotFile string

	DiscoveryMode string
	ImageListFile string
}

// RegistryHost is the domain cluster images must carry to belong to the
// configured registry. It is empty for ECR, whose hosts are matched by pattern.
func (c *ProviderConfig) RegistryHost() string {
	switch c.Registry {
	case RegistryHarbor:
		if u, err := url.Parse(c.Harbor.URL); err == nil {
			return u.Host
		}
	case RegistryMock:
		return mock.Host
	}
	return ""
}

// CreateRegistryClient creates a registry client based on configuration
func CreateRegistryClient(ctx context.Context, config *ProviderConfig, logger *logrus.Logger) (RegistryClient, error) {
	switch config.Registry {
	case RegistryHarbor:
		return harbor.NewClient(config.Harbor, logger)
	case RegistryECR:
		if config.ECRAccountID == "" || config.ECRRegion == "" {
			return nil, fmt.Errorf("ECR registry requires account ID and region")
		}
		return aws.NewECRRegistry(ctx, config.ECRAccountID, config.ECRRegion, logger)
	case RegistryLocal:
		if config.SnapshotFile == "" {
			return nil, fmt.Errorf("local registry requires a snapshot file")
		}
		return local.NewSnapshotRegistryFromFile(config.SnapshotFile, logger)
	case RegistryMock:
		logger.Info("Using mock registry client for testing")
		return mock.NewMockRegistry(logger), nil
	default:
		return nil, fmt.Errorf("unsupported registry: %s", config.Registry)
	}
}

// CreateImageDiscoverer creates an image discoverer based on configuration
func CreateImageDiscoverer(config *ProviderConfig, logger *logrus.Logger) (ImageDiscoverer, error) {
	switch config.DiscoveryMode {
	case DiscoveryMock:
		logger.Info("Using mock image discoverer for testing")
		return mock.NewMockClusterProvider(logger), nil
	case DiscoveryCluster:
		return kube.NewClusterProvider(config.RegistryHost(), logger)
	case DiscoveryLocal:
		if config.ImageListFile == "" {
			return nil, fmt.Errorf("local discovery requires an image list file")
		}
		return local.NewImageListProvider(config.ImageListFile, logger), nil
	default:
		return nil, fmt.Errorf("unsupported discovery mode: %s", config.DiscoveryMode)
	}
}
