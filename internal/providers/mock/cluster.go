// ABOUTME: Mock Kubernetes image discovery for local testing and development.
// ABOUTME: Reports the newest mock registry artifacts as if they were running workloads.

package mock

import (
	"context"
	"strings"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

// workloadNamespaces places mock projects into cluster namespaces.
var workloadNamespaces = map[string]string{
	"production": "production",
	"staging":    "staging",
	"monitoring": "monitoring",
	"legacy":     "legacy",
}

// MockClusterProvider implements ImageDiscoverer with mock data
type MockClusterProvider struct {
	logger *logrus.Logger
}

func NewMockClusterProvider(logger *logrus.Logger) *MockClusterProvider {
	return &MockClusterProvider{
		logger: logger,
	}
}

// Name returns the provider name
func (m *MockClusterProvider) Name() string {
	return "mock-kubernetes"
}

// DiscoverImages returns one workload per newest mock artifact. Stateful
// services are reported as StatefulSets.
func (m *MockClusterProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	m.logger.Info("Discovering mock images from simulated cluster")

	var images []types.ImageInfo
	for _, entry := range catalog {
		workloadType := "Deployment"
		if strings.Contains(entry.repo, "postgres") || strings.Contains(entry.repo, "redis") {
			workloadType = "StatefulSet"
		}
		images = append(images, types.ImageInfo{
			URI:          Host + "/" + entry.project + "/" + entry.repo + ":" + entry.tags[0],
			Namespace:    workloadNamespaces[entry.project],
			Workload:     entry.repo,
			WorkloadType: workloadType,
		})
	}

	m.logger.WithField("image_count", len(images)).Info("Mock image discovery completed")
	return images, nil
}

// IsRegistryImage checks if the image is served by the mock registry host
func (m *MockClusterProvider) IsRegistryImage(imageURI string) bool {
	return strings.HasPrefix(imageURI, Host+"/")
}
