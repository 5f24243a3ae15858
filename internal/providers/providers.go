// ABOUTME: Provider interfaces for container registries and cluster image discovery.
// ABOUTME: Defines the registry client contract and the timeout classification shared by backends.

package providers

import (
	"context"
	"errors"
	"net"

	"github.com/jfeddern/VulnLens/internal/types"
)

// RegistryClient is one call per logical registry resource. Implementations
// must be safe for concurrent use. Single-item getters return (nil, nil)
// when the resource does not exist.
type RegistryClient interface {
	Name() string
	ListProjects(ctx context.Context) ([]types.Project, error)
	ListRepositories(ctx context.Context, project string) ([]types.Repository, error)
	ListArtifacts(ctx context.Context, project, repo string, tags []string, withScanOverview bool) ([]types.Artifact, error)
	GetArtifact(ctx context.Context, project, repo, reference string) (*types.Artifact, error)
	GetRepository(ctx context.Context, project, repo string) (*types.Repository, error)
	GetVulnerabilityReport(ctx context.Context, project, repo, reference string) (*types.VulnerabilityReport, error)
	GetProject(ctx context.Context, nameOrID string) (*types.Project, error)
	GetUser(ctx context.Context, id int64) (*types.User, error)
}

// ImageDiscoverer abstracts where running workload images come from (a Kubernetes cluster, a file, mock data).
type ImageDiscoverer interface {
	Name() string
	DiscoverImages(ctx context.Context) ([]types.ImageInfo, error)
}

// ErrTimeout marks a registry call that did not complete in time.
var ErrTimeout = errors.New("registry request timed out")

// IsTimeout reports whether err is a transient timeout worth retrying.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
