// ABOUTME: Snapshot-backed registry client for offline reporting.
// ABOUTME: Serves projects, repositories, artifacts and reports from a JSON snapshot file.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

// Snapshot is the on-disk form of a registry's state.
type Snapshot struct {
	Projects     []types.Project      `json:"projects"`
	Users        []types.User         `json:"users,omitempty"`
	Repositories []types.Repository   `json:"repositories"`
	Artifacts    []types.ArtifactInfo `json:"artifacts"`
}

// SnapshotRegistry implements RegistryClient over a Snapshot
type SnapshotRegistry struct {
	mu       sync.RWMutex
	snapshot Snapshot
	logger   *logrus.Logger
}

// LoadSnapshot reads a snapshot file written by WriteSnapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot file '%s': %w", path, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot JSON: %w", err)
	}
	return snapshot, nil
}

// WriteSnapshot stores snapshot at path as indented JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file '%s': %w", path, err)
	}
	return nil
}

func NewSnapshotRegistryFromFile(path string, logger *logrus.Logger) (*SnapshotRegistry, error) {
	snapshot, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"file":         path,
		"projects":     len(snapshot.Projects),
		"repositories": len(snapshot.Repositories),
		"artifacts":    len(snapshot.Artifacts),
	}).Info("Loaded registry snapshot")
	return NewSnapshotRegistry(snapshot, logger), nil
}

func NewSnapshotRegistry(snapshot Snapshot, logger *logrus.Logger) *SnapshotRegistry {
	return &SnapshotRegistry{snapshot: snapshot, logger: logger}
}

// Name returns the provider name
func (s *SnapshotRegistry) Name() string {
	return "local"
}

// Replace swaps in a new snapshot.
func (s *SnapshotRegistry) Replace(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

func (s *SnapshotRegistry) ListProjects(ctx context.Context) ([]types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Project(nil), s.snapshot.Projects...), nil
}

// ListRepositories returns the repositories of project, or all of them when
// project is empty.
func (s *SnapshotRegistry) ListRepositories(ctx context.Context, project string) ([]types.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var repos []types.Repository
	for _, repo := range s.repositories() {
		if project == "" || repo.ProjectName() == project {
			repos = append(repos, repo)
		}
	}
	return repos, nil
}

func (s *SnapshotRegistry) ListArtifacts(ctx context.Context, project, repo string, tags []string, withScanOverview bool) ([]types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := project + "/" + repo
	var artifacts []types.Artifact
	for _, info := range s.snapshot.Artifacts {
		if info.Repository.Name != name || !matchesAnyTag(info.Artifact, tags) {
			continue
		}
		artifact := info.Artifact
		if !withScanOverview {
			artifact.ScanOverview = nil
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (s *SnapshotRegistry) GetArtifact(ctx context.Context, project, repo, reference string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if info := s.find(project, repo, reference); info != nil {
		artifact := info.Artifact
		return &artifact, nil
	}
	return nil, nil
}

func (s *SnapshotRegistry) GetRepository(ctx context.Context, project, repo string) (*types.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := project + "/" + repo
	for _, repository := range s.repositories() {
		if repository.Name == name {
			found := repository
			return &found, nil
		}
	}
	return nil, nil
}

// GetVulnerabilityReport returns nil when the artifact is unknown or was
// never scanned.
func (s *SnapshotRegistry) GetVulnerabilityReport(ctx context.Context, project, repo, reference string) (*types.VulnerabilityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.find(project, repo, reference)
	if info == nil || !info.Artifact.HasScanOverview() {
		return nil, nil
	}
	report := info.Report
	return &report, nil
}

func (s *SnapshotRegistry) GetProject(ctx context.Context, nameOrID string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, idErr := strconv.ParseInt(nameOrID, 10, 64)
	for _, project := range s.snapshot.Projects {
		if project.Name == nameOrID || (idErr == nil && project.ProjectID == id) {
			found := project
			return &found, nil
		}
	}
	return nil, nil
}

func (s *SnapshotRegistry) GetUser(ctx context.Context, id int64) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.snapshot.Users {
		if user.UserID == id {
			found := user
			return &found, nil
		}
	}
	return nil, nil
}

// repositories returns the snapshot's repositories, deriving them from the
// artifacts when the snapshot lists none. Callers hold the read lock.
func (s *SnapshotRegistry) repositories() []types.Repository {
	if len(s.snapshot.Repositories) > 0 {
		return s.snapshot.Repositories
	}
	seen := make(map[string]bool)
	var repos []types.Repository
	for _, info := range s.snapshot.Artifacts {
		if seen[info.Repository.Name] {
			continue
		}
		seen[info.Repository.Name] = true
		repos = append(repos, info.Repository)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos
}

func (s *SnapshotRegistry) find(project, repo, reference string) *types.ArtifactInfo {
	name := project + "/" + repo
	for i := range s.snapshot.Artifacts {
		info := &s.snapshot.Artifacts[i]
		if info.Repository.Name != name {
			continue
		}
		if info.Artifact.Digest == reference {
			return info
		}
		for _, tag := range info.Artifact.Tags {
			if tag.Name == reference {
				return info
			}
		}
	}
	return nil
}

func matchesAnyTag(artifact types.Artifact, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, tag := range artifact.Tags {
			if tag.Name == want {
				return true
			}
		}
	}
	return false
}
