// ABOUTME: Mock registry client for local testing and development.
// ABOUTME: Serves a fixed catalog of projects and scanned artifacts without a Harbor instance.

package mock

import (
	"context"
	"strconv"
	"time"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Host is the registry domain used by mock images.
const Host = "harbor.example.com"

// epoch anchors push times so the catalog is deterministic.
var epoch = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)

var mockScanner = &types.Scanner{Name: "Trivy", Vendor: "Aqua Security", Version: "v0.50.1"}

type catalogEntry struct {
	project string
	repo    string
	// tags are ordered newest first; each tag is its own artifact
	tags    []string
	scanned bool
}

var catalog = []catalogEntry{
	{project: "production", repo: "web-frontend", tags: []string{"v1.2.3", "v1.2.2"}, scanned: true},
	{project: "production", repo: "api-backend", tags: []string{"v2.1.0", "v2.0.0"}, scanned: true},
	{project: "production", repo: "postgres-db", tags: []string{"14.9", "14.8"}, scanned: true},
	{project: "production", repo: "worker-service", tags: []string{"latest"}, scanned: true},
	{project: "production", repo: "redis-cache", tags: []string{"7.0.11"}, scanned: false},
	{project: "production", repo: "nginx-proxy", tags: []string{"1.21.6"}, scanned: true},
	{project: "monitoring", repo: "monitoring-agent", tags: []string{"v3.4.1"}, scanned: true},
	{project: "staging", repo: "python-api", tags: []string{"dev-abc123", "dev-9f8e7d"}, scanned: true},
	{project: "staging", repo: "node-frontend", tags: []string{"staging"}, scanned: true},
	{project: "legacy", repo: "legacy-app", tags: []string{"v1.0.0"}, scanned: true},
}

var mockProjects = []types.Project{
	{ProjectID: 1, Name: "production", OwnerID: 1},
	{ProjectID: 2, Name: "staging", OwnerID: 2},
	{ProjectID: 3, Name: "monitoring", OwnerID: 1},
	{ProjectID: 4, Name: "legacy", OwnerID: 3},
}

var mockUsers = []types.User{
	{UserID: 1, Username: "admin", Realname: "Registry Admin", Email: "admin@example.com"},
	{UserID: 2, Username: "dev-team", Realname: "Development Team", Email: "dev@example.com"},
	{UserID: 3, Username: "legacy-ops", Realname: "Legacy Operations"},
}

// MockRegistry implements RegistryClient with mock data
type MockRegistry struct {
	logger *logrus.Logger
}

func NewMockRegistry(logger *logrus.Logger) *MockRegistry {
	return &MockRegistry{logger: logger}
}

// Name returns the provider name
func (m *MockRegistry) Name() string {
	return "mock-harbor"
}

// Digest is the deterministic digest of a mock artifact.
func Digest(project, repo, tag string) string {
	return digest.FromString(project + "/" + repo + ":" + tag).String()
}

func (m *MockRegistry) ListProjects(ctx context.Context) ([]types.Project, error) {
	projects := make([]types.Project, 0, len(mockProjects))
	for _, project := range mockProjects {
		project.CreationTime = epoch.AddDate(-1, 0, int(project.ProjectID))
		project.RepoCount = len(m.entries(project.Name))
		projects = append(projects, project)
	}
	return projects, nil
}

// ListRepositories returns every repository when project is empty.
func (m *MockRegistry) ListRepositories(ctx context.Context, project string) ([]types.Repository, error) {
	var repos []types.Repository
	for i, entry := range catalog {
		if project != "" && entry.project != project {
			continue
		}
		repos = append(repos, entry.repository(i))
	}
	m.logger.WithFields(logrus.Fields{
		"project":    project,
		"repo_count": len(repos),
	}).Debug("Listing mock repositories")
	return repos, nil
}

func (m *MockRegistry) ListArtifacts(ctx context.Context, project, repo string, tags []string, withScanOverview bool) ([]types.Artifact, error) {
	entry, index, ok := m.lookup(project, repo)
	if !ok {
		return nil, nil
	}
	var artifacts []types.Artifact
	for age, tag := range entry.tags {
		if len(tags) > 0 && !lo.Contains(tags, tag) {
			continue
		}
		artifact := entry.artifact(index, age)
		if !withScanOverview {
			artifact.ScanOverview = nil
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (m *MockRegistry) GetArtifact(ctx context.Context, project, repo, reference string) (*types.Artifact, error) {
	entry, index, ok := m.lookup(project, repo)
	if !ok {
		return nil, nil
	}
	if age, ok := entry.age(reference); ok {
		artifact := entry.artifact(index, age)
		return &artifact, nil
	}
	return nil, nil
}

func (m *MockRegistry) GetRepository(ctx context.Context, project, repo string) (*types.Repository, error) {
	entry, index, ok := m.lookup(project, repo)
	if !ok {
		return nil, nil
	}
	repository := entry.repository(index)
	return &repository, nil
}

// GetVulnerabilityReport returns nil for unknown or unscanned artifacts.
func (m *MockRegistry) GetVulnerabilityReport(ctx context.Context, project, repo, reference string) (*types.VulnerabilityReport, error) {
	m.logger.WithFields(logrus.Fields{
		"project":   project,
		"repo":      repo,
		"reference": reference,
	}).Debug("Getting mock vulnerability report")

	entry, _, ok := m.lookup(project, repo)
	if !ok || !entry.scanned {
		return nil, nil
	}
	age, ok := entry.age(reference)
	if !ok {
		return nil, nil
	}
	report := entry.report(age)
	return &report, nil
}

func (m *MockRegistry) GetProject(ctx context.Context, nameOrID string) (*types.Project, error) {
	projects, _ := m.ListProjects(ctx)
	id, idErr := strconv.ParseInt(nameOrID, 10, 64)
	for _, project := range projects {
		if project.Name == nameOrID || (idErr == nil && project.ProjectID == id) {
			found := project
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MockRegistry) GetUser(ctx context.Context, id int64) (*types.User, error) {
	for _, user := range mockUsers {
		if user.UserID == id {
			found := user
			return &found, nil
		}
	}
	return nil, nil
}

// Images returns the references of every newest mock artifact.
func Images() []string {
	var images []string
	for _, entry := range catalog {
		images = append(images, Host+"/"+entry.project+"/"+entry.repo+":"+entry.tags[0])
	}
	return images
}

func (m *MockRegistry) entries(project string) []catalogEntry {
	var entries []catalogEntry
	for _, entry := range catalog {
		if entry.project == project {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (m *MockRegistry) lookup(project, repo string) (catalogEntry, int, bool) {
	for i, entry := range catalog {
		if entry.project == project && entry.repo == repo {
			return entry, i, true
		}
	}
	return catalogEntry{}, 0, false
}

func (e catalogEntry) repository(index int) types.Repository {
	projectID := int64(0)
	for _, project := range mockProjects {
		if project.Name == e.project {
			projectID = project.ProjectID
		}
	}
	return types.Repository{
		ID:            int64(index + 1),
		ProjectID:     projectID,
		Name:          e.project + "/" + e.repo,
		ArtifactCount: len(e.tags),
		PullCount:     (index + 1) * 17,
		CreationTime:  epoch.AddDate(0, -6, index),
		UpdateTime:    e.pushTime(0),
	}
}

// age resolves a tag or digest to the artifact's position in tags.
func (e catalogEntry) age(reference string) (int, bool) {
	for age, tag := range e.tags {
		if reference == tag || reference == Digest(e.project, e.repo, tag) {
			return age, true
		}
	}
	return 0, false
}

func (e catalogEntry) pushTime(age int) time.Time {
	return epoch.Add(-time.Duration(len(e.repo)*5) * time.Minute).AddDate(0, 0, -7*age)
}

func (e catalogEntry) artifact(index, age int) types.Artifact {
	tag := e.tags[age]
	pushed := e.pushTime(age)
	artifact := types.Artifact{
		ID:        int64((index+1)*100 + age),
		Digest:    Digest(e.project, e.repo, tag),
		MediaType: "application/vnd.oci.image.manifest.v1+json",
		Size:      int64(len(e.repo)) * 1 << 20,
		Tags:      []types.Tag{{Name: tag, PushTime: &pushed}},
		PushTime:  &pushed,
	}
	if e.scanned {
		report := e.report(age)
		dist := report.Distribution()
		artifact.ScanOverview = map[string]types.ScanSummary{
			types.MimeTypeVulnerabilityReport: {
				ScanStatus:  "Success",
				Severity:    report.Severity,
				Summary:     dist,
				Total:       len(report.Vulnerabilities),
				Fixable:     len(report.Fixable()),
				CompletePct: 100,
			},
		}
	}
	return artifact
}

func (e catalogEntry) report(age int) types.VulnerabilityReport {
	vulns := profileFor(e.repo)
	if age > 0 {
		vulns = append(vulns, staleVulns()...)
	}
	severity := types.SeverityUnknown
	for _, vuln := range vulns {
		severity = types.Highest(severity, vuln.Severity)
	}
	return types.VulnerabilityReport{
		GeneratedAt:     e.pushTime(age).Add(10 * time.Minute),
		Scanner:         mockScanner,
		Severity:        severity,
		Vulnerabilities: vulns,
	}
}
