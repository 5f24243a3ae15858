// ABOUTME: Common types shared across the VulnLens system.
// ABOUTME: Defines registry projects, repositories, artifacts and cluster image references.

package types

import (
	"strings"
	"time"
)

// ReferenceLatest is used when an artifact has neither digest nor tag.
const ReferenceLatest = "latest"

// Project is a registry project (a Harbor project or an ECR path prefix).
type Project struct {
	ProjectID    int64     `json:"project_id"`
	Name         string    `json:"name"`
	OwnerID      int64     `json:"owner_id"`
	OwnerName    string    `json:"owner_name,omitempty"`
	RepoCount    int       `json:"repo_count"`
	CreationTime time.Time `json:"creation_time"`
}

// User is the owner of a project.
type User struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Realname string `json:"realname,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Repository is a named collection of artifacts. Name is the composite
// "project/repo" form returned by the registry.
type Repository struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ArtifactCount int       `json:"artifact_count"`
	PullCount     int       `json:"pull_count"`
	CreationTime  time.Time `json:"creation_time"`
	UpdateTime    time.Time `json:"update_time"`
}

// SplitName splits the composite name on the first "/". ok is false unless
// both halves are non-empty.
func (r Repository) SplitName() (project, repo string, ok bool) {
	project, repo, found := strings.Cut(r.Name, "/")
	if !found || project == "" || repo == "" {
		return "", "", false
	}
	return project, repo, true
}

// ProjectName returns the project half of the composite name.
func (r Repository) ProjectName() string {
	project, _, _ := r.SplitName()
	return project
}

// BaseName returns the repository half of the composite name, or the whole
// name when it cannot be split.
func (r Repository) BaseName() string {
	if _, repo, ok := r.SplitName(); ok {
		return repo
	}
	return r.Name
}

type Tag struct {
	Name     string     `json:"name"`
	PushTime *time.Time `json:"push_time,omitempty"`
}

// ScanSummary is one scanner's overview of an artifact.
type ScanSummary struct {
	ReportID    string           `json:"report_id,omitempty"`
	ScanStatus  string           `json:"scan_status,omitempty"`
	Severity    Severity         `json:"severity"`
	Summary     map[Severity]int `json:"summary,omitempty"`
	Total       int              `json:"total"`
	Fixable     int              `json:"fixable"`
	StartTime   *time.Time       `json:"start_time,omitempty"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	CompletePct int              `json:"complete_percent,omitempty"`
}

// Artifact is one pushed, digest-identified image.
type Artifact struct {
	ID           int64                  `json:"id"`
	Digest       string                 `json:"digest"`
	MediaType    string                 `json:"media_type,omitempty"`
	Size         int64                  `json:"size,omitempty"`
	Tags         []Tag                  `json:"tags,omitempty"`
	PushTime     *time.Time             `json:"push_time,omitempty"`
	ScanOverview map[string]ScanSummary `json:"scan_overview,omitempty"`
}

// HasScanOverview reports whether the registry holds at least one scan summary.
func (a Artifact) HasScanOverview() bool {
	return len(a.ScanOverview) > 0
}

func (a Artifact) TagNames() []string {
	names := make([]string, 0, len(a.Tags))
	for _, tag := range a.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// Reference is what a report fetch addresses: the digest if known, else the
// first tag, else "latest".
func (a Artifact) Reference() string {
	if a.Digest != "" {
		return a.Digest
	}
	if len(a.Tags) > 0 && a.Tags[0].Name != "" {
		return a.Tags[0].Name
	}
	return ReferenceLatest
}

// ArtifactInfo ties an artifact to its repository and its vulnerability
// report. Report is the empty report until one has been fetched.
type ArtifactInfo struct {
	Artifact   Artifact            `json:"artifact"`
	Repository Repository          `json:"repository"`
	Report     VulnerabilityReport `json:"report"`
}

// WithReport returns a copy of the info carrying report.
func (a ArtifactInfo) WithReport(report VulnerabilityReport) ArtifactInfo {
	a.Report = report
	return a
}

// Name is the image name in "project/repo:tag" or "project/repo@digest" form.
func (a ArtifactInfo) Name() string {
	if len(a.Artifact.Tags) > 0 {
		return a.Repository.Name + ":" + a.Artifact.Tags[0].Name
	}
	if a.Artifact.Digest != "" {
		return a.Repository.Name + "@" + a.Artifact.Digest
	}
	return a.Repository.Name
}

// CVSS holds summary statistics over one artifact's CVSS scores.
type CVSS struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Stdev  float64 `json:"stdev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type ArtifactCVSS struct {
	CVSS     CVSS         `json:"cvss"`
	Artifact ArtifactInfo `json:"artifact"`
}

// ImageInfo represents a discovered container image with its Kubernetes context
type ImageInfo struct {
	URI          string `json:"uri"`
	Namespace    string `json:"namespace"`
	Workload     string `json:"workload"`
	WorkloadType string `json:"workload_type"` // "Deployment", "StatefulSet", etc.
}
