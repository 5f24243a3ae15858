// ABOUTME: Aggregate vulnerability report over one or more artifacts.
// ABOUTME: Computes CVSS statistics, summed severity distribution and ranked findings.

package report

import (
	"errors"

	"github.com/jfeddern/VulnLens/internal/stats"
	"github.com/jfeddern/VulnLens/internal/types"
)

// ErrEmptyReport is returned when a report would hold no artifacts.
var ErrEmptyReport = errors.New("report requires at least one artifact")

// Vulnerability is a finding together with the artifact it was found in.
type Vulnerability struct {
	Item     types.VulnerabilityItem `json:"item"`
	Artifact types.ArtifactInfo      `json:"artifact"`
}

// Report is a read-only view over a non-empty set of artifacts.
type Report struct {
	artifacts []types.ArtifactInfo
}

// New builds a report. With removeDuplicates, artifacts sharing a digest
// are collapsed to the first one seen.
func New(artifacts []types.ArtifactInfo, removeDuplicates bool) (*Report, error) {
	if removeDuplicates {
		artifacts = RemoveDuplicates(artifacts)
	} else {
		artifacts = append([]types.ArtifactInfo(nil), artifacts...)
	}
	if len(artifacts) == 0 {
		return nil, ErrEmptyReport
	}
	return &Report{artifacts: artifacts}, nil
}

// RemoveDuplicates keeps the first artifact per digest, preserving order.
func RemoveDuplicates(artifacts []types.ArtifactInfo) []types.ArtifactInfo {
	seen := make(map[string]bool, len(artifacts))
	unique := make([]types.ArtifactInfo, 0, len(artifacts))
	for _, info := range artifacts {
		if seen[info.Artifact.Digest] {
			continue
		}
		seen[info.Artifact.Digest] = true
		unique = append(unique, info)
	}
	return unique
}

func (r *Report) Artifacts() []types.ArtifactInfo {
	return append([]types.ArtifactInfo(nil), r.artifacts...)
}

// IsAggregate reports whether the report spans more than one artifact.
func (r *Report) IsAggregate() bool {
	return len(r.artifacts) > 1
}

// CVSS returns score statistics per artifact, in artifact order.
func (r *Report) CVSS() []types.ArtifactCVSS {
	result := make([]types.ArtifactCVSS, 0, len(r.artifacts))
	for _, info := range r.artifacts {
		result = append(result, types.ArtifactCVSS{CVSS: CVSSOf(info), Artifact: info})
	}
	return result
}

// CVSSOf summarizes the CVSS scores of one artifact's findings.
func CVSSOf(info types.ArtifactInfo) types.CVSS {
	scores := info.Report.CVSSScores()
	return types.CVSS{
		Mean:   stats.Mean(scores),
		Median: stats.Median(scores),
		Stdev:  stats.Stdev(scores),
		Min:    stats.Min(scores),
		Max:    stats.Max(scores),
	}
}

// Distribution sums the per-artifact severity counts.
func (r *Report) Distribution() map[types.Severity]int {
	dist := make(map[types.Severity]int, len(types.Severities))
	for _, sev := range types.Severities {
		dist[sev] = 0
	}
	for _, info := range r.artifacts {
		for sev, count := range info.Report.Distribution() {
			dist[sev] += count
		}
	}
	return dist
}

func (r *Report) Fixable() []Vulnerability {
	return r.collect(types.VulnerabilityReport.Fixable)
}

func (r *Report) Unfixable() []Vulnerability {
	return r.collect(types.VulnerabilityReport.Unfixable)
}

func (r *Report) VulnerabilitiesBySeverity(sev types.Severity) []Vulnerability {
	return r.collect(func(report types.VulnerabilityReport) []types.VulnerabilityItem {
		return report.BySeverity(sev)
	})
}

func (r *Report) Critical() []Vulnerability {
	return r.VulnerabilitiesBySeverity(types.SeverityCritical)
}

func (r *Report) High() []Vulnerability {
	return r.VulnerabilitiesBySeverity(types.SeverityHigh)
}

func (r *Report) Medium() []Vulnerability {
	return r.VulnerabilitiesBySeverity(types.SeverityMedium)
}

func (r *Report) Low() []Vulnerability {
	return r.VulnerabilitiesBySeverity(types.SeverityLow)
}

// TopVulns concatenates each artifact's top maxRows findings in artifact
// order. It is not a global ranking.
func (r *Report) TopVulns(maxRows int, fixableOnly bool) []Vulnerability {
	return r.collect(func(report types.VulnerabilityReport) []types.VulnerabilityItem {
		return report.TopVulns(maxRows, fixableOnly)
	})
}

func (r *Report) collect(items func(types.VulnerabilityReport) []types.VulnerabilityItem) []Vulnerability {
	var vulns []Vulnerability
	for _, info := range r.artifacts {
		for _, item := range items(info.Report) {
			vulns = append(vulns, Vulnerability{Item: item, Artifact: info})
		}
	}
	return vulns
}
