// ABOUTME: Tests for the aggregate vulnerability report.
// ABOUTME: Covers deduplication, CVSS statistics, distribution and per-artifact rankings.

package report

import (
	"math"
	"testing"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, sev types.Severity, score float32, fix string) types.VulnerabilityItem {
	return types.VulnerabilityItem{
		ID:            id,
		Severity:      sev,
		FixVersion:    fix,
		PreferredCVSS: &types.CVSSDetails{ScoreV3: &score},
	}
}

func artifact(repo, digest string, items ...types.VulnerabilityItem) types.ArtifactInfo {
	return types.ArtifactInfo{
		Artifact:   types.Artifact{Digest: digest},
		Repository: types.Repository{Name: repo},
		Report:     types.VulnerabilityReport{Vulnerabilities: items},
	}
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New(nil, true)
	assert.ErrorIs(t, err, ErrEmptyReport)

	_, err = New([]types.ArtifactInfo{}, false)
	assert.ErrorIs(t, err, ErrEmptyReport)
}

func TestNewRemovesDuplicates(t *testing.T) {
	first := artifact("library/a", "sha256:1", item("CVE-1", types.SeverityHigh, 7, ""))
	dup := artifact("library/b", "sha256:1")
	other := artifact("library/c", "sha256:2")

	deduped, err := New([]types.ArtifactInfo{first, dup, other}, true)
	require.NoError(t, err)
	require.Len(t, deduped.Artifacts(), 2)
	assert.Equal(t, "library/a", deduped.Artifacts()[0].Repository.Name)
	assert.Equal(t, "library/c", deduped.Artifacts()[1].Repository.Name)
	assert.True(t, deduped.IsAggregate())

	kept, err := New([]types.ArtifactInfo{first, dup}, false)
	require.NoError(t, err)
	assert.Len(t, kept.Artifacts(), 2)

	single, err := New([]types.ArtifactInfo{first, dup}, true)
	require.NoError(t, err)
	assert.False(t, single.IsAggregate())
}

func TestCVSS(t *testing.T) {
	a := artifact("library/a", "sha256:1",
		item("CVE-1", types.SeverityLow, 1, ""),
		item("CVE-2", types.SeverityLow, 2, ""),
		item("CVE-3", types.SeverityMedium, 6, ""),
	)
	empty := artifact("library/empty", "sha256:2")

	r, err := New([]types.ArtifactInfo{a, empty}, true)
	require.NoError(t, err)

	cvss := r.CVSS()
	require.Len(t, cvss, 2)

	got := cvss[0].CVSS
	assert.Equal(t, 3.0, got.Mean)
	assert.Equal(t, 2.0, got.Median)
	assert.InDelta(t, math.Sqrt(14.0/3.0), got.Stdev, 1e-9)
	assert.Equal(t, 1.0, got.Min)
	assert.Equal(t, 6.0, got.Max)
	assert.Equal(t, "library/a", cvss[0].Artifact.Repository.Name)

	assert.Equal(t, types.CVSS{}, cvss[1].CVSS)
}

func TestDistributionSumsArtifacts(t *testing.T) {
	a := artifact("library/a", "sha256:1",
		item("CVE-1", types.SeverityHigh, 7, ""),
		item("CVE-2", types.SeverityLow, 2, ""),
	)
	b := artifact("library/b", "sha256:2",
		item("CVE-3", types.SeverityHigh, 8, ""),
		item("CVE-4", types.SeverityCritical, 9.5, "1.0"),
	)

	r, err := New([]types.ArtifactInfo{a, b}, true)
	require.NoError(t, err)

	dist := r.Distribution()
	assert.Len(t, dist, len(types.Severities))
	assert.Equal(t, 2, dist[types.SeverityHigh])
	assert.Equal(t, 1, dist[types.SeverityLow])
	assert.Equal(t, 1, dist[types.SeverityCritical])
	assert.Equal(t, 0, dist[types.SeverityMedium])
}

func TestFindingViews(t *testing.T) {
	a := artifact("library/a", "sha256:1",
		item("CVE-1", types.SeverityHigh, 7, "1.1"),
		item("CVE-2", types.SeverityLow, 2, ""),
		item("CVE-3", types.SeverityMedium, 5, ""),
	)
	b := artifact("library/b", "sha256:2",
		item("CVE-4", types.SeverityCritical, 9.5, "2.0"),
		item("CVE-5", types.SeverityHigh, 8, ""),
	)

	r, err := New([]types.ArtifactInfo{a, b}, true)
	require.NoError(t, err)

	ids := func(vulns []Vulnerability) []string {
		var out []string
		for _, v := range vulns {
			out = append(out, v.Item.ID)
		}
		return out
	}

	assert.Equal(t, []string{"CVE-1", "CVE-4"}, ids(r.Fixable()))
	assert.Equal(t, []string{"CVE-2", "CVE-3", "CVE-5"}, ids(r.Unfixable()))
	assert.Equal(t, []string{"CVE-4"}, ids(r.Critical()))
	assert.Equal(t, []string{"CVE-1", "CVE-5"}, ids(r.High()))
	assert.Equal(t, []string{"CVE-3"}, ids(r.Medium()))
	assert.Equal(t, []string{"CVE-2"}, ids(r.Low()))
	assert.Equal(t, "library/b", r.High()[1].Artifact.Repository.Name)
}

func TestTopVulnsPerArtifact(t *testing.T) {
	a := artifact("library/a", "sha256:1",
		item("A-low", types.SeverityLow, 2, ""),
		item("A-crit", types.SeverityCritical, 9.1, "1.0"),
		item("A-high", types.SeverityHigh, 7.5, ""),
	)
	b := artifact("library/b", "sha256:2",
		item("B-med", types.SeverityMedium, 5, "2.0"),
		item("B-high", types.SeverityHigh, 8, "2.1"),
	)

	r, err := New([]types.ArtifactInfo{a, b}, true)
	require.NoError(t, err)

	var top []string
	for _, v := range r.TopVulns(2, false) {
		top = append(top, v.Item.ID)
	}
	assert.Equal(t, []string{"A-crit", "A-high", "B-high", "B-med"}, top)

	var fixable []string
	for _, v := range r.TopVulns(1, true) {
		fixable = append(fixable, v.Item.ID)
	}
	assert.Equal(t, []string{"A-crit", "B-high"}, fixable)
}
