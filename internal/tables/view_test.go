// ABOUTME: Tests for the combined report view.
// ABOUTME: Checks distributions, table selection and text rendering of views.

package tables

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewView(t *testing.T) {
	view := NewView(testReport(t), DefaultMaxRows, false)

	assert.False(t, view.Empty)
	assert.True(t, view.Aggregate)
	assert.Equal(t, 2, view.Artifacts)

	assert.Equal(t, 1, view.Distributions[DistributionAll]["Critical"])
	assert.Equal(t, 0, view.Distributions[DistributionAll]["Medium"])
	assert.Equal(t, 1, view.Distributions[DistributionFixable]["High"])
	assert.Equal(t, 0, view.Distributions[DistributionFixable]["Critical"])
	assert.Equal(t, 1, view.Distributions[DistributionUnfixable]["Low"])
	assert.Equal(t, 1, view.Distributions[DistributionUnfixable]["Critical"])

	titles := make([]string, 0, len(view.Tables))
	for _, table := range view.Tables {
		titles = append(titles, table.Title)
	}
	assert.Equal(t, []string{
		"Statistics",
		"Images",
		"Most Critical Vulnerabilities",
		"Most Critical Fixable Vulnerabilities",
	}, titles)
}

func TestNewViewFixableOnly(t *testing.T) {
	view := NewView(testReport(t), DefaultMaxRows, true)
	require.Len(t, view.Tables, 3)
	assert.Equal(t, "Most Critical Fixable Vulnerabilities", view.Tables[2].Title)
}

func TestRenderView(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderView(&buf, EmptyView()))
	assert.Equal(t, "No artifacts found\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderView(&buf, NewView(testReport(t), 1, false)))
	out := buf.String()
	assert.Contains(t, out, "Statistics")
	assert.Contains(t, out, "Most Critical Fixable Vulnerabilities")
	assert.Contains(t, out, "CVE-2024-0003")
}

func TestViewOf(t *testing.T) {
	assert.True(t, ViewOf(nil, DefaultMaxRows, false).Empty)

	view := ViewOf(testReport(t).Artifacts()[:1], 3, true)
	assert.False(t, view.Empty)
	assert.False(t, view.Aggregate)
	require.Len(t, view.Tables, 3)
	assert.Equal(t, "Image", view.Tables[1].Title)
}
