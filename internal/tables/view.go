// ABOUTME: Complete report view shared by the CLI and the HTTP API.
// ABOUTME: Bundles severity distributions with the statistics, image and top vulnerability tables.

package tables

import (
	"fmt"
	"io"

	"github.com/jfeddern/VulnLens/internal/report"
	"github.com/jfeddern/VulnLens/internal/types"
)

// Distribution keys.
const (
	DistributionAll       = "all"
	DistributionFixable   = "fixable"
	DistributionUnfixable = "unfixable"
)

// View is everything shown for one report.
type View struct {
	Empty     bool `json:"empty" yaml:"empty"`
	Aggregate bool `json:"aggregate" yaml:"aggregate"`
	Artifacts int  `json:"artifacts" yaml:"artifacts"`
	// Distributions counts findings per severity name for all, fixable and
	// unfixable findings.
	Distributions map[string]map[string]int `json:"distributions,omitempty" yaml:"distributions,omitempty"`
	Tables        []Table                   `json:"tables,omitempty" yaml:"tables,omitempty"`
}

// EmptyView is shown when no artifacts matched.
func EmptyView() View {
	return View{Empty: true}
}

// NewView builds the statistics, image info and top vulnerability tables of
// r. With fixableOnly the unfiltered top vulnerability table is left out.
func NewView(r *report.Report, maxRows int, fixableOnly bool) View {
	view := View{
		Aggregate: r.IsAggregate(),
		Artifacts: len(r.Artifacts()),
		Distributions: map[string]map[string]int{
			DistributionAll:       severityNames(r.Distribution()),
			DistributionFixable:   countBySeverity(r.Fixable()),
			DistributionUnfixable: countBySeverity(r.Unfixable()),
		},
		Tables: []Table{
			CVEStatistics(r),
			ImageInfo(r, DefaultDigestLimit),
		},
	}
	if !fixableOnly {
		view.Tables = append(view.Tables, TopVulns(r, false, maxRows))
	}
	view.Tables = append(view.Tables, TopVulns(r, true, maxRows))
	return view
}

// ViewOf builds the view over infos without removing duplicates, or the
// empty view when infos is empty.
func ViewOf(infos []types.ArtifactInfo, maxRows int, fixableOnly bool) View {
	r, err := report.New(infos, false)
	if err != nil {
		return EmptyView()
	}
	return NewView(r, maxRows, fixableOnly)
}

func severityNames(dist map[types.Severity]int) map[string]int {
	named := make(map[string]int, len(dist))
	for sev, count := range dist {
		named[sev.String()] = count
	}
	return named
}

func countBySeverity(vulns []report.Vulnerability) map[string]int {
	counts := make(map[types.Severity]int, len(types.Severities))
	for _, sev := range types.Severities {
		counts[sev] = 0
	}
	for _, vuln := range vulns {
		counts[vuln.Item.Severity]++
	}
	return severityNames(counts)
}

// RenderView writes every table of view, or a notice for an empty view.
func RenderView(w io.Writer, view View) error {
	if view.Empty {
		_, err := fmt.Fprintln(w, "No artifacts found")
		return err
	}
	for _, table := range view.Tables {
		if err := Render(w, table); err != nil {
			return err
		}
	}
	return nil
}
