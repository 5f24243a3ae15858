// ABOUTME: Vulnerability findings and per-artifact reports in Harbor's wire format.
// ABOUTME: Derives severity distribution, fixable partitions and top-N rankings.

package types

import (
	"sort"
	"strings"
	"time"
)

// MimeTypeVulnerabilityReport keys the report in Harbor's additions response.
const MimeTypeVulnerabilityReport = "application/vnd.security.vulnerability.report; version=1.1"

// Vendor attribute sources consulted for Trivy scores, in priority order.
var cvssVendorPriority = []string{"nvd", "redhat"}

type Scanner struct {
	Name    string `json:"name"`
	Vendor  string `json:"vendor"`
	Version string `json:"version"`
}

// IsTrivy reports whether the scanner is Trivy, whose scores live in the
// vendor attributes rather than the preferred CVSS block.
func (s *Scanner) IsTrivy() bool {
	return s != nil && strings.EqualFold(s.Name, "trivy")
}

type CVSSDetails struct {
	ScoreV2  *float32 `json:"score_v2,omitempty"`
	ScoreV3  *float32 `json:"score_v3,omitempty"`
	VectorV2 string   `json:"vector_v2"`
	VectorV3 string   `json:"vector_v3"`
}

// VulnerabilityItem is a single finding.
type VulnerabilityItem struct {
	ID               string         `json:"id"`
	Package          string         `json:"package"`
	Version          string         `json:"version"`
	FixVersion       string         `json:"fix_version,omitempty"`
	Severity         Severity       `json:"severity"`
	Description      string         `json:"description"`
	Links            []string       `json:"links,omitempty"`
	PreferredCVSS    *CVSSDetails   `json:"preferred_cvss,omitempty"`
	CweIDs           []string       `json:"cwe_ids,omitempty"`
	VendorAttributes map[string]any `json:"vendor_attributes,omitempty"`
}

// Fixable reports whether a fixed-in version is known.
func (v VulnerabilityItem) Fixable() bool {
	return v.FixVersion != ""
}

// CVSSScore returns the item's CVSS base score as reported by scanner, or 0
// when no score is available.
func (v VulnerabilityItem) CVSSScore(scanner *Scanner) float64 {
	if scanner.IsTrivy() {
		if score, ok := v.vendorScore(); ok {
			return score
		}
	}
	if v.PreferredCVSS != nil {
		if v.PreferredCVSS.ScoreV3 != nil {
			return float64(*v.PreferredCVSS.ScoreV3)
		}
		if v.PreferredCVSS.ScoreV2 != nil {
			return float64(*v.PreferredCVSS.ScoreV2)
		}
	}
	return 0
}

// vendorScore reads vendor_attributes.CVSS.<vendor>.{V3Score,V2Score}.
func (v VulnerabilityItem) vendorScore() (float64, bool) {
	cvss, ok := v.VendorAttributes["CVSS"].(map[string]any)
	if !ok {
		return 0, false
	}
	for _, vendor := range cvssVendorPriority {
		scores, ok := cvss[vendor].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"V3Score", "V2Score"} {
			if score, ok := toFloat(scores[key]); ok {
				return score, true
			}
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// HighestSeverity is the higher of the reported severity and the one implied
// by the CVSS score.
func (v VulnerabilityItem) HighestSeverity(scanner *Scanner) Severity {
	return Highest(v.Severity, SeverityFromScore(v.CVSSScore(scanner)))
}

// NVDLink points at the NVD entry for CVE identifiers.
func (v VulnerabilityItem) NVDLink() string {
	if !strings.HasPrefix(strings.ToUpper(v.ID), "CVE-") {
		return ""
	}
	return "https://nvd.nist.gov/vuln/detail/" + v.ID
}

// VulnerabilityReport is the set of findings for one artifact. The zero
// value is the empty report.
type VulnerabilityReport struct {
	GeneratedAt     time.Time           `json:"generated_at"`
	Scanner         *Scanner            `json:"scanner,omitempty"`
	Severity        Severity            `json:"severity"`
	Vulnerabilities []VulnerabilityItem `json:"vulnerabilities"`
}

func (r VulnerabilityReport) IsEmpty() bool {
	return len(r.Vulnerabilities) == 0
}

// Distribution counts findings per severity. Every level is present.
func (r VulnerabilityReport) Distribution() map[Severity]int {
	dist := make(map[Severity]int, len(Severities))
	for _, sev := range Severities {
		dist[sev] = 0
	}
	for _, vuln := range r.Vulnerabilities {
		dist[vuln.Severity]++
	}
	return dist
}

func (r VulnerabilityReport) Fixable() []VulnerabilityItem {
	return r.filter(func(v VulnerabilityItem) bool { return v.Fixable() })
}

func (r VulnerabilityReport) Unfixable() []VulnerabilityItem {
	return r.filter(func(v VulnerabilityItem) bool { return !v.Fixable() })
}

func (r VulnerabilityReport) BySeverity(sev Severity) []VulnerabilityItem {
	return r.filter(func(v VulnerabilityItem) bool { return v.Severity == sev })
}

func (r VulnerabilityReport) filter(keep func(VulnerabilityItem) bool) []VulnerabilityItem {
	var items []VulnerabilityItem
	for _, vuln := range r.Vulnerabilities {
		if keep(vuln) {
			items = append(items, vuln)
		}
	}
	return items
}

// CVSSScores returns one score per finding, in report order.
func (r VulnerabilityReport) CVSSScores() []float64 {
	scores := make([]float64, 0, len(r.Vulnerabilities))
	for _, vuln := range r.Vulnerabilities {
		scores = append(scores, vuln.CVSSScore(r.Scanner))
	}
	return scores
}

// TopVulns returns up to n findings ordered by severity then CVSS score,
// both descending. Equal findings keep report order. n <= 0 means no limit.
func (r VulnerabilityReport) TopVulns(n int, fixableOnly bool) []VulnerabilityItem {
	items := r.Vulnerabilities
	if fixableOnly {
		items = r.Fixable()
	}
	sorted := make([]VulnerabilityItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Severity.Rank(), sorted[j].Severity.Rank()
		if si != sj {
			return si > sj
		}
		return sorted[i].CVSSScore(r.Scanner) > sorted[j].CVSSScore(r.Scanner)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
