// ABOUTME: HTTP handler for detailed vulnerability information endpoint.
// ABOUTME: Serves CVE, package and fix details of the latest collected artifacts.

package server

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/VulnLens/internal/types"

	"github.com/sirupsen/logrus"
)

const (
	maxLimit       = 10000
	maxImageFilter = 200
	maxTopCVEs     = 10
)

type VulnerabilityDataProvider interface {
	Snapshot() ([]types.ArtifactInfo, time.Time)
}

type VulnerabilitiesHandler struct {
	collector VulnerabilityDataProvider
	logger    *logrus.Logger
}

type VulnerabilitiesResponse struct {
	Empty       bool                   `json:"empty"`
	Images      []ImageVulnerabilities `json:"images"`
	Summary     VulnerabilitySummary   `json:"summary"`
	LastUpdated string                 `json:"last_updated"`
}

// ImageVulnerabilities is one collected artifact and its findings.
type ImageVulnerabilities struct {
	Image           string         `json:"image"`
	Digest          string         `json:"digest"`
	PushTime        *time.Time     `json:"push_time,omitempty"`
	Severity        string         `json:"severity"`
	Vulnerabilities map[string]int `json:"vulnerabilities"`
	Findings        []Finding      `json:"findings"`
}

type Finding struct {
	ID          string  `json:"id"`
	Severity    string  `json:"severity"`
	Package     string  `json:"package"`
	Version     string  `json:"version"`
	FixVersion  string  `json:"fix_version,omitempty"`
	Score       float64 `json:"score"`
	Description string  `json:"description,omitempty"`
	Link        string  `json:"link,omitempty"`
}

type VulnerabilitySummary struct {
	TotalImages          int            `json:"total_images"`
	TotalVulnerabilities int            `json:"total_vulnerabilities"`
	SeverityBreakdown    map[string]int `json:"severity_breakdown"`
	TopCVEs              []CVESummary   `json:"top_cves"`
}

type CVESummary struct {
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	ImageCount  int    `json:"image_count"`
	Description string `json:"description"`

	rank int
}

func NewVulnerabilitiesHandler(collector VulnerabilityDataProvider, logger *logrus.Logger) *VulnerabilitiesHandler {
	return &VulnerabilitiesHandler{
		collector: collector,
		logger:    logger,
	}
}

// validSeverities maps upper-case severity names to levels.
var validSeverities = func() map[string]types.Severity {
	valid := make(map[string]types.Severity, len(types.Severities))
	for _, sev := range types.Severities {
		valid[strings.ToUpper(sev.String())] = sev
	}
	return valid
}()

func (v *VulnerabilitiesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := v.logger.WithField("endpoint", "/vulnerabilities")

	artifacts, lastCollectionTime := v.collector.Snapshot()

	// Check for query parameters for filtering
	imageFilter := strings.TrimSpace(r.URL.Query().Get("image"))
	severityFilter := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("severity")))
	limitParam := strings.TrimSpace(r.URL.Query().Get("limit"))

	var severity types.Severity
	if severityFilter != "" {
		sev, ok := validSeverities[severityFilter]
		if !ok {
			http.Error(w, "Invalid severity filter. Must be one of: CRITICAL, HIGH, MEDIUM, LOW, NEGLIGIBLE, UNKNOWN", http.StatusBadRequest)
			return
		}
		severity = sev
	}

	// Validate and parse limit parameter
	limit := 0 // No limit by default
	if limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit parameter. Must be a positive integer", http.StatusBadRequest)
			return
		}
		if parsed > maxLimit {
			http.Error(w, "Limit parameter too large. Maximum allowed is 10000", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	// Validate image filter length to prevent potential DoS
	if len(imageFilter) > maxImageFilter {
		http.Error(w, "Image filter too long. Maximum allowed is 200 characters", http.StatusBadRequest)
		return
	}

	logger.WithFields(logrus.Fields{
		"image_filter":    imageFilter,
		"severity_filter": severityFilter,
		"limit":           limit,
		"total_images":    len(artifacts),
	}).Debug("Processing vulnerabilities request")

	filteredImages := []ImageVulnerabilities{}
	severityBreakdown := make(map[string]int)
	totalVulns := 0
	cveMap := make(map[string]*CVESummary)

	for _, info := range artifacts {
		name := info.Name()
		if imageFilter != "" && !strings.Contains(name, imageFilter) {
			continue
		}

		findings := []Finding{}
		for _, item := range info.Report.Vulnerabilities {
			if severityFilter != "" && item.Severity != severity {
				continue
			}
			findings = append(findings, newFinding(item, info.Report.Scanner))
		}

		if limit > 0 && len(findings) > limit {
			findings = findings[:limit]
		}

		if len(findings) > 0 || severityFilter == "" {
			filteredImages = append(filteredImages, ImageVulnerabilities{
				Image:           name,
				Digest:          info.Artifact.Digest,
				PushTime:        info.Artifact.PushTime,
				Severity:        info.Report.Severity.String(),
				Vulnerabilities: severityCounts(info.Report.Distribution()),
				Findings:        findings,
			})
		}

		// Statistics use the unfiltered findings of matching images
		for _, item := range info.Report.Vulnerabilities {
			severityBreakdown[item.Severity.String()]++
			totalVulns++

			if item.ID == "" {
				continue
			}
			if cve, exists := cveMap[item.ID]; exists {
				cve.ImageCount++
			} else {
				cveMap[item.ID] = &CVESummary{
					Name:        item.ID,
					Severity:    item.Severity.String(),
					ImageCount:  1,
					Description: item.Description,
					rank:        item.Severity.Rank(),
				}
			}
		}
	}

	topCVEs := topCVEs(cveMap)

	response := VulnerabilitiesResponse{
		Empty:  len(artifacts) == 0,
		Images: filteredImages,
		Summary: VulnerabilitySummary{
			TotalImages:          len(artifacts),
			TotalVulnerabilities: totalVulns,
			SeverityBreakdown:    severityBreakdown,
			TopCVEs:              topCVEs,
		},
		LastUpdated: lastCollectionTime.UTC().Format(time.RFC3339),
	}

	writeJSON(w, r, logger, response)

	logger.WithFields(logrus.Fields{
		"filtered_images": len(filteredImages),
		"total_vulns":     totalVulns,
		"top_cves":        len(topCVEs),
	}).Info("Served vulnerabilities response")
}

func newFinding(item types.VulnerabilityItem, scanner *types.Scanner) Finding {
	return Finding{
		ID:          item.ID,
		Severity:    item.Severity.String(),
		Package:     item.Package,
		Version:     item.Version,
		FixVersion:  item.FixVersion,
		Score:       item.CVSSScore(scanner),
		Description: item.Description,
		Link:        item.NVDLink(),
	}
}

func severityCounts(dist map[types.Severity]int) map[string]int {
	counts := make(map[string]int, len(dist))
	for sev, count := range dist {
		counts[sev.String()] = count
	}
	return counts
}

// topCVEs orders CVEs by the number of affected images, then severity, then
// name, and keeps the first ten.
func topCVEs(cveMap map[string]*CVESummary) []CVESummary {
	top := make([]CVESummary, 0, len(cveMap))
	for _, cve := range cveMap {
		top = append(top, *cve)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].ImageCount != top[j].ImageCount {
			return top[i].ImageCount > top[j].ImageCount
		}
		if top[i].rank != top[j].rank {
			return top[i].rank > top[j].rank
		}
		return top[i].Name < top[j].Name
	})

	if len(top) > maxTopCVEs {
		top = top[:maxTopCVEs]
	}
	return top
}

// CreateVulnerabilitiesHandler creates a standard HTTP handler
func CreateVulnerabilitiesHandler(dataProvider VulnerabilityDataProvider, logger *logrus.Logger) http.HandlerFunc {
	handler := NewVulnerabilitiesHandler(dataProvider, logger)
	return handler.ServeHTTP
}
