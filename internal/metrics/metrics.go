// ABOUTME: Prometheus metrics exposition for collected artifact vulnerability data.
// ABOUTME: Builds per-scrape gauges from the latest snapshot and serves them on /metrics.

package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jfeddern/VulnLens/internal/report"
	"github.com/jfeddern/VulnLens/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SnapshotProvider exposes the latest collected artifacts.
type SnapshotProvider interface {
	Snapshot() ([]types.ArtifactInfo, time.Time)
}

var artifactLabels = []string{"project", "repository", "tag", "digest"}

type MetricsHandler struct {
	collector SnapshotProvider
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger

	// serializes scrapes, which reset and refill the shared gauges
	mu sync.Mutex

	vulnerabilityCount *prometheus.GaugeVec
	fixableCount       *prometheus.GaugeVec
	cvss               *prometheus.GaugeVec
	pushTime           *prometheus.GaugeVec
	vulnerabilityInfo  *prometheus.GaugeVec
	lastCollection     prometheus.Gauge
	artifactsMonitored prometheus.Gauge
}

// NewMetricsHandler serves snapshot gauges. gatherer, when not nil, is merged
// into every scrape (typically the registry holding the Recorder).
func NewMetricsHandler(collector SnapshotProvider, gatherer prometheus.Gatherer, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		gatherer:  gatherer,
		logger:    logger,

		vulnerabilityCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_vulnerabilities",
				Help:      "Number of vulnerabilities found in an artifact by severity",
			},
			append(append([]string{}, artifactLabels...), "severity"),
		),

		fixableCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_fixable_vulnerabilities",
				Help:      "Number of vulnerabilities with a known fix in an artifact",
			},
			artifactLabels,
		),

		cvss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_cvss",
				Help:      "CVSS score statistics of an artifact's vulnerabilities",
			},
			append(append([]string{}, artifactLabels...), "statistic"),
		),

		pushTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_push_timestamp_seconds",
				Help:      "Push time of an artifact",
			},
			artifactLabels,
		),

		vulnerabilityInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vulnerability_info",
				Help:      "Vulnerability details with the CVSS score as value",
			},
			append(append([]string{}, artifactLabels...), "cve", "severity", "package", "package_version", "fix_version"),
		),

		lastCollection: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_collection_timestamp_seconds",
				Help:      "Completion time of the last vulnerability collection",
			},
		),

		artifactsMonitored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifacts_monitored",
				Help:      "Number of artifacts in the last vulnerability collection",
			},
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Create a new registry for this request to avoid conflicts
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		m.vulnerabilityCount,
		m.fixableCount,
		m.cvss,
		m.pushTime,
		m.vulnerabilityInfo,
		m.lastCollection,
		m.artifactsMonitored,
	)

	// Reset all metrics to avoid stale data
	m.vulnerabilityCount.Reset()
	m.fixableCount.Reset()
	m.cvss.Reset()
	m.pushTime.Reset()
	m.vulnerabilityInfo.Reset()

	artifacts, lastCollectionTime := m.collector.Snapshot()

	for _, info := range artifacts {
		labels := m.artifactLabelValues(info)
		if labels == nil {
			continue
		}

		for severity, count := range info.Report.Distribution() {
			m.vulnerabilityCount.WithLabelValues(append(labels, severity.String())...).Set(float64(count))
		}
		m.fixableCount.WithLabelValues(labels...).Set(float64(len(info.Report.Fixable())))

		cvss := report.CVSSOf(info)
		for statistic, value := range map[string]float64{
			"mean":   cvss.Mean,
			"median": cvss.Median,
			"stdev":  cvss.Stdev,
			"min":    cvss.Min,
			"max":    cvss.Max,
		} {
			m.cvss.WithLabelValues(append(labels, statistic)...).Set(value)
		}

		if info.Artifact.PushTime != nil {
			m.pushTime.WithLabelValues(labels...).Set(float64(info.Artifact.PushTime.Unix()))
		}

		for _, vuln := range info.Report.Vulnerabilities {
			m.vulnerabilityInfo.WithLabelValues(append(labels,
				sanitizeLabelValue(vuln.ID),
				vuln.Severity.String(),
				sanitizeLabelValue(vuln.Package),
				sanitizeLabelValue(vuln.Version),
				sanitizeLabelValue(vuln.FixVersion),
			)...).Set(vuln.CVSSScore(info.Report.Scanner))
		}
	}

	m.lastCollection.Set(float64(lastCollectionTime.Unix()))
	m.artifactsMonitored.Set(float64(len(artifacts)))

	gatherers := prometheus.Gatherers{registry}
	if m.gatherer != nil {
		gatherers = append(gatherers, m.gatherer)
	}
	handler := promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

// artifactLabelValues returns project, repository, tag and digest labels, or
// nil when the repository name cannot be split.
func (m *MetricsHandler) artifactLabelValues(info types.ArtifactInfo) []string {
	project, repo, ok := info.Repository.SplitName()
	if !ok {
		m.logger.WithField("repository", info.Repository.Name).Error("Failed to parse repository name for metrics")
		return nil
	}
	tag := ""
	if len(info.Artifact.Tags) > 0 {
		tag = info.Artifact.Tags[0].Name
	}
	return []string{
		sanitizeLabelValue(project),
		sanitizeLabelValue(repo),
		sanitizeLabelValue(tag),
		sanitizeLabelValue(info.Artifact.Digest),
	}
}

// sanitizeLabelValue cleans strings for use as Prometheus labels
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "unknown"
	}

	// Remove newlines and carriage returns
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")

	// Limit length to prevent excessive label sizes
	if len(value) > 200 {
		value = value[:200] + "..."
	}

	return strings.TrimSpace(value)
}

// CreateMetricsHandler creates a standard HTTP handler that can be used with a router
func CreateMetricsHandler(provider SnapshotProvider, gatherer prometheus.Gatherer, logger *logrus.Logger) http.HandlerFunc {
	return NewMetricsHandler(provider, gatherer, logger).ServeHTTP
}
