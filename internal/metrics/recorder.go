// ABOUTME: Operational metrics for registry calls, retries, batches and collections.
// ABOUTME: A nil Recorder is valid and records nothing.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vulnlens"

// Recorder counts registry traffic made by the aggregation pipeline.
type Recorder struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	batches     prometheus.Counter
	collections *prometheus.CounterVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_requests_total",
				Help:      "Registry API calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registry_request_duration_seconds",
				Help:      "Latency of registry API calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_retries_total",
				Help:      "Registry calls retried after a timeout",
			},
			[]string{"operation"},
		),
		batches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_batches_total",
				Help:      "Vulnerability report batches fetched",
			},
		),
		collections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collections_total",
				Help:      "Periodic vulnerability collections by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(r.requests, r.duration, r.retries, r.batches, r.collections)
	return r
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveRequest records one registry call that started at start.
func (r *Recorder) ObserveRequest(operation string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(operation, outcome(err)).Inc()
	r.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (r *Recorder) Retry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}

func (r *Recorder) Batch() {
	if r == nil {
		return
	}
	r.batches.Inc()
}

func (r *Recorder) Collection(err error) {
	if r == nil {
		return
	}
	r.collections.WithLabelValues(outcome(err)).Inc()
}
