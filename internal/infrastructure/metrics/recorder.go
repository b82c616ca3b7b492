// Package metrics records draft workflow events with Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "draft"

// Recorder implements ports.Metrics.
type Recorder struct {
	gatherer prometheus.Gatherer

	draftsWritten      *prometheus.CounterVec
	transactionsClosed *prometheus.CounterVec
	reviews            *prometheus.CounterVec
	reviewLatency      *prometheus.HistogramVec
}

// NewRecorder registers the workflow metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	return NewRecorderWith(reg, reg)
}

// NewRecorderWith registers the workflow metrics on reg. gatherer is used by
// Push and may be nil when pushing is not needed.
func NewRecorderWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,
		draftsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_written_total",
			Help:      "Total number of drafts written, by action.",
		}, []string{"action"}),
		transactionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_closed_total",
			Help:      "Total number of draft transaction scopes closed, by outcome.",
		}, []string{"outcome"}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Total number of approve and reject calls, by outcome.",
		}, []string{"outcome"}),
		reviewLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "review_duration_seconds",
			Help:      "Latency distribution for approve and reject calls.",
			Buckets: []float64{
				0.001, 0.005,
				0.01, 0.05,
				0.1, 0.5,
				1, 5, 10,
			},
		}, []string{"outcome"}),
	}
}

// DraftWritten counts a persisted draft by action.
func (r *Recorder) DraftWritten(action string) {
	r.draftsWritten.WithLabelValues(action).Inc()
}

// TransactionClosed counts the end of a draft transaction scope.
func (r *Recorder) TransactionClosed(outcome string) {
	r.transactionsClosed.WithLabelValues(outcome).Inc()
}

// ReviewFinished counts a review and observes its duration.
func (r *Recorder) ReviewFinished(outcome string, elapsed time.Duration) {
	r.reviews.WithLabelValues(outcome).Inc()
	r.reviewLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Push sends every gathered metric to a Prometheus pushgateway, replacing
// the metrics previously pushed for job.
func (r *Recorder) Push(url, job string) error {
	if r.gatherer == nil {
		return fmt.Errorf("pushing metrics: recorder has no gatherer")
	}
	if err := push.New(url, job).Gatherer(r.gatherer).Push(); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
