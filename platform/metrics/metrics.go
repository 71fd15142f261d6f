package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager holds the service's Prometheus metrics on its own registry.
type Manager struct {
	Registry *prometheus.Registry

	PublicationsTotal    prometheus.Counter
	PublishFailuresTotal *prometheus.CounterVec
	ConflictRetriesTotal prometheus.Counter
	PublishDuration      prometheus.Histogram
}

func NewManager(serviceName string) *Manager {
	registry := prometheus.NewRegistry()

	publicationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: serviceName,
		Name:      "publications_total",
		Help:      "Total number of listings published successfully.",
	})
	publishFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: serviceName,
		Name:      "publish_failures_total",
		Help:      "Total number of failed publications by reason.",
	}, []string{"reason"})
	conflictRetriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: serviceName,
		Name:      "publish_conflict_retries_total",
		Help:      "Total number of transaction attempts retried after a conflicting commit.",
	})
	publishDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: serviceName,
		Name:      "publish_duration_seconds",
		Help:      "End-to-end publication latency, upload included.",
		Buckets:   prometheus.DefBuckets,
	})

	registry.MustRegister(publicationsTotal, publishFailuresTotal, conflictRetriesTotal, publishDuration)

	return &Manager{
		Registry:             registry,
		PublicationsTotal:    publicationsTotal,
		PublishFailuresTotal: publishFailuresTotal,
		ConflictRetriesTotal: conflictRetriesTotal,
		PublishDuration:      publishDuration,
	}
}

// Handler exposes the registry for scraping; the embedding process decides
// where to mount it.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
