package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "foundry_chat"

// Metrics holds the session counters. It implements chat.Observer.
type Metrics struct {
	// ProvisioningTotal counts EnsureModelReady calls. Labels: outcome (ok, error)
	ProvisioningTotal *prometheus.CounterVec

	// DownloadsTotal counts model downloads started by provisioning.
	DownloadsTotal prometheus.Counter

	// ModelLoadSeconds measures the load call alone, without download.
	ModelLoadSeconds prometheus.Histogram

	// SendsTotal counts sends. Labels: outcome (ok, rejected, error)
	SendsTotal *prometheus.CounterVec

	// StreamFragmentsTotal counts forwarded non-empty fragments.
	StreamFragmentsTotal prometheus.Counter

	// AugmentationsTotal counts web search attempts. Labels: outcome (ok, unavailable)
	AugmentationsTotal *prometheus.CounterVec
}

// NewMetrics registers the session metrics on reg. A nil reg uses a private
// registry, so several sessions can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		ProvisioningTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provisioning_total",
			Help:      "Model provisioning attempts by outcome",
		}, []string{"outcome"}),
		DownloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloads_total",
			Help:      "Model downloads started during provisioning",
		}),
		ModelLoadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "model_load_seconds",
			Help:      "Duration of model load calls",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sends_total",
			Help:      "Chat sends by outcome",
		}, []string{"outcome"}),
		StreamFragmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_fragments_total",
			Help:      "Non-empty completion fragments forwarded to the result stream",
		}),
		AugmentationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "augmentations_total",
			Help:      "Web search augmentations by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SendFinished(outcome string) {
	m.SendsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FragmentForwarded() {
	m.StreamFragmentsTotal.Inc()
}

func (m *Metrics) Augmented(outcome string) {
	m.AugmentationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) provisioned(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProvisioningTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeLoad(start time.Time) {
	m.ModelLoadSeconds.Observe(time.Since(start).Seconds())
}
