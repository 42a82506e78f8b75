package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for ingestion, classification, and simulation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RowsImported       prometheus.Counter
	RowsRejected       prometheus.Counter
	BatchesFlushed     prometheus.Counter
	ImportsTotal       *prometheus.CounterVec
	ImportDuration     prometheus.Histogram
	Classifications    *prometheus.CounterVec
	SimulationsTotal   *prometheus.CounterVec
	SimulationDuration prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdm_rows_imported_total",
			Help: "Total CDM rows accepted and persisted by ingestion.",
		}),
		RowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdm_rows_rejected_total",
			Help: "Total CDM rows skipped as malformed.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdm_batches_flushed_total",
			Help: "Total batched writes issued by ingestion.",
		}),
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdm_imports_total",
			Help: "Total imports by final status.",
		}, []string{"status"}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdm_import_duration_seconds",
			Help:    "Duration of imports in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdm_classifications_total",
			Help: "Events classified, by resulting lane.",
		}, []string{"lane"}),
		SimulationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdm_simulations_total",
			Help: "Monte Carlo refinements by outcome.",
		}, []string{"outcome"}),
		SimulationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdm_simulation_duration_seconds",
			Help:    "Duration of Monte Carlo refinements in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}),
	}

	reg.MustRegister(
		m.RowsImported,
		m.RowsRejected,
		m.BatchesFlushed,
		m.ImportsTotal,
		m.ImportDuration,
		m.Classifications,
		m.SimulationsTotal,
		m.SimulationDuration,
	)
	return m
}

func (m *Metrics) observeBatch(rows int) {
	if m == nil {
		return
	}
	m.BatchesFlushed.Inc()
	m.RowsImported.Add(float64(rows))
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.RowsRejected.Inc()
}

func (m *Metrics) observeImport(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues(status).Inc()
	m.ImportDuration.Observe(d.Seconds())
}

func (m *Metrics) observeLanes(events []Event) {
	if m == nil {
		return
	}
	for i := range events {
		m.Classifications.WithLabelValues(events[i].Lane.String()).Inc()
	}
}

func (m *Metrics) observeSimulation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SimulationsTotal.WithLabelValues(outcome).Inc()
	m.SimulationDuration.Observe(d.Seconds())
}
