package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Collector backed by a prometheus registry.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	assignments *prometheus.CounterVec
	scores      prometheus.Histogram
	outcomes    prometheus.Counter
	retrains    *prometheus.CounterVec
	datasetSize prometheus.Gauge
	openTasks   prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a prometheus-backed collector. A nil registerer
// falls back to the default registry; an empty namespace to "crewline".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "crewline"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "assignments_total",
			Help:      "Total task assignments by score source (model, cold_start).",
		}, []string{"source"})

		p.scores = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "assignment_score",
			Help:      "Adjusted score of the chosen candidate per assignment.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		})

		p.outcomes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "outcomes_total",
			Help:      "Total recorded task outcomes.",
		})

		p.retrains = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "retrains_total",
			Help:      "Total retrain attempts by status (trained, insufficient_data, error).",
		}, []string{"status"})

		p.datasetSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      "model_dataset_size",
			Help:      "Outcome count the active model was trained on.",
		})

		p.openTasks = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      "open_tasks",
			Help:      "Open tasks currently held across the whole team.",
		})

		p.reg.MustRegister(p.assignments)
		p.reg.MustRegister(p.scores)
		p.reg.MustRegister(p.outcomes)
		p.reg.MustRegister(p.retrains)
		p.reg.MustRegister(p.datasetSize)
		p.reg.MustRegister(p.openTasks)
	})
}

func (p *Prometheus) RecordAssignment(source string, score float64) {
	p.ensureRegistered()
	p.assignments.WithLabelValues(source).Inc()
	p.scores.Observe(score)
}

func (p *Prometheus) RecordOutcome() {
	p.ensureRegistered()
	p.outcomes.Inc()
}

func (p *Prometheus) RecordRetrain(status string) {
	p.ensureRegistered()
	p.retrains.WithLabelValues(status).Inc()
}

func (p *Prometheus) SetDatasetSize(n int) {
	p.ensureRegistered()
	p.datasetSize.Set(float64(n))
}

func (p *Prometheus) SetOpenTasks(n int) {
	p.ensureRegistered()
	p.openTasks.Set(float64(n))
}
