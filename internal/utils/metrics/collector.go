// internal/utils/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dlmm_bot"

// Collector держит метрики процесса в собственном реестре.
type Collector struct {
	registry *prometheus.Registry

	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	workflows           *prometheus.CounterVec
	unresolved          *prometheus.CounterVec
	workflowDuration    *prometheus.HistogramVec
	rangeExits          *prometheus.CounterVec
	reactions           *prometheus.CounterVec
	terminations        *prometheus.CounterVec
}

// NewCollector создает коллектор и регистрирует все метрики.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "submitted_total",
			Help:      "Transactions submitted by kind and status",
		}, []string{"kind", "status"}),
		transactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Time from build to confirmation, retries included",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Finished batch workflows by result",
		}, []string{"workflow", "result"}),
		unresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "unresolved_accounts_total",
			Help:      "Accounts left unresolved by a workflow",
		}, []string{"workflow"}),
		workflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Batch workflow duration",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"workflow"}),
		rangeExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "range_exits_total",
			Help:      "Positions found out of range",
		}, []string{"pool"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reactions_total",
			Help:      "Per-account monitor reactions by strategy and result",
		}, []string{"strategy", "result"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "terminations_total",
			Help:      "Monitor runs finished by reason",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.transactions,
		c.transactionDuration,
		c.workflows,
		c.unresolved,
		c.workflowDuration,
		c.rangeExits,
		c.reactions,
		c.terminations,
	)
	return c
}

// Registry returns the registry behind the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveTransaction records one finished submission.
func (c *Collector) ObserveTransaction(kind string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.transactions.WithLabelValues(kind, status).Inc()
	c.transactionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Reset zeroes every vector.
func (c *Collector) Reset() {
	for _, v := range []*prometheus.CounterVec{c.transactions, c.workflows, c.unresolved, c.rangeExits, c.reactions, c.terminations} {
		v.Reset()
	}
	c.transactionDuration.Reset()
	c.workflowDuration.Reset()
}
