package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger operation metrics.
var (
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations.",
		},
		[]string{"op", "status"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Ledger operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	auditRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_rows_written_total",
		Help: "Signed audit rows appended to the trail.",
	})
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(opsTotal, opDuration, auditRowsTotal)
}

// Handler exposes the metrics endpoint for the caller's web layer to
// mount; the ledger itself serves no HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOp records one completed ledger operation.
func ObserveOp(op, status string, started time.Time) {
	opsTotal.WithLabelValues(op, status).Inc()
	opDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// CountAuditRow bumps the audit row counter.
func CountAuditRow() {
	auditRowsTotal.Inc()
}
