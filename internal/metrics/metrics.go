// Package metrics exposes Prometheus counters for vault operations.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "operations_total",
			Help:      "Vault operations by name and outcome.",
		},
		[]string{"op", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Name:      "operation_duration_seconds",
			Help:      "Vault operation latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	integrityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docvault",
		Name:      "integrity_failures_total",
		Help:      "Decryptions or hash checks that failed.",
	})

	grantDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "grant_denials_total",
			Help:      "Token validations refused, by reason.",
		},
		[]string{"reason"},
	)

	auditAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docvault",
		Name:      "audit_append_failures_total",
		Help:      "Audit entries that could not be written.",
	})
)

// Register adds the vault collectors to reg once. A nil reg means the
// default registry.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(operationsTotal, operationDuration, integrityFailures, grantDenials, auditAppendFailures)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records one finished operation started at start.
func ObserveOperation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(common.KindOf(err))
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func IntegrityFailure() { integrityFailures.Inc() }

func GrantDenied(reason string) { grantDenials.WithLabelValues(reason).Inc() }

func AuditAppendFailed() { auditAppendFailures.Inc() }
