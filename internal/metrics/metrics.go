// Package metrics exposes Prometheus instrumentation for the
// authorization pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

type Pipeline struct {
	authorizeTotal  *prometheus.CounterVec
	loginRetries    prometheus.Counter
	ticketLockWait  prometheus.Histogram
	submitLatency   prometheus.Histogram
	sequenceRetries prometheus.Counter
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		authorizeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotefact",
			Subsystem: "authorizer",
			Name:      "invoices_total",
			Help:      "Invoice authorization outcomes by result code.",
		}, []string{"result"}),
		loginRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lotefact",
			Subsystem: "ticket",
			Name:      "login_retries_total",
			Help:      "Login attempts retried after a ticket-race rejection.",
		}),
		ticketLockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lotefact",
			Subsystem: "ticket",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-credential login lock.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		submitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lotefact",
			Subsystem: "authorizer",
			Name:      "submit_seconds",
			Help:      "Latency of CAE submission round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sequenceRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lotefact",
			Subsystem: "authorizer",
			Name:      "sequence_retries_total",
			Help:      "Submissions retried after a sequence-drift rejection.",
		}),
	}
}

// Methods are nil-safe so callers constructed without instrumentation
// (tests, one-off tools) need no guards.

func (p *Pipeline) IncAuthorized() {
	if p == nil {
		return
	}
	p.authorizeTotal.WithLabelValues("authorized").Inc()
}

func (p *Pipeline) IncFailed(code string) {
	if p == nil {
		return
	}
	p.authorizeTotal.WithLabelValues(code).Inc()
}

func (p *Pipeline) IncLoginRetry() {
	if p == nil {
		return
	}
	p.loginRetries.Inc()
}

func (p *Pipeline) IncSequenceRetry() {
	if p == nil {
		return
	}
	p.sequenceRetries.Inc()
}

func (p *Pipeline) ObserveLockWait(d time.Duration) {
	if p == nil {
		return
	}
	p.ticketLockWait.Observe(d.Seconds())
}

func (p *Pipeline) ObserveSubmit(d time.Duration) {
	if p == nil {
		return
	}
	p.submitLatency.Observe(d.Seconds())
}

// Module provides pipeline metrics.
var Module = fx.Module("metrics",
	fx.Provide(NewPipeline),
)
