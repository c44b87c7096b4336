package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "licensing"

// Metrics owns a private registry so tests can build as many as they like
// without tripping duplicate registration on the default one.
type Metrics struct {
	registry *prometheus.Registry

	LicensesAllocated  prometheus.Counter
	LicensesReleased   prometheus.Counter
	AllocationFailures *prometheus.CounterVec
	Fulfillments       *prometheus.CounterVec
	OrdersCanceled     prometheus.Counter
	PaymentsCreated    prometheus.Counter
	PaymentTransitions *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec
	NotificationsSent  *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		LicensesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "licenses_allocated_total",
			Help:      "License keys marked consumed by an allocation.",
		}),
		LicensesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "licenses_released_total",
			Help:      "License keys returned to the pool.",
		}),
		AllocationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_failures_total",
			Help:      "Allocations that failed, by reason.",
		}, []string{"reason"}),
		Fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillments_total",
			Help:      "Fulfillment calls, by result status.",
		}, []string{"status"}),
		OrdersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_canceled_total",
			Help:      "Orders canceled with their licenses released.",
		}),
		PaymentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_created_total",
			Help:      "Pending payments created.",
		}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment state transitions, by target state.",
		}, []string{"to"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Periodic job executions, by job and result.",
		}, []string{"job", "result"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Relayed notifications, by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.LicensesAllocated,
		m.LicensesReleased,
		m.AllocationFailures,
		m.Fulfillments,
		m.OrdersCanceled,
		m.PaymentsCreated,
		m.PaymentTransitions,
		m.JobRuns,
		m.NotificationsSent,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
