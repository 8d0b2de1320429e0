package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inventory"

// Metrics holds the collectors exported by the service
type Metrics struct {
	Operations           *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	LowStock             *prometheus.CounterVec
	Compensations        *prometheus.CounterVec
	AuditFailures        prometheus.Counter
	SweeperReleased      prometheus.Counter
	SweeperFailures      prometheus.Counter
	PurchaseOrderApplied prometheus.Counter
	PublishFailures      prometheus.Counter
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Inventory operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of inventory operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		LowStock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_signals_total",
			Help:      "Mutations that left a record at or below its low stock threshold.",
		}, []string{"product_id"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Rollbacks triggered by partial failures, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit entries that could not be written after a successful mutation.",
		}),
		SweeperReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_released_total",
			Help:      "Expired reservations released by the sweeper.",
		}),
		SweeperFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_failures_total",
			Help:      "Expired reservations the sweeper failed to release.",
		}),
		PurchaseOrderApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_orders_applied_total",
			Help:      "Purchase orders whose received quantities were added to stock.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Inventory events that could not be published.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Operations,
			m.OperationDuration,
			m.LowStock,
			m.Compensations,
			m.AuditFailures,
			m.SweeperReleased,
			m.SweeperFailures,
			m.PurchaseOrderApplied,
			m.PublishFailures,
		)
	}
	return m
}

// NewNop returns unregistered collectors, for tests and tools
func NewNop() *Metrics {
	return New(nil)
}
