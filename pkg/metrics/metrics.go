package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// inbound FIX traffic
	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_inbound_messages_total",
			Help: "Total number of inbound application messages by type",
		},
		[]string{"msg_type"},
	)
	ExecutionReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_execution_reports_total",
			Help: "Total number of execution reports by order status",
		},
		[]string{"status"},
	)
	UnhandledMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_unhandled_messages_total",
			Help: "Inbound messages with no reconciliation action",
		},
		[]string{"msg_type", "status"},
	)

	// reconciliation
	ReconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_reconcile_errors_total",
			Help: "Failed trading book mutations by operation",
		},
		[]string{"op"},
	)
	OpenOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fix_open_orders",
			Help: "Open orders per symbol",
		},
		[]string{"symbol"},
	)

	// outbound
	SentMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_sent_messages_total",
			Help: "Outbound application messages by type",
		},
		[]string{"msg_type"},
	)
	SendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_send_failures_total",
			Help: "Outbound messages the transport refused, by type",
		},
		[]string{"msg_type"},
	)
)

var once sync.Once

// InitMetrics registers every collector with the default registry. Safe to
// call more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(
			InboundMessagesTotal,
			ExecutionReportsTotal,
			UnhandledMessagesTotal,
			ReconcileErrorsTotal,
			OpenOrders,
			SentMessagesTotal,
			SendFailuresTotal,
		)
	})
}

// SetOpenOrders publishes the per-symbol open order counts.
func SetOpenOrders(counts map[string]int) {
	for sym, n := range counts {
		OpenOrders.WithLabelValues(sym).Set(float64(n))
	}
}
