// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Reconciliation metrics
	NotificationsReceived *prometheus.CounterVec
	FetchesTotal          *prometheus.CounterVec
	StaleCommitsDiscarded *prometheus.CounterVec
	IdentitySwitches      prometheus.Counter
	BootstrapDuration     *prometheus.HistogramVec

	// Action metrics
	ActionsTotal *prometheus.CounterVec

	// Transport metrics
	RPCCallLatency      *prometheus.HistogramVec
	RPCCallErrors       *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge
	WSReconnects        prometheus.Counter

	// Journal metrics
	JournalWriteErrors prometheus.Counter

	// Health metrics
	LastSuccessfulBootstrap prometheus.Gauge
	LastNotification        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "blockfund"
	}

	return &Metrics{
		NotificationsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "notifications_received_total",
			Help:      "Total number of contract notifications received by kind",
		}, []string{"kind"}),
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "fetches_total",
			Help:      "Total number of snapshot field fetches by field and result",
		}, []string{"field", "result"}),
		StaleCommitsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "stale_commits_discarded_total",
			Help:      "Fetch results dropped because a fresher fetch already committed",
		}, []string{"field"}),
		IdentitySwitches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "identity_switches_total",
			Help:      "Total number of acting identity switches",
		}),
		BootstrapDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "bootstrap_duration_seconds",
			Help:      "Bootstrap phase duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "status"}),

		ActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "actions_total",
			Help:      "Total number of user actions by action and outcome",
		}, []string{"action", "outcome"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_duration_seconds",
			Help:      "JSON-RPC call latency by contract method",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed JSON-RPC calls by contract method",
		}, []string{"method"}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "active_subscriptions",
			Help:      "Current number of notification subscriptions",
		}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "ws_reconnects_total",
			Help:      "Total number of websocket reconnections",
		}),

		JournalWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Total number of journal entries that could not be stored",
		}),

		LastSuccessfulBootstrap: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_bootstrap_timestamp",
			Help:      "Unix timestamp of last successful bootstrap",
		}),
		LastNotification: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_notification_timestamp",
			Help:      "Unix timestamp of last received notification",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordNotification counts a received notification.
func RecordNotification(kind string) {
	DefaultMetrics.NotificationsReceived.WithLabelValues(kind).Inc()
	DefaultMetrics.LastNotification.SetToCurrentTime()
}

// RecordFetch counts a snapshot field fetch.
func RecordFetch(field string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.FetchesTotal.WithLabelValues(field, result).Inc()
}

// RecordStaleCommit counts a fetch result discarded by the freshness check.
func RecordStaleCommit(field string) {
	DefaultMetrics.StaleCommitsDiscarded.WithLabelValues(field).Inc()
}

// RecordIdentitySwitch counts an acting identity switch.
func RecordIdentitySwitch() {
	DefaultMetrics.IdentitySwitches.Inc()
}

// RecordBootstrapPhase records a bootstrap phase duration.
func RecordBootstrapPhase(phase string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else if phase == "contract" {
		DefaultMetrics.LastSuccessfulBootstrap.SetToCurrentTime()
	}
	DefaultMetrics.BootstrapDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// RecordAction counts a user action outcome.
func RecordAction(action, outcome string) {
	DefaultMetrics.ActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// UpdateSubscriptions adjusts the active subscriptions gauge by delta.
func UpdateSubscriptions(delta int) {
	DefaultMetrics.ActiveSubscriptions.Add(float64(delta))
}

// RecordReconnect counts a websocket reconnection.
func RecordReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordJournalError counts a failed journal write.
func RecordJournalError() {
	DefaultMetrics.JournalWriteErrors.Inc()
}
