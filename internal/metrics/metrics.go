// Package metrics holds the Prometheus collectors shared by litewatch
// packages. Collectors register with the default registry on init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for operation outcomes.
const (
	Fail = "fail"
	Ok   = "ok"
)

var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "litewatch_operations_total",
		Help: "Cumulative number of executor operations, by operation and outcome.",
	}, []string{"op", "status"})
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "litewatch_operation_duration_seconds",
		Help:    "Time spent running executor operations, excluding queue wait.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})
	QueueWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "litewatch_queue_wait_seconds",
		Help:    "Time operations spent queued behind other operations.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	StatementsPreparedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "litewatch_statements_prepared_total",
		Help: "Cumulative number of statements compiled and added to a statement cache.",
	})
	ChangeFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "litewatch_change_flushes_total",
		Help: "Cumulative number of change accumulator flushes that dispatched at least one table.",
	})
	ChangeNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "litewatch_change_notifications_total",
		Help: "Cumulative number of per-table change notifications dispatched.",
	})
	OpenDatabases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "litewatch_open_databases",
		Help: "Number of currently open databases.",
	})
)
