package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trend_comb"

var (
	sourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source fetches by outcome",
		},
		[]string{"source", "outcome"}, // "cache_hit", "fresh", "stale", or an error kind
	)

	sourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of upstream provider calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"source"},
	)

	sourceBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_breaker_open",
			Help:      "1 while the source circuit breaker is open",
		},
		[]string{"source"},
	)

	aggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Feed aggregations by outcome",
		},
		[]string{"outcome"}, // "ok", "degraded", "failed"
	)

	feedItemsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_items_returned",
			Help:      "Number of items returned per feed request",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	ledgerOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Balance ledger operations by result",
		},
		[]string{"op", "result"},
	)

	publishResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_results_total",
			Help:      "Publish attempts by final state",
		},
		[]string{"state"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Background task executions by type and result",
		},
		[]string{"type", "result"},
	)
)

func ObserveSourceFetch(source, outcome string) {
	sourceFetchesTotal.WithLabelValues(source, outcome).Inc()
}

func ObserveSourceLatency(source string, d time.Duration) {
	sourceFetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func SetBreakerOpen(source string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	sourceBreakerOpen.WithLabelValues(source).Set(v)
}

func ObserveAggregation(outcome string, items int) {
	aggregationsTotal.WithLabelValues(outcome).Inc()
	if outcome != "failed" {
		feedItemsReturned.Observe(float64(items))
	}
}

func ObserveLedgerOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerOpsTotal.WithLabelValues(op, result).Inc()
}

func ObservePublish(state string) {
	publishResultsTotal.WithLabelValues(state).Inc()
}

func ObserveTask(taskType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	tasksTotal.WithLabelValues(taskType, result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
