package marketdata

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedValues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_published_values_total",
		Help: "Total number of values accepted into per-index state, by data kind.",
	}, []string{"kind"})
	fanOutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketdata_fanout_latency_seconds",
		Help:    "Latency of fanning one published value out to its subscribers.",
		Buckets: prometheus.DefBuckets,
	})
	liveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketdata_live_subscriptions",
		Help: "Current number of registered live subscriptions.",
	})
	unentitledDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_unentitled_drops_total",
		Help: "Total number of live pushes dropped for lack of entitlement.",
	})
	sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_send_failures_total",
		Help: "Total number of pushes the session transport failed to accept.",
	})
)

func init() {
	prometheus.MustRegister(publishedValues, fanOutLatency, liveSubscriptions, unentitledDrops, sendFailures)
}
