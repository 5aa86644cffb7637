package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	trackingStartedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetracker",
		Subsystem: "tracking",
		Name:      "periods_started_total",
		Help:      "Number of tracking periods opened.",
	})
	trackingStoppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetracker",
		Subsystem: "tracking",
		Name:      "periods_stopped_total",
		Help:      "Number of stop operations completed.",
	})
	periodsSplitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetracker",
		Subsystem: "tracking",
		Name:      "periods_split_total",
		Help:      "Number of extra period records produced by day-boundary splits.",
	})
	lastPeriodClosedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timetracker",
		Subsystem: "tracking",
		Name:      "last_period_closed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent period closed in Postgres.",
	})
)

func init() {
	prometheus.MustRegister(trackingStartedCounter, trackingStoppedCounter, periodsSplitCounter, lastPeriodClosedGauge)
}

// RecordTrackingStarted counts an opened period.
func RecordTrackingStarted() {
	trackingStartedCounter.Inc()
}

// RecordTrackingStopped counts a completed stop and any split records it produced.
func RecordTrackingStopped(records int) {
	trackingStoppedCounter.Inc()
	if records > 1 {
		periodsSplitCounter.Add(float64(records - 1))
	}
	lastPeriodClosedGauge.Set(float64(time.Now().Unix()))
}
