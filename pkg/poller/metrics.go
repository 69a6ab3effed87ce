package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tubestatus",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Total poll ticks started",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tubestatus",
		Subsystem: "poller",
		Name:      "tick_duration_seconds",
		Help:      "Time to fetch all feeds and apply their transitions",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// Labels: feed, class (fetch, parse, connection, transaction, cancelled, unknown)
	feedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tubestatus",
		Subsystem: "poller",
		Name:      "errors_total",
		Help:      "Poll failures by feed and error class",
	}, []string{"feed", "class"})

	// Labels: family, kind (opened, replaced, closed)
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tubestatus",
		Subsystem: "poller",
		Name:      "transitions_total",
		Help:      "Interval changes written by the poller",
	}, []string{"family", "kind"})
)
