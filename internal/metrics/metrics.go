package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Collected  prometheus.Counter
	Rejected   prometheus.Counter
	Dropped    prometheus.Counter
	Frames     *prometheus.CounterVec
	Cycles     prometheus.Counter
	CycleSize  prometheus.Histogram
	SinkErrors *prometheus.CounterVec
	SinkTime   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rflocate",
			Name:      "observations_collected_total",
			Help:      "Observations handed to the aggregation stage",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rflocate",
			Name:      "observations_rejected_total",
			Help:      "Reported emitters whose identity could not be built",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rflocate",
			Name:      "observations_dropped_total",
			Help:      "Observations dropped because the handoff queue was full",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rflocate",
			Name:      "collector_frames_total",
			Help:      "Frames read by the collector, by protocol",
		}, []string{"protocol"}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rflocate",
			Name:      "cycles_closed_total",
			Help:      "Aggregation cycles closed",
		}),
		CycleSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rflocate",
			Name:      "cycle_size",
			Help:      "Observations per closed cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rflocate",
			Name:      "sink_errors_total",
			Help:      "Errors returned by cycle sinks",
		}, []string{"sink"}),
		SinkTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rflocate",
			Name:      "sink_duration_seconds",
			Help:      "Time spent in each sink per cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
	}
	if reg != nil {
		reg.MustRegister(m.Collected, m.Rejected, m.Dropped, m.Frames, m.Cycles, m.CycleSize, m.SinkErrors, m.SinkTime)
	}
	return m
}
