package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "va_scheduler_ticks_total",
		Help: "Completed scheduler ticks",
	})

	overrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "va_scheduler_overruns_total",
		Help: "Ticks that took longer than the loop period",
	})

	trackFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "va_scheduler_track_failures_total",
		Help: "Ticks whose model track failed and whose publish was skipped",
	})

	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "va_scheduler_published_values_total",
		Help: "Parameter values handed to the server",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "va_scheduler_tick_duration_seconds",
		Help:    "Wall time of one scheduler tick",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)
