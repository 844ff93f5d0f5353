package lattice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tracksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "va_lattice_tracks_total",
		Help: "Tracking passes by kind (full, incremental) and result",
	}, []string{"kind", "result"})

	trackedNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "va_lattice_tracked_nodes",
		Help:    "Number of lattice nodes traversed per tracking pass",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	opticWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "va_lattice_optic_writes_total",
		Help: "Parameter writes forwarded to the tracking library",
	})

	missingSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "va_lattice_missing_snapshots_total",
		Help: "Incremental tracks that fell back to the initial bunch",
	})
)
