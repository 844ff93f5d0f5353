package archive

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim"
)

type batch struct {
	values map[string]sim.Value
	ts     time.Time
}

// Recorder wraps a sim.Server and archives every value it publishes. Batches are
// written at Flush, after the wrapped server has made them visible. Archive failures
// are logged and never reach the loop.
type Recorder struct {
	sim.Server
	archive *Archive
	runID   string
	now     func() time.Time
	pending []batch
	written int
}

// NewRecorder wraps inner. Publishes without a timestamp are archived at now().
func NewRecorder(inner sim.Server, a *Archive, runID string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{Server: inner, archive: a, runID: runID, now: now}
}

// RunID returns the id samples are archived under.
func (r *Recorder) RunID() string { return r.runID }

// Written returns the number of samples archived so far.
func (r *Recorder) Written() int { return r.written }

func (r *Recorder) SetParameters(values map[string]sim.Value, timestamp time.Time) {
	r.Server.SetParameters(values, timestamp)
	if len(values) == 0 {
		return
	}
	ts := timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	cp := make(map[string]sim.Value, len(values))
	for k, v := range values {
		cp[k] = v
	}
	r.pending = append(r.pending, batch{values: cp, ts: ts})
}

func (r *Recorder) Flush() error {
	err := r.Server.Flush()
	for _, b := range r.pending {
		if aerr := r.archive.Record(r.runID, b.values, b.ts); aerr != nil {
			logrus.Warnf("archive: %v", aerr)
			continue
		}
		r.written += len(b.values)
	}
	r.pending = r.pending[:0]
	return err
}
