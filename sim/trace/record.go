// Package trace records per-tick timing of the simulation loop.
// It has no dependency on sim/ and stores plain data.
package trace

import "time"

// TickRecord captures one pass of the scheduler loop.
type TickRecord struct {
	Tick      int64
	Start     time.Time
	Elapsed   time.Duration
	Overrun   bool
	Writes    int    // server writes ingested at the top of the tick
	Published int    // values drained and handed to the server
	TrackErr  string // empty when tracking succeeded
}

// Failed reports whether the model failed to track on this tick.
func (r TickRecord) Failed() bool { return r.TrackErr != "" }
