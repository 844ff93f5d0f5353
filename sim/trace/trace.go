package trace

import (
	"slices"
	"sync"
	"time"
)

// TraceLevel controls tick tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTicks records every tick.
	TraceLevelTicks TraceLevel = "ticks"
)

var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelTicks: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// DefaultCapacity is the number of recent ticks kept when Capacity is unset.
const DefaultCapacity = 1024

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level    TraceLevel
	Capacity int // recent records retained; <= 0 means DefaultCapacity
}

// TickTrace keeps the most recent tick records plus running totals over every tick
// ever recorded. It is safe for one writer and concurrent readers.
type TickTrace struct {
	Config TraceConfig

	mu     sync.Mutex
	recent []TickRecord // ring buffer
	next   int
	totals totals
}

type totals struct {
	ticks        int
	overruns     int
	failedTracks int
	writes       int
	published    int
	elapsed      time.Duration
	maxElapsed   time.Duration
	lastTrackErr string
}

// NewTickTrace creates a TickTrace ready for recording.
func NewTickTrace(config TraceConfig) *TickTrace {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	return &TickTrace{Config: config, recent: make([]TickRecord, 0, config.Capacity)}
}

// Enabled reports whether records should be collected. Safe on a nil trace.
func (tt *TickTrace) Enabled() bool {
	return tt != nil && tt.Config.Level == TraceLevelTicks
}

// RecordTick stores r, evicting the oldest record once the buffer is full.
func (tt *TickTrace) RecordTick(r TickRecord) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if len(tt.recent) < tt.Config.Capacity {
		tt.recent = append(tt.recent, r)
	} else {
		tt.recent[tt.next] = r
	}
	tt.next = (tt.next + 1) % tt.Config.Capacity

	tt.totals.ticks++
	if r.Overrun {
		tt.totals.overruns++
	}
	if r.Failed() {
		tt.totals.failedTracks++
		tt.totals.lastTrackErr = r.TrackErr
	}
	tt.totals.writes += r.Writes
	tt.totals.published += r.Published
	tt.totals.elapsed += r.Elapsed
	tt.totals.maxElapsed = max(tt.totals.maxElapsed, r.Elapsed)
}

// Recent returns the retained records, oldest first.
func (tt *TickTrace) Recent() []TickRecord {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if len(tt.recent) < tt.Config.Capacity {
		return slices.Clone(tt.recent)
	}
	return append(slices.Clone(tt.recent[tt.next:]), tt.recent[:tt.next]...)
}
