package trace

import "time"

// TraceSummary aggregates statistics from a TickTrace.
type TraceSummary struct {
	Ticks          int           `json:"ticks"`
	Overruns       int           `json:"overruns"`
	FailedTracks   int           `json:"failed_tracks"`
	Writes         int           `json:"writes"`
	Published      int           `json:"published"`
	MeanElapsed    time.Duration `json:"mean_elapsed_ns"`
	MaxElapsed     time.Duration `json:"max_elapsed_ns"`
	LastTrackError string        `json:"last_track_error,omitempty"`
}

// Summarize computes aggregate statistics over every tick recorded.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(tt *TickTrace) *TraceSummary {
	summary := &TraceSummary{}
	if tt == nil {
		return summary
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t := tt.totals
	summary.Ticks = t.ticks
	summary.Overruns = t.overruns
	summary.FailedTracks = t.failedTracks
	summary.Writes = t.writes
	summary.Published = t.published
	summary.MaxElapsed = t.maxElapsed
	if t.ticks > 0 {
		summary.MeanElapsed = t.elapsed / time.Duration(t.ticks)
	}
	summary.LastTrackError = t.lastTrackErr
	return summary
}
