package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_NilTrace_ReturnsZeroSummary(t *testing.T) {
	summary := Summarize(nil)
	assert.Equal(t, &TraceSummary{}, summary)
}

func TestSummarize_EmptyTrace_ReturnsZeroSummary(t *testing.T) {
	summary := Summarize(NewTickTrace(TraceConfig{Level: TraceLevelTicks}))
	assert.Zero(t, summary.Ticks)
	assert.Zero(t, summary.MeanElapsed)
}

func TestSummarize_AggregatesTicks(t *testing.T) {
	// GIVEN four ticks, one overrun and one failed track
	tt := NewTickTrace(TraceConfig{Level: TraceLevelTicks})
	tt.RecordTick(TickRecord{Tick: 1, Elapsed: 10 * time.Millisecond, Writes: 1, Published: 4})
	tt.RecordTick(TickRecord{Tick: 2, Elapsed: 30 * time.Millisecond, TrackErr: "beam lost"})
	tt.RecordTick(TickRecord{Tick: 3, Elapsed: 120 * time.Millisecond, Overrun: true, Published: 2})
	tt.RecordTick(TickRecord{Tick: 4, Elapsed: 40 * time.Millisecond, Writes: 3, Published: 1})

	// WHEN summarized
	summary := Summarize(tt)

	// THEN totals cover every tick
	assert.Equal(t, 4, summary.Ticks)
	assert.Equal(t, 1, summary.Overruns)
	assert.Equal(t, 1, summary.FailedTracks)
	assert.Equal(t, 4, summary.Writes)
	assert.Equal(t, 7, summary.Published)
	assert.Equal(t, 50*time.Millisecond, summary.MeanElapsed)
	assert.Equal(t, 120*time.Millisecond, summary.MaxElapsed)
	assert.Equal(t, "beam lost", summary.LastTrackError)
}

func TestSummarize_CountsEvictedTicks(t *testing.T) {
	// GIVEN a small buffer overflowed by failed ticks
	tt := NewTickTrace(TraceConfig{Level: TraceLevelTicks, Capacity: 2})
	for i := int64(1); i <= 6; i++ {
		tt.RecordTick(TickRecord{Tick: i, TrackErr: "x"})
	}

	// THEN totals still include evicted records
	summary := Summarize(tt)
	assert.Equal(t, 6, summary.Ticks)
	assert.Equal(t, 6, summary.FailedTracks)
	assert.Len(t, tt.Recent(), 2)
}
