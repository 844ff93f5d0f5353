package sim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/internal/testutil"
	"github.com/virtaccl/virtaccl/sim/trace"
)

// echoDevice drives element E with its setting S and reads back the model's m key.
type echoDevice struct {
	*beamline.Base
}

func newEchoDevice() *echoDevice {
	d := &echoDevice{Base: beamline.NewBase("D", "E")}
	d.RegisterSetting("S", sim.Float(1))
	d.RegisterMeasurement("M", beamline.WithModelKey("m"))
	d.RegisterReadback("RB", beamline.Mirrors("S"))
	return d
}

func (d *echoDevice) ModelOptics() sim.ElementMap {
	return sim.ElementMap{"E": {"k": sim.Float(d.Real("S"))}}
}

func doubler(calls *int) *sim.FuncModel {
	return sim.NewFuncModel(func(optics sim.ElementMap) (sim.ElementMap, error) {
		*calls++
		k := sim.MustFloat(optics["E"]["k"])
		return sim.ElementMap{"E": {"m": sim.Float(2 * k)}}, nil
	})
}

// stepClock advances by step on every read.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func newRig(t *testing.T, model sim.Model, cfg sim.SchedulerConfig) (*sim.Scheduler, *testutil.RecordingServer) {
	t.Helper()
	bl := beamline.New()
	require.NoError(t, bl.AddDevice(newEchoDevice()))
	srv := testutil.NewRecordingServer()
	require.NoError(t, srv.AddParameters(bl.ParameterDefinitions()))
	return sim.NewScheduler(srv, bl, model, cfg), srv
}

func TestScheduler_Tick_WritesFlowThroughModel(t *testing.T) {
	// GIVEN a beam line whose device doubles its setting through the model
	var calls int
	s, srv := newRig(t, doubler(&calls), sim.SchedulerConfig{Rate: 10})

	// WHEN the first tick runs
	s.Tick()

	// THEN the measurement reflects the default setting
	testutil.AssertValueNear(t, "D:M", 2, mustValue(t, srv, "D:M"), 1e-12)

	// WHEN a client writes the setting and another tick runs
	srv.Write("D:S", sim.Float(3))
	rec := s.Tick()

	// THEN measurement and readback follow within the same tick
	assert.Equal(t, 1, rec.Writes)
	testutil.AssertValueNear(t, "D:M", 6, mustValue(t, srv, "D:M"), 1e-12)
	testutil.AssertValueNear(t, "D:RB", 3, mustValue(t, srv, "D:RB"), 1e-12)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, srv.Flushes())
	assert.Equal(t, int64(2), s.Ticks())
}

func TestScheduler_Tick_UnchangedOpticsSkipModel(t *testing.T) {
	var calls int
	s, _ := newRig(t, doubler(&calls), sim.SchedulerConfig{})

	s.Tick()
	s.Tick()
	s.Tick()

	assert.Equal(t, 1, calls)
}

func TestScheduler_Tick_TrackFailureSkipsPublish(t *testing.T) {
	// GIVEN a model that fails its first evaluation
	fail := true
	model := sim.NewFuncModel(func(optics sim.ElementMap) (sim.ElementMap, error) {
		if fail {
			return nil, errors.New("beam lost")
		}
		return sim.ElementMap{"E": {"m": sim.Float(7)}}, nil
	})
	tt := trace.NewTickTrace(trace.TraceConfig{Level: trace.TraceLevelTicks})
	s, srv := newRig(t, model, sim.SchedulerConfig{Trace: tt})

	// WHEN the tick runs
	rec := s.Tick()

	// THEN nothing is published and the failure is recorded
	assert.True(t, rec.Failed())
	assert.Empty(t, srv.Publishes())
	assert.Zero(t, srv.Flushes())
	assert.Equal(t, "beam lost", trace.Summarize(tt).LastTrackError)

	// WHEN the model recovers
	fail = false
	rec = s.Tick()

	// THEN the retried track publishes
	assert.False(t, rec.Failed())
	testutil.AssertValueNear(t, "D:M", 7, mustValue(t, srv, "D:M"), 0)
}

func TestScheduler_Tick_SyncTimeStampsTickStart(t *testing.T) {
	tests := []struct {
		name     string
		syncTime bool
	}{
		{"server stamps", false},
		{"tick start", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int
			start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			clock := &stepClock{t: start, step: time.Millisecond}
			s, srv := newRig(t, doubler(&calls), sim.SchedulerConfig{SyncTime: tc.syncTime, Now: clock.Now})

			s.Tick()

			pubs := srv.Publishes()
			require.Len(t, pubs, 1)
			if tc.syncTime {
				assert.Equal(t, start, pubs[0].Timestamp)
			} else {
				assert.True(t, pubs[0].Timestamp.IsZero())
			}
		})
	}
}

func TestScheduler_Tick_Overrun(t *testing.T) {
	// GIVEN a 1 Hz loop whose ticks take two seconds
	var calls int
	clock := &stepClock{t: time.Unix(0, 0), step: 2 * time.Second}
	tt := trace.NewTickTrace(trace.TraceConfig{Level: trace.TraceLevelTicks})
	s, _ := newRig(t, doubler(&calls), sim.SchedulerConfig{Rate: 1, Now: clock.Now, Trace: tt})

	// WHEN a tick runs
	rec := s.Tick()

	// THEN it is flagged as an overrun
	assert.True(t, rec.Overrun)
	assert.Equal(t, 2*time.Second, rec.Elapsed)
	assert.Equal(t, 1, trace.Summarize(tt).Overruns)
}

func TestScheduler_Do_RunsHooksAtTopOfNextTick(t *testing.T) {
	// GIVEN a queued hook that writes the setting directly
	var calls int
	bl := beamline.New()
	dev := newEchoDevice()
	require.NoError(t, bl.AddDevice(dev))
	srv := testutil.NewRecordingServer()
	s := sim.NewScheduler(srv, bl, doubler(&calls), sim.SchedulerConfig{})

	ran := 0
	s.Do(func() {
		ran++
		dev.SetSetting("S", sim.Float(5))
	})

	// WHEN two ticks run
	s.Tick()
	s.Tick()

	// THEN the hook ran once, before the first optics were computed
	assert.Equal(t, 1, ran)
	testutil.AssertValueNear(t, "D:M", 10, mustValue(t, srv, "D:M"), 0)
	assert.Equal(t, 1, calls)
}

func TestScheduler_Run_StopsOnCancel(t *testing.T) {
	// GIVEN a fast loop whose server cancels the context on its third flush
	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, srv := newRig(t, doubler(&calls), sim.SchedulerConfig{Rate: 1000})
	srv.OnFlush = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	// WHEN the loop runs
	err := s.Run(ctx)

	// THEN it returns cleanly after completing the third tick
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Ticks())
}

func TestScheduler_TicksReadableWhileRunning(t *testing.T) {
	// GIVEN a fast loop running on its own goroutine
	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := newRig(t, doubler(&calls), sim.SchedulerConfig{Rate: 1000})
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// WHEN another goroutine polls the tick count
	require.Eventually(t, func() bool { return s.Ticks() >= 5 }, 5*time.Second, time.Millisecond)
	cancel()

	// THEN the loop stops and the count stays put
	require.NoError(t, <-done)
	n := s.Ticks()
	assert.GreaterOrEqual(t, n, int64(5))
	assert.Equal(t, n, s.Ticks())
}

func TestScheduler_Run_CancelledBeforeStart(t *testing.T) {
	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := newRig(t, doubler(&calls), sim.SchedulerConfig{})

	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Ticks())
}

func TestSchedulerConfig_Period(t *testing.T) {
	assert.Equal(t, time.Second, sim.SchedulerConfig{}.Period())
	assert.Equal(t, 100*time.Millisecond, sim.SchedulerConfig{Rate: 10}.Period())
	assert.Equal(t, 2*time.Second, sim.SchedulerConfig{Rate: 0.5}.Period())
}

func mustValue(t *testing.T, srv *testutil.RecordingServer, name string) sim.Value {
	t.Helper()
	v, ok := srv.Value(name)
	require.True(t, ok, "no value for %s", name)
	return v
}
