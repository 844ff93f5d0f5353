package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim/trace"
)

// DefaultRate is the loop frequency used when SchedulerConfig.Rate is unset.
const DefaultRate = 1.0 // Hz

// SchedulerConfig groups the loop's timing options.
type SchedulerConfig struct {
	Rate     float64 // ticks per second; <= 0 means DefaultRate
	SyncTime bool    // stamp publishes with the tick start instead of letting the server stamp them
	Trace    *trace.TickTrace
	Now      func() time.Time // defaults to time.Now
}

// Period is the target duration of one tick.
func (c SchedulerConfig) Period() time.Duration {
	rate := c.Rate
	if rate <= 0 {
		rate = DefaultRate
	}
	return time.Duration(float64(time.Second) / rate)
}

// Scheduler drives the settings → optics → track → measurements → publish cycle. A
// single goroutine runs it; the beam line and the model are never touched elsewhere.
type Scheduler struct {
	server   Server
	beamLine BeamLine
	model    Model
	config   SchedulerConfig
	now      func() time.Time
	tick     atomic.Int64

	mu    sync.Mutex
	hooks []func()
}

// NewScheduler wires the loop. The server is expected to be started by the caller.
func NewScheduler(server Server, beamLine BeamLine, model Model, config SchedulerConfig) *Scheduler {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{server: server, beamLine: beamLine, model: model, config: config, now: now}
}

// Do queues fn to run on the loop goroutine at the top of the next tick. Safe to call
// from any goroutine.
func (s *Scheduler) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Ticks returns the number of ticks started so far. Safe to call from any goroutine.
func (s *Scheduler) Ticks() int64 { return s.tick.Load() }

// Run ticks until ctx is cancelled. A tick in progress always completes; cancellation
// is observed between ticks and during the sleep. Returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	period := s.config.Period()
	logrus.Infof("scheduler: running at %.3g Hz (period %v, sync time %v)", 1/period.Seconds(), period, s.config.SyncTime)
	timer := time.NewTimer(period)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			logrus.Infof("scheduler: stopped after %d ticks", s.tick.Load())
			return nil
		}
		rec := s.Tick()
		remaining := period - rec.Elapsed
		if remaining <= 0 {
			continue
		}
		timer.Reset(remaining)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// Tick runs one full cycle and returns its record.
func (s *Scheduler) Tick() trace.TickRecord {
	n := s.tick.Add(1)
	start := s.now()
	rec := trace.TickRecord{Tick: n, Start: start}
	s.runHooks()

	serverPVs := s.server.Parameters()
	rec.Writes = len(serverPVs)
	s.beamLine.UpdateSettingsFromServer(serverPVs)
	s.model.UpdateOptics(s.beamLine.ModelOptics())

	if err := s.model.Track(); err != nil {
		rec.TrackErr = err.Error()
		trackFailuresTotal.Inc()
		logrus.Errorf("[tick %07d] track failed, skipping publish: %v", n, err)
	} else {
		s.beamLine.UpdateMeasurementsFromModel(s.model.Measurements())
		s.beamLine.UpdateReadbacks()
		dirty := s.beamLine.DrainForServer()
		rec.Published = len(dirty)

		var stamp time.Time
		if s.config.SyncTime {
			stamp = start
		}
		s.server.SetParameters(dirty, stamp)
		if err := s.server.Flush(); err != nil {
			logrus.Warnf("[tick %07d] flush: %v", n, err)
		}
		publishedTotal.Add(float64(rec.Published))
	}

	rec.Elapsed = s.now().Sub(start)
	period := s.config.Period()
	if rec.Elapsed > period {
		rec.Overrun = true
		overrunsTotal.Inc()
		logrus.Warnf("[tick %07d] overrun: took %v, period %v", n, rec.Elapsed, period)
	} else {
		logrus.Debugf("[tick %07d] %d writes, %d published in %v", n, rec.Writes, rec.Published, rec.Elapsed)
	}
	ticksTotal.Inc()
	tickDuration.Observe(rec.Elapsed.Seconds())
	if s.config.Trace.Enabled() {
		s.config.Trace.RecordTick(rec)
	}
	return rec
}

func (s *Scheduler) runHooks() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
