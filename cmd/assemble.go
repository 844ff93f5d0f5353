package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/archive"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/device"
	"github.com/virtaccl/virtaccl/sim/lattice"
	"github.com/virtaccl/virtaccl/sim/server"
	"github.com/virtaccl/virtaccl/sim/trace"
	"github.com/virtaccl/virtaccl/sim/tracker"
)

// Runtime is a fully wired simulator ready to run.
type Runtime struct {
	Options   RunOptions
	BeamLine  *beamline.BeamLine
	Model     *lattice.Controller
	Server    *server.Server
	Archive   *archive.Archive // nil without --archive
	Scheduler *sim.Scheduler
	Trace     *trace.TickTrace

	publisher sim.Server
}

// Assemble loads every configuration file and wires the beam line, the lattice
// model, the server and the scheduler. Nothing is started.
func Assemble(o RunOptions) (*Runtime, error) {
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(o.Seed))

	f, err := device.LoadFile(o.Devices)
	if err != nil {
		return nil, err
	}
	bl, err := device.Build(f, device.Env{RNG: rng})
	if err != nil {
		return nil, err
	}
	logrus.Infof("beam line: %d devices, %d settings, %d measurements, %d readbacks",
		len(bl.Devices()), len(bl.SettingNames()), len(bl.MeasurementNames()), len(bl.ReadbackNames()))

	if o.PhaseOffsets != "" {
		offsets, err := device.LoadPhaseOffsets(o.PhaseOffsets)
		if err != nil {
			return nil, err
		}
		applyOffsets(bl, offsets)
	}

	lat, lf, err := tracker.LoadFile(o.Lattice)
	if err != nil {
		return nil, err
	}
	bunch, err := tracker.GenerateBunch(lf.Bunch, lf.Frequency, rng.ForSubsystem(sim.SubsystemBunch))
	if err != nil {
		return nil, fmt.Errorf("initial bunch: %w", err)
	}
	ctrl := lattice.NewController()
	if err := ctrl.SetLattice(lat); err != nil {
		return nil, err
	}
	if err := ctrl.SetBunch(bunch); err != nil {
		return nil, fmt.Errorf("initial track: %w", err)
	}

	bl.ResetDevices()

	tt := trace.NewTickTrace(trace.TraceConfig{Level: trace.TraceLevel(o.Trace)})
	srv := server.New(o.Addr, server.WithHealth(func() any { return trace.Summarize(tt) }))
	if err := srv.AddParameters(bl.ParameterDefinitions()); err != nil {
		return nil, err
	}

	rt := &Runtime{Options: o, BeamLine: bl, Model: ctrl, Server: srv, Trace: tt, publisher: srv}
	if o.Archive != "" {
		a, err := archive.Open(o.Archive)
		if err != nil {
			return nil, err
		}
		runID, err := a.BeginRun(fmt.Sprintf("devices=%s lattice=%s seed=%d", o.Devices, o.Lattice, o.Seed), time.Now())
		if err != nil {
			a.Close()
			return nil, err
		}
		logrus.Infof("archiving run %s to %s", runID, o.Archive)
		rt.Archive = a
		rt.publisher = archive.NewRecorder(srv, a, runID, nil)
	}

	rt.Scheduler = sim.NewScheduler(rt.publisher, bl, ctrl, sim.SchedulerConfig{
		Rate:     o.Rate,
		SyncTime: o.SyncTime,
		Trace:    tt,
	})
	return rt, nil
}

// Run starts the server, then ticks until ctx is cancelled. The phase-offset file,
// when given, is watched and reloads are applied between ticks.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.close()
	if err := rt.publisher.Start(ctx); err != nil {
		return fmt.Errorf("server start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Scheduler.Run(gctx) })
	if rt.Options.PhaseOffsets != "" {
		w, err := watchPhaseOffsets(rt.Options.PhaseOffsets, func(offsets map[string]float64) {
			rt.Scheduler.Do(func() { applyOffsets(rt.BeamLine, offsets) })
		})
		if err != nil {
			logrus.Warnf("phase offsets will not be reloaded: %v", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err := g.Wait()
	stopErr := rt.publisher.Stop()
	s := trace.Summarize(rt.Trace)
	logrus.Infof("ran %d ticks: %d overruns, %d failed tracks, mean %v, max %v",
		s.Ticks, s.Overruns, s.FailedTracks, s.MeanElapsed, s.MaxElapsed)
	return errors.Join(err, stopErr)
}

func (rt *Runtime) close() {
	rt.Model.Close()
	if rt.Archive != nil {
		if err := rt.Archive.Close(); err != nil {
			logrus.Warnf("closing archive: %v", err)
		}
	}
}

func applyOffsets(bl *beamline.BeamLine, offsets map[string]float64) {
	for _, name := range bl.ApplyPhaseOffsets(offsets) {
		logrus.Warnf("phase offset for %s matches no phase device", name)
	}
	logrus.Infof("applied %d phase offsets", len(offsets))
}
