package device

import (
	"math"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/transform"
)

func init() {
	Register("BPM", func(spec Spec, env Env) (beamline.Device, error) {
		opts := BPMOptions{
			PositionNoise:        1e-3,
			PhaseNoise:           0.1,
			AmpNoise:             1e-3,
			DisconnectBelow:      1e-6,
			DisconnectPosNoise:   1e-4,
			DisconnectPhaseNoise: 1e-2,
		}
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		var disconnect transform.Source
		if env.RNG != nil {
			disconnect = env.RNG.ForSubsystem(sim.SubsystemDisconnect)
		}
		return NewBPM(spec.Name, spec.model(), opts, env.source(spec.Name), disconnect), nil
	})
}

const (
	bpmX     = "xAvg"
	bpmY     = "yAvg"
	bpmPhase = "phaseAvg"
	bpmAmp   = "amplitudeAvg"
)

// BPMOptions configures a BPM. Noise amplitudes are in wire units (mm, degrees).
type BPMOptions struct {
	PhaseOffset   float64 `json:"phase_offset"`
	PositionNoise float64 `json:"position_noise" validate:"gte=0"`
	PhaseNoise    float64 `json:"phase_noise" validate:"gte=0"`
	AmpNoise      float64 `json:"amp_noise" validate:"gte=0"`
	// DisconnectBelow is the model amplitude under which the signal reads as disconnected.
	DisconnectBelow float64 `json:"disconnect_below" validate:"gte=0"`
	// Noise substituted for a disconnected signal, in model units (m, rad).
	DisconnectPosNoise   float64 `json:"disconnect_position_noise" validate:"gte=0"`
	DisconnectPhaseNoise float64 `json:"disconnect_phase_noise" validate:"gte=0"`
}

// BPM publishes beam position, phase and amplitude read at its model element.
type BPM struct {
	*beamline.Base
	opts       BPMOptions
	disconnect transform.Source
}

// NewBPM creates a beam position monitor reading model. src feeds the channel noise
// and disconnect feeds the noise substituted when the beam is absent.
func NewBPM(name, model string, opts BPMOptions, src, disconnect transform.Source) *BPM {
	b := &BPM{Base: beamline.NewBase(name, model), opts: opts, disconnect: disconnect}
	mm := transform.NewLinear(1000, 0)
	b.RegisterSetting("OEDA", sim.Float(0))
	b.RegisterMeasurement(bpmX, beamline.WithModelKey("x_avg"),
		beamline.WithTransform(mm), beamline.WithNoise(noise(opts.PositionNoise, src)))
	b.RegisterMeasurement(bpmY, beamline.WithModelKey("y_avg"),
		beamline.WithTransform(mm), beamline.WithNoise(noise(opts.PositionNoise, src)))
	b.RegisterMeasurement(bpmPhase, beamline.WithModelKey("phi_avg"),
		beamline.WithTransform(transform.NewPhase(opts.PhaseOffset)), beamline.WithNoise(noise(opts.PhaseNoise, src)))
	b.RegisterMeasurement(bpmAmp, beamline.WithModelKey("amp_avg"),
		beamline.WithNoise(noise(opts.AmpNoise, src)))
	return b
}

// UpdateMeasurements reads the model and, when the amplitude is below the disconnect
// threshold, replaces position and phase with small uniform noise.
func (b *BPM) UpdateMeasurements(measurements sim.ElementMap) {
	b.Base.UpdateMeasurements(measurements)
	if math.Abs(b.Real(bpmAmp)) >= b.opts.DisconnectBelow {
		return
	}
	pos := noise(b.opts.DisconnectPosNoise, b.disconnect)
	phase := noise(b.opts.DisconnectPhaseNoise, b.disconnect)
	b.UpdateMeasurement(bpmX, pos.Add(sim.Float(0)))
	b.UpdateMeasurement(bpmY, pos.Add(sim.Float(0)))
	b.UpdateMeasurement(bpmPhase, phase.Add(sim.Float(0)))
}

// SetPhaseOffset replaces the calibration offset of the phase channel.
func (b *BPM) SetPhaseOffset(degrees float64) {
	b.Parameter(bpmPhase).SetTransform(transform.NewPhase(degrees))
	b.MarkDirty(bpmPhase)
}
