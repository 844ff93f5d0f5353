package device

import (
	"math"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/transform"
)

func init() {
	Register("Cavity", func(spec Spec, env Env) (beamline.Device, error) {
		opts := CavityOptions{InitAmp: 1}
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		return NewCavity(spec.Name, spec.model(), opts, env.source(spec.Name)), nil
	})
}

const (
	cavPhaseSet = "CtlPhaseSet"
	cavAmpSet   = "CtlAmpSet"
	cavAmpGoal  = "cavAmpGoal"
	cavBlank    = "BlnkBeam"
	cavPhase    = "CtlPhase"
	cavAmp      = "CtlAmp"
)

// ampEpsilon is the change in amplitude that counts as a new write.
const ampEpsilon = 1e-12

// CavityOptions configures a Cavity.
type CavityOptions struct {
	InitAmp     float64 `json:"init_amp" validate:"gte=0"`
	InitPhase   float64 `json:"init_phase"`   // degrees
	PhaseOffset float64 `json:"phase_offset"` // degrees
	AmpNoise    float64 `json:"amp_noise" validate:"gte=0"`
	PhaseNoise  float64 `json:"phase_noise" validate:"gte=0"`
}

// Cavity drives an RF cavity's amplitude and phase. CtlAmpSet and cavAmpGoal are
// coupled: writing either one copies it to the other on the next settings update.
// BlnkBeam zeroes the emitted amplitude without touching either setpoint.
type Cavity struct {
	*beamline.Base
	model  string
	oldAmp float64
}

// NewCavity creates a cavity device driving model.
func NewCavity(name, model string, opts CavityOptions, src transform.Source) *Cavity {
	c := &Cavity{Base: beamline.NewBase(name, model), model: model, oldAmp: opts.InitAmp}
	phase := transform.NewPhase(opts.PhaseOffset)
	initPhase := phase.Real(sim.Float(opts.InitPhase))

	c.RegisterSetting(cavPhaseSet, initPhase, beamline.WithTransform(phase))
	c.RegisterSetting(cavAmpSet, sim.Float(opts.InitAmp))
	c.RegisterSetting(cavAmpGoal, sim.Float(opts.InitAmp))
	c.RegisterSetting(cavBlank, sim.Int(0), beamline.WithDefinition(sim.Definition{Type: sim.TypeInt}))
	c.RegisterReadback(cavPhase, beamline.Mirrors(cavPhaseSet),
		beamline.WithTransform(phase), beamline.WithNoise(noise(opts.PhaseNoise, src)))
	c.RegisterReadback(cavAmp, beamline.Mirrors(cavAmpSet), beamline.WithNoise(noise(opts.AmpNoise, src)))
	return c
}

// UpdateSettingsFromServer ingests writes, then resolves the amplitude coupling
// against the remembered amplitude. A changed CtlAmpSet wins over a changed goal.
func (c *Cavity) UpdateSettingsFromServer(raw map[string]sim.Value) {
	c.Base.UpdateSettingsFromServer(raw)
	set, goal := c.Real(cavAmpSet), c.Real(cavAmpGoal)
	switch {
	case math.Abs(set-c.oldAmp) > ampEpsilon:
		c.oldAmp = set
		c.SetSetting(cavAmpGoal, sim.Float(set))
	case math.Abs(goal-c.oldAmp) > ampEpsilon:
		c.oldAmp = goal
		c.SetSetting(cavAmpSet, sim.Float(goal))
	}
}

// ModelOptics emits {"amp", "phase"} with amp forced to zero while blanked.
func (c *Cavity) ModelOptics() sim.ElementMap {
	amp := c.oldAmp
	if c.Blanked() {
		amp = 0
	}
	return sim.ElementMap{c.model: {
		"amp":   sim.Float(amp),
		"phase": c.Parameter(cavPhaseSet).RealValue(),
	}}
}

// Blanked reports whether BlnkBeam is set.
func (c *Cavity) Blanked() bool {
	return c.Real(cavBlank) != 0
}

// Amplitude returns the remembered amplitude setpoint.
func (c *Cavity) Amplitude() float64 { return c.oldAmp }

// Reset restores the setpoints and the remembered amplitude.
func (c *Cavity) Reset() {
	c.Base.Reset()
	c.oldAmp = c.Real(cavAmpSet)
}

// SetPhaseOffset replaces the calibration offset of the phase channels.
func (c *Cavity) SetPhaseOffset(degrees float64) {
	t := transform.NewPhase(degrees)
	c.Parameter(cavPhaseSet).SetTransform(t)
	c.Parameter(cavPhase).SetTransform(t)
	c.MarkDirty(cavPhaseSet)
}
