package device

import (
	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/transform"
)

func init() {
	Register("PowerSupply", func(spec Spec, env Env) (beamline.Device, error) {
		opts := PowerSupplyOptions{Kind: "current", Low: -1000, High: 1000}
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		return NewPowerSupply(spec.Name, opts, env.source(spec.Name)), nil
	})
}

// PowerSupplyOptions configures a PowerSupply.
type PowerSupplyOptions struct {
	// Kind is "current" (I_Set, amps) or "field" (B_Set, tesla).
	Kind  string  `json:"kind" validate:"oneof=current field"`
	Init  float64 `json:"init"`
	Low   float64 `json:"low"`
	High  float64 `json:"high" validate:"gtefield=Low"`
	Noise float64 `json:"noise" validate:"gte=0"`
}

// PowerSupply holds a setpoint and its limits for the magnets connected to it. It
// drives no model element itself.
type PowerSupply struct {
	*beamline.Base
	setpoint string
}

// NewPowerSupply creates a power supply. src feeds the book readback noise.
func NewPowerSupply(name string, opts PowerSupplyOptions, src transform.Source) *PowerSupply {
	ps := &PowerSupply{Base: beamline.NewBase(name), setpoint: "I_Set"}
	book := "I_Book"
	if opts.Kind == "field" {
		ps.setpoint, book = "B_Set", "B_Book"
	}
	ps.RegisterSetting(ps.setpoint, sim.Float(opts.Init))
	ps.RegisterSetting("Lo_Limit", sim.Float(opts.Low))
	ps.RegisterSetting("Hi_Limit", sim.Float(opts.High))
	ps.RegisterReadback(book, beamline.Mirrors(ps.setpoint), beamline.WithNoise(noise(opts.Noise, src)))
	return ps
}

// Setpoint returns the current setpoint in amps or tesla.
func (ps *PowerSupply) Setpoint() float64 { return ps.Real(ps.setpoint) }

// SetpointReason names the setpoint parameter, I_Set or B_Set.
func (ps *PowerSupply) SetpointReason() string { return ps.setpoint }

// Limits returns the low and high limits.
func (ps *PowerSupply) Limits() (float64, float64) {
	return ps.Real("Lo_Limit"), ps.Real("Hi_Limit")
}

func noise(amplitude float64, src transform.Source) transform.Noise {
	if amplitude == 0 {
		return transform.NoNoise{}
	}
	return transform.NewAbsNoise(amplitude, src)
}
