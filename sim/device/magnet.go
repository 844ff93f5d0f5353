package device

import (
	"math"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/transform"
)

func init() {
	Register("Quadrupole", func(spec Spec, env Env) (beamline.Device, error) {
		opts := QuadrupoleOptions{Polarity: 1, Coefficients: []float64{0, 1}}
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		ps, err := env.powerSupply(spec)
		if err != nil {
			return nil, err
		}
		return NewQuadrupole(spec.Name, spec.model(), ps, opts, env.source(spec.Name)), nil
	})
	Register("Corrector", func(spec Spec, env Env) (beamline.Device, error) {
		opts := CorrectorOptions{Polarity: 1}
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		ps, err := env.powerSupply(spec)
		if err != nil {
			return nil, err
		}
		return NewCorrector(spec.Name, spec.model(), ps, opts, env.source(spec.Name)), nil
	})
}

// QuadrupoleOptions configures a Quadrupole.
type QuadrupoleOptions struct {
	Polarity int `json:"polarity" validate:"oneof=-1 1"`
	// Coefficients of the excitation polynomial g(I) = c0 + c1·I + c2·I² + ...
	Coefficients []float64 `json:"coefficients" validate:"required,min=1"`
	Noise        float64   `json:"noise" validate:"gte=0"`
}

// Quadrupole turns its power supply setpoint into a field gradient.
type Quadrupole struct {
	*beamline.Base
	ps    *PowerSupply
	model string
	opts  QuadrupoleOptions
	field float64
}

// NewQuadrupole creates a quadrupole driving model from ps.
func NewQuadrupole(name, model string, ps *PowerSupply, opts QuadrupoleOptions, src transform.Source) *Quadrupole {
	q := &Quadrupole{Base: beamline.NewBase(name, model), ps: ps, model: model, opts: opts}
	q.Connect(ps)
	q.RegisterReadback("B",
		beamline.WithReadbackFunc(func() sim.Value { return sim.Float(math.Abs(q.field)) }),
		beamline.WithNoise(noise(opts.Noise, src)))
	return q
}

// ModelOptics emits {"dB/dr": -polarity·g(I)}.
func (q *Quadrupole) ModelOptics() sim.ElementMap {
	q.field = -float64(q.opts.Polarity) * polynomial(q.opts.Coefficients, q.ps.Setpoint())
	return sim.ElementMap{q.model: {"dB/dr": sim.Float(q.field)}}
}

// Field returns the gradient computed on the last ModelOptics call.
func (q *Quadrupole) Field() float64 { return q.field }

func polynomial(coeffs []float64, x float64) float64 {
	var y float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*x + coeffs[i]
	}
	return y
}

// CorrectorOptions configures a Corrector.
type CorrectorOptions struct {
	Polarity int     `json:"polarity" validate:"oneof=-1 1"`
	Noise    float64 `json:"noise" validate:"gte=0"`
}

// Corrector applies its power supply field, clamped to the supply limits.
type Corrector struct {
	*beamline.Base
	ps       *PowerSupply
	model    string
	polarity float64
	field    float64
}

// NewCorrector creates a dipole corrector driving model from ps.
func NewCorrector(name, model string, ps *PowerSupply, opts CorrectorOptions, src transform.Source) *Corrector {
	c := &Corrector{Base: beamline.NewBase(name, model), ps: ps, model: model, polarity: float64(opts.Polarity)}
	c.Connect(ps)
	c.RegisterReadback("B",
		beamline.WithReadbackFunc(func() sim.Value { return sim.Float(c.field) }),
		beamline.WithNoise(noise(opts.Noise, src)))
	return c
}

// ModelOptics emits {"B": polarity·clamp(setpoint)}.
func (c *Corrector) ModelOptics() sim.ElementMap {
	lo, hi := c.ps.Limits()
	c.field = c.polarity * math.Min(math.Max(c.ps.Setpoint(), lo), hi)
	return sim.ElementMap{c.model: {"B": sim.Float(c.field)}}
}

// Field returns the field computed on the last ModelOptics call.
func (c *Corrector) Field() float64 { return c.field }
