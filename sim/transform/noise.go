package transform

import (
	"math/rand"

	"github.com/virtaccl/virtaccl/sim"
)

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Noise perturbs a value on its way to the wire.
type Noise interface {
	Add(x sim.Value) sim.Value
}

// NoNoise is the identity perturbation.
type NoNoise struct{}

func (NoNoise) Add(x sim.Value) sim.Value { return x }

// AbsNoise adds amplitude*(U[0,1) - 0.5), i.e. symmetric noise bounded by amplitude/2.
type AbsNoise struct {
	Amplitude float64
	Source    Source
}

// NewAbsNoise returns symmetric noise drawing from src. A nil src uses the global source.
func NewAbsNoise(amplitude float64, src Source) AbsNoise {
	return AbsNoise{Amplitude: amplitude, Source: orGlobal(src)}
}

func (n AbsNoise) Add(x sim.Value) sim.Value {
	src := orGlobal(n.Source)
	return perturb(x, func() float64 { return n.Amplitude * (src.Float64() - 0.5) })
}

// PositiveNoise adds amplitude*U[0,1).
type PositiveNoise struct {
	Amplitude float64
	Source    Source
}

// NewPositiveNoise returns one-sided noise drawing from src.
func NewPositiveNoise(amplitude float64, src Source) PositiveNoise {
	return PositiveNoise{Amplitude: amplitude, Source: orGlobal(src)}
}

func (n PositiveNoise) Add(x sim.Value) sim.Value {
	src := orGlobal(n.Source)
	return perturb(x, func() float64 { return n.Amplitude * src.Float64() })
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

func orGlobal(src Source) Source {
	if src == nil {
		return globalSource{}
	}
	return src
}

// perturb draws independently for every array element.
func perturb(x sim.Value, draw func() float64) sim.Value {
	switch v := x.(type) {
	case sim.Float:
		return sim.Float(float64(v) + draw())
	case sim.Int:
		return sim.Float(float64(v) + draw())
	case sim.Array:
		out := make(sim.Array, len(v))
		for i, e := range v {
			out[i] = e + draw()
		}
		return out
	default:
		return x
	}
}
