// Package transform holds the pure value maps between model units ("real") and
// instrument units ("raw"), and the additive noise applied to published values.
package transform

import (
	"math"

	"github.com/virtaccl/virtaccl/sim"
)

// Transform converts a value between model units and wire units.
// Implementations are stateless apart from their configuration and may be shared.
type Transform interface {
	// Raw maps a model value to its wire representation.
	Raw(x sim.Value) sim.Value
	// Real maps a wire value to its model representation.
	Real(x sim.Value) sim.Value
}

// Identity leaves values untouched.
type Identity struct{}

func (Identity) Raw(x sim.Value) sim.Value  { return x }
func (Identity) Real(x sim.Value) sim.Value { return x }

// Linear computes raw = (x+offset)*scaler and real = x/scaler - offset.
type Linear struct {
	Scaler float64
	Offset float64
}

// NewLinear returns a Linear transform.
func NewLinear(scaler, offset float64) Linear {
	return Linear{Scaler: scaler, Offset: offset}
}

func (t Linear) Raw(x sim.Value) sim.Value {
	return apply(x, func(v float64) float64 { return (v + t.Offset) * t.Scaler })
}

func (t Linear) Real(x sim.Value) sim.Value {
	return apply(x, func(v float64) float64 { return v/t.Scaler - t.Offset })
}

// LinearInverse computes raw = x*scaler + offset and real = (x-offset)/scaler.
type LinearInverse struct {
	Scaler float64
	Offset float64
}

// NewLinearInverse returns a LinearInverse transform.
func NewLinearInverse(scaler, offset float64) LinearInverse {
	return LinearInverse{Scaler: scaler, Offset: offset}
}

func (t LinearInverse) Raw(x sim.Value) sim.Value {
	return apply(x, func(v float64) float64 { return v*t.Scaler + t.Offset })
}

func (t LinearInverse) Real(x sim.Value) sim.Value {
	return apply(x, func(v float64) float64 { return (v - t.Offset) / t.Scaler })
}

// Phase wraps an inner linear map and folds its results into (-180, 180] degrees on
// the raw side and (-pi, pi] radians on the real side.
type Phase struct {
	Inner Transform
}

// NewPhase builds the usual radians-to-degrees phase map with a phase offset given
// in degrees: raw = (x + offset) * 180/pi with the offset converted to radians.
func NewPhase(offsetDeg float64) Phase {
	return Phase{Inner: NewLinear(180/math.Pi, offsetDeg*math.Pi/180)}
}

// NewPhaseInverse is NewPhase with the offset applied after scaling.
func NewPhaseInverse(offsetDeg float64) Phase {
	return Phase{Inner: NewLinearInverse(180/math.Pi, offsetDeg)}
}

func (t Phase) Raw(x sim.Value) sim.Value {
	return apply(t.Inner.Raw(x), WrapDegrees)
}

func (t Phase) Real(x sim.Value) sim.Value {
	return apply(t.Inner.Real(x), WrapRadians)
}

// NormalizePeak scales arrays so their largest element equals MaxValue. Arrays whose
// maximum is not positive become all zeros. There is no inverse; Real is the identity.
type NormalizePeak struct {
	MaxValue float64
}

func (t NormalizePeak) Raw(x sim.Value) sim.Value {
	switch v := x.(type) {
	case sim.Array:
		out := make(sim.Array, len(v))
		if len(v) == 0 {
			return out
		}
		peak := v[0]
		for _, e := range v[1:] {
			peak = max(peak, e)
		}
		if peak <= 0 {
			return out
		}
		scale := t.MaxValue / peak
		for i, e := range v {
			out[i] = e * scale
		}
		return out
	case sim.Float:
		if v <= 0 {
			return sim.Float(0)
		}
		return sim.Float(t.MaxValue)
	default:
		return x
	}
}

func (NormalizePeak) Real(x sim.Value) sim.Value { return x }

// Wrap folds x into (-period/2, period/2].
func Wrap(x, period float64) float64 {
	half := period / 2
	r := mod(mod(x, period)-half, period) - half
	if r == -half {
		return half
	}
	return r
}

// WrapDegrees folds x into (-180, 180].
func WrapDegrees(x float64) float64 { return Wrap(x, 360) }

// WrapRadians folds x into (-pi, pi].
func WrapRadians(x float64) float64 { return Wrap(x, 2*math.Pi) }

// mod is the floored modulo, always in [0, m) for m > 0.
func mod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}

func apply(x sim.Value, f func(float64) float64) sim.Value {
	switch v := x.(type) {
	case sim.Float:
		return sim.Float(f(float64(v)))
	case sim.Int:
		return sim.Float(f(float64(v)))
	case sim.Array:
		out := make(sim.Array, len(v))
		for i, e := range v {
			out[i] = f(e)
		}
		return out
	default:
		return x
	}
}
