// Package tracker is a linear-optics particle tracker implementing the lattice
// interfaces. It stands in for a production tracking kernel: quadrupoles are thin
// lenses, correctors and bends are angle kicks, RF gaps add energy with adiabatic
// damping, and BPMs and wire scanners read centroids and profiles from the bunch.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/virtaccl/virtaccl/sim/lattice"
)

const (
	speedOfLight = 299792458.0 // m/s

	// HMinusMass is the H- rest energy in MeV.
	HMinusMass = 939.294
	// ProtonMass is the proton rest energy in MeV.
	ProtonMass = 938.272
)

// Particle coordinate columns.
const (
	ColX   = iota // m
	ColXP         // rad
	ColY          // m
	ColYP         // rad
	ColPhi        // rad, relative to the synchronous particle
	ColDE         // MeV, relative to the synchronous particle
	numCols
)

// ErrUnstable is returned when a particle leaves the aperture or a coordinate is
// no longer finite.
var ErrUnstable = errors.New("bunch is unstable")

// aperture is the transverse radius beyond which tracking fails, in meters.
const aperture = 1.0

// Bunch is a macro-particle ensemble with its synchronous particle.
type Bunch struct {
	// Particles holds one row per macro-particle, columns ColX..ColDE.
	Particles *mat.Dense
	// Energy is the synchronous kinetic energy in MeV.
	Energy float64
	// Mass is the rest energy in MeV.
	Mass float64
	// Charge is the bunch intensity relative to nominal.
	Charge float64
	// Frequency is the RF frequency in MHz.
	Frequency float64
	// Time is the synchronous particle's time of flight in seconds.
	Time float64
}

// NewBunch wraps particles (n×6) into a bunch of unit charge.
func NewBunch(particles *mat.Dense, energy, mass, frequency float64) (*Bunch, error) {
	if particles == nil {
		return nil, errors.New("bunch needs at least one particle")
	}
	r, c := particles.Dims()
	if r == 0 || c != numCols {
		return nil, fmt.Errorf("particle matrix must be n×%d with n > 0, got %d×%d", numCols, r, c)
	}
	if energy <= 0 || mass <= 0 {
		return nil, fmt.Errorf("energy and mass must be positive, got %g and %g", energy, mass)
	}
	return &Bunch{Particles: particles, Energy: energy, Mass: mass, Charge: 1, Frequency: frequency}, nil
}

// Copy returns an independent deep copy.
func (b *Bunch) Copy() lattice.Bunch {
	c := *b
	c.Particles = mat.DenseCopyOf(b.Particles)
	return &c
}

// Len returns the number of macro-particles.
func (b *Bunch) Len() int {
	r, _ := b.Particles.Dims()
	return r
}

// Gamma is the synchronous Lorentz factor.
func (b *Bunch) Gamma() float64 { return 1 + b.Energy/b.Mass }

// Beta is the synchronous velocity over c.
func (b *Bunch) Beta() float64 {
	g := b.Gamma()
	return math.Sqrt(1 - 1/(g*g))
}

// Momentum is the synchronous pc in MeV.
func (b *Bunch) Momentum() float64 {
	g := b.Gamma()
	return b.Mass * math.Sqrt(g*g-1)
}

// Rigidity is the magnetic rigidity Bρ in T·m.
func (b *Bunch) Rigidity() float64 { return b.Momentum() / 299.792458 }

// Mean returns the centroid of one coordinate column.
func (b *Bunch) Mean(col int) float64 {
	return stat.Mean(mat.Col(nil, col, b.Particles), nil)
}

// StdDev returns the rms size of one coordinate column.
func (b *Bunch) StdDev(col int) float64 {
	if b.Len() < 2 {
		return 0
	}
	return stat.StdDev(mat.Col(nil, col, b.Particles), nil)
}

func (b *Bunch) each(fn func(row []float64)) {
	raw := b.Particles.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		fn(raw.Data[i*raw.Stride : i*raw.Stride+numCols])
	}
}

func (b *Bunch) drift(length float64) {
	if length == 0 {
		return
	}
	beta, gamma := b.Beta(), b.Gamma()
	// phase slip per MeV of energy offset: dφ = -2πf·L·dE / (c·m·β³γ³)
	slip := -2 * math.Pi * b.Frequency * 1e6 * length / (speedOfLight * b.Mass * math.Pow(beta*gamma, 3))
	b.each(func(p []float64) {
		p[ColX] += length * p[ColXP]
		p[ColY] += length * p[ColYP]
		p[ColPhi] += slip * p[ColDE]
	})
	b.Time += length / (beta * speedOfLight)
}

// check reports ErrUnstable when any particle is lost or non-finite.
func (b *Bunch) check() error {
	if math.IsNaN(b.Energy) || b.Energy <= 0 {
		return fmt.Errorf("%w: synchronous energy %g MeV", ErrUnstable, b.Energy)
	}
	var bad error
	b.each(func(p []float64) {
		if bad != nil {
			return
		}
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad = fmt.Errorf("%w: non-finite coordinate", ErrUnstable)
				return
			}
		}
		if math.Abs(p[ColX]) > aperture || math.Abs(p[ColY]) > aperture {
			bad = fmt.Errorf("%w: particle outside %.1f m aperture", ErrUnstable, aperture)
		}
	})
	return bad
}

// GenerateBunch draws spec.Particles Gaussian macro-particles around spec.Center.
func GenerateBunch(spec BunchSpec, frequency float64, rng *rand.Rand) (*Bunch, error) {
	if spec.Particles <= 0 {
		return nil, fmt.Errorf("bunch needs at least one particle, got %d", spec.Particles)
	}
	center := spec.Center.vector()
	sigma := spec.Sigma.vector()
	data := make([]float64, spec.Particles*numCols)
	for i := 0; i < spec.Particles; i++ {
		for j := 0; j < numCols; j++ {
			data[i*numCols+j] = center[j] + sigma[j]*rng.NormFloat64()
		}
	}
	mass := spec.Mass
	if mass == 0 {
		mass = HMinusMass
	}
	b, err := NewBunch(mat.NewDense(spec.Particles, numCols, data), spec.Energy, mass, frequency)
	if err != nil {
		return nil, err
	}
	if spec.Charge != 0 {
		b.Charge = spec.Charge
	}
	return b, nil
}
