package tracker

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/lattice"
)

// LatticeFile is the YAML lattice description.
type LatticeFile struct {
	// Frequency is the RF frequency in MHz.
	Frequency float64       `yaml:"frequency"`
	Bunch     BunchSpec     `yaml:"bunch"`
	Elements  []ElementSpec `yaml:"elements"`
}

// ElementSpec describes one lattice element. RF_CAVITY elements expand into one
// RF_GAP node per entry of Gaps.
type ElementSpec struct {
	Name     string             `yaml:"name"`
	Type     string             `yaml:"type"`
	Length   float64            `yaml:"length"`
	Params   map[string]float64 `yaml:"params"`
	Gaps     []GapSpec          `yaml:"gaps"`
	Children []ElementSpec      `yaml:"children"`
}

// GapSpec is one accelerating gap of a cavity.
type GapSpec struct {
	Length float64 `yaml:"length"`
	// E0TL is the gap voltage times transit time factor in MV.
	E0TL float64 `yaml:"e0tl"`
}

// BunchSpec describes the Gaussian initial bunch.
type BunchSpec struct {
	Energy    float64    `yaml:"energy"` // MeV
	Mass      float64    `yaml:"mass"`   // MeV, H- when zero
	Charge    float64    `yaml:"charge"` // relative, 1 when zero
	Particles int        `yaml:"particles"`
	Center    PhaseSpace `yaml:"center"`
	Sigma     PhaseSpace `yaml:"sigma"`
}

// PhaseSpace is a point or spread in the six tracked coordinates.
type PhaseSpace struct {
	X   float64 `yaml:"x"`
	XP  float64 `yaml:"xp"`
	Y   float64 `yaml:"y"`
	YP  float64 `yaml:"yp"`
	Phi float64 `yaml:"phi"`
	DE  float64 `yaml:"dE"`
}

func (p PhaseSpace) vector() [numCols]float64 {
	return [numCols]float64{p.X, p.XP, p.Y, p.YP, p.Phi, p.DE}
}

// LoadFile reads and builds a lattice description from path.
func LoadFile(path string) (*Lattice, *LatticeFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening lattice file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a lattice description strictly and builds the lattice.
func Load(r io.Reader) (*Lattice, *LatticeFile, error) {
	var lf LatticeFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil {
		return nil, nil, fmt.Errorf("parsing lattice YAML: %w", err)
	}
	l, err := Build(&lf)
	if err != nil {
		return nil, nil, err
	}
	return l, &lf, nil
}

// Build constructs the lattice described by lf.
func Build(lf *LatticeFile) (*Lattice, error) {
	if len(lf.Elements) == 0 {
		return nil, fmt.Errorf("lattice has no elements")
	}
	l := New()
	seen := make(map[string]bool)
	claim := func(spec ElementSpec) error {
		if spec.Name == "" || spec.Type == "" {
			return fmt.Errorf("element needs a name and a type: %+v", spec)
		}
		if spec.Type == TypeGap {
			return fmt.Errorf("element %s: %s nodes are created from cavity gaps", spec.Name, TypeGap)
		}
		if spec.Type == lattice.MarkerType {
			return nil
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate element name %q", spec.Name)
		}
		seen[spec.Name] = true
		return nil
	}

	for _, spec := range lf.Elements {
		if err := claim(spec); err != nil {
			return nil, err
		}
		if spec.Type == lattice.TypeCavity {
			if err := buildCavity(l, spec); err != nil {
				return nil, err
			}
			continue
		}
		n := NewNode(spec.Name, spec.Type, spec.Length, toParams(spec.Params))
		if err := buildChildren(n, spec.Children, claim); err != nil {
			return nil, err
		}
		l.Append(n)
	}
	return l, nil
}

func buildCavity(l *Lattice, spec ElementSpec) error {
	if len(spec.Gaps) == 0 {
		return fmt.Errorf("cavity %s has no gaps", spec.Name)
	}
	if len(spec.Children) > 0 {
		return fmt.Errorf("cavity %s cannot host children", spec.Name)
	}
	amp, ok := spec.Params["amp"]
	if !ok {
		amp = 1
	}
	c := NewCavity(spec.Name, amp, spec.Params["phase"])
	for i, g := range spec.Gaps {
		gap := NewNode(fmt.Sprintf("%s:g%d", spec.Name, i), TypeGap, g.Length, nil)
		c.AddGap(gap, g.E0TL)
		l.Append(gap)
	}
	return l.AddCavity(c)
}

func buildChildren(host *Node, specs []ElementSpec, claim func(ElementSpec) error) error {
	for _, spec := range specs {
		if err := claim(spec); err != nil {
			return err
		}
		if spec.Type == lattice.TypeCavity {
			return fmt.Errorf("cavity %s cannot be a child of %s", spec.Name, host.name)
		}
		child := NewNode(spec.Name, spec.Type, 0, toParams(spec.Params))
		if err := buildChildren(child, spec.Children, claim); err != nil {
			return err
		}
		if err := host.AddChild(child); err != nil {
			return err
		}
	}
	return nil
}

func toParams(m map[string]float64) sim.Params {
	out := make(sim.Params, len(m))
	for k, v := range m {
		out[k] = sim.Float(v)
	}
	return out
}
