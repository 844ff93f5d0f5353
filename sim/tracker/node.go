package tracker

import (
	"fmt"
	"math"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/lattice"
	"github.com/virtaccl/virtaccl/sim/transform"
)

// Node types understood by the tracker besides the lattice registry tags.
const (
	TypeDrift = "DRIFT"
	TypeGap   = "RF_GAP"
)

const (
	defaultKickLength = 0.1  // m, effective length of a corrector without "L"
	wireWidth         = 1e-4 // m, rms width of the wire scanner response
)

// Node is one lattice node or a child attached to one.
type Node struct {
	name     string
	typ      string
	pos      float64
	length   float64
	params   sim.Params
	children []lattice.Node
	hooks    []lattice.EntryHook

	cavity *Cavity
	e0tl   float64 // MV, gap voltage times transit time factor

	designTime  float64
	designField float64
}

// NewNode creates a node with the default parameters of its type overlaid by params.
func NewNode(name, typ string, length float64, params sim.Params) *Node {
	n := &Node{name: name, typ: typ, length: length, params: defaultParams(typ)}
	for k, v := range params {
		n.params[k] = v
	}
	return n
}

func defaultParams(typ string) sim.Params {
	switch typ {
	case lattice.TypeQuad:
		return sim.Params{"dB/dr": sim.Float(0)}
	case lattice.TypeHCorrector, lattice.TypeVCorrector, lattice.TypeBend:
		return sim.Params{"B": sim.Float(0), "L": sim.Float(defaultKickLength)}
	case lattice.TypeBPM:
		return sim.Params{"x_avg": sim.Float(0), "y_avg": sim.Float(0), "phi_avg": sim.Float(0), "amp_avg": sim.Float(0)}
	case lattice.TypeWire:
		return sim.Params{"position": sim.Float(0), "speed": sim.Float(0), "x_signal": sim.Float(0), "y_signal": sim.Float(0)}
	default:
		return sim.Params{}
	}
}

func (n *Node) Name() string      { return n.name }
func (n *Node) Type() string      { return n.typ }
func (n *Node) Position() float64 { return n.pos }

// Length is the node length in meters.
func (n *Node) Length() float64 { return n.length }

func (n *Node) Params() sim.Params {
	out := make(sim.Params, len(n.params))
	for k, v := range n.params {
		out[k] = v
	}
	return out
}

// SetParam replaces an existing parameter. Unknown keys and non-numeric values are
// rejected.
func (n *Node) SetParam(key string, v sim.Value) error {
	if _, ok := n.params[key]; !ok {
		return fmt.Errorf("node %s has no parameter %q", n.name, key)
	}
	if _, ok := sim.AsFloat(v); !ok {
		return fmt.Errorf("node %s parameter %q must be numeric, got %v", n.name, key, v)
	}
	n.params[key] = v
	return nil
}

func (n *Node) Children() []lattice.Node { return n.children }

// AddChild attaches child, which must be a *Node.
func (n *Node) AddChild(child lattice.Node) error {
	c, ok := child.(*Node)
	if !ok {
		return fmt.Errorf("unsupported child node %T", child)
	}
	c.pos = n.pos
	n.children = append(n.children, c)
	return nil
}

func (n *Node) AddEntryHook(h lattice.EntryHook) { n.hooks = append(n.hooks, h) }

func (n *Node) RemoveEntryHook(h lattice.EntryHook) {
	for i, x := range n.hooks {
		if x == h {
			n.hooks = append(n.hooks[:i], n.hooks[i+1:]...)
			return
		}
	}
}

func (n *Node) float(key string) float64 {
	f, _ := sim.AsFloat(n.params[key])
	return f
}

// track runs entry hooks, then children, then the node body. Hooks are skipped on the
// design pass.
func (n *Node) track(b *Bunch, design bool) error {
	if !design {
		for _, h := range n.hooks {
			h.OnEntry(b)
		}
	}
	for _, c := range n.children {
		if err := c.(*Node).track(b, design); err != nil {
			return err
		}
	}
	if design {
		n.designTime = b.Time
		n.designField = n.float("B")
	}
	switch n.typ {
	case lattice.TypeQuad:
		n.quad(b)
	case lattice.TypeHCorrector:
		n.kick(b, ColXP, n.float("B"))
	case lattice.TypeVCorrector:
		n.kick(b, ColYP, n.float("B"))
	case lattice.TypeBend:
		n.kick(b, ColXP, n.float("B")-n.designField)
	case TypeGap:
		if err := n.gap(b); err != nil {
			return err
		}
	case lattice.TypeBPM:
		n.measurePosition(b)
		b.drift(n.length)
	case lattice.TypeWire:
		n.measureProfile(b)
		b.drift(n.length)
	default:
		b.drift(n.length)
	}
	if err := b.check(); err != nil {
		return fmt.Errorf("node %s: %w", n.name, err)
	}
	return nil
}

// quad is a thin lens between two half drifts. A zero-length quad takes "dB/dr" as the
// integrated gradient.
func (n *Node) quad(b *Bunch) {
	kl := n.float("dB/dr") / b.Rigidity()
	if n.length > 0 {
		kl *= n.length
	}
	b.drift(n.length / 2)
	b.each(func(p []float64) {
		p[ColXP] -= kl * p[ColX]
		p[ColYP] += kl * p[ColY]
	})
	b.drift(n.length / 2)
}

func (n *Node) kick(b *Bunch, col int, field float64) {
	eff := n.float("L")
	if eff == 0 {
		eff = defaultKickLength
	}
	angle := field * eff / b.Rigidity()
	b.drift(n.length / 2)
	if angle != 0 {
		b.each(func(p []float64) { p[col] += angle })
	}
	b.drift(n.length / 2)
}

func (n *Node) gap(b *Bunch) error {
	if n.cavity == nil {
		return fmt.Errorf("gap %s belongs to no cavity", n.name)
	}
	amp := n.cavity.float("amp")
	phase := n.cavity.float("phase")
	b.drift(n.length / 2)
	gain := amp * n.e0tl
	if gain != 0 {
		pOld := b.Momentum()
		sync := gain * math.Cos(phase)
		b.Energy += sync
		if b.Energy <= 0 {
			return fmt.Errorf("gap %s: %w: synchronous energy %g MeV", n.name, ErrUnstable, b.Energy)
		}
		damp := pOld / b.Momentum()
		b.each(func(p []float64) {
			p[ColDE] += gain*math.Cos(phase+p[ColPhi]) - sync
			p[ColXP] *= damp
			p[ColYP] *= damp
		})
	}
	b.drift(n.length / 2)
	return nil
}

func (n *Node) measurePosition(b *Bunch) {
	n.params["x_avg"] = sim.Float(b.Mean(ColX))
	n.params["y_avg"] = sim.Float(b.Mean(ColY))
	phi := 2*math.Pi*b.Frequency*1e6*(b.Time-n.designTime) + b.Mean(ColPhi)
	n.params["phi_avg"] = sim.Float(transform.WrapRadians(phi))
	n.params["amp_avg"] = sim.Float(b.Charge)
}

// measureProfile reads the fraction of the bunch under a wire at "position" in both
// planes, scaled by the bunch charge.
func (n *Node) measureProfile(b *Bunch) {
	pos := n.float("position")
	var sx, sy float64
	b.each(func(p []float64) {
		dx := (p[ColX] - pos) / wireWidth
		dy := (p[ColY] - pos) / wireWidth
		sx += math.Exp(-dx * dx / 2)
		sy += math.Exp(-dy * dy / 2)
	})
	count := float64(b.Len())
	n.params["x_signal"] = sim.Float(b.Charge * sx / count)
	n.params["y_signal"] = sim.Float(b.Charge * sy / count)
}

// Cavity groups RF gap nodes driven by one amplitude and phase.
type Cavity struct {
	name   string
	params sim.Params
	gaps   []lattice.Node
}

// NewCavity creates a cavity with relative amplitude amp and phase in radians.
func NewCavity(name string, amp, phase float64) *Cavity {
	return &Cavity{name: name, params: sim.Params{"amp": sim.Float(amp), "phase": sim.Float(phase)}}
}

// AddGap appends a gap node driven by this cavity.
func (c *Cavity) AddGap(gap *Node, e0tl float64) {
	gap.cavity = c
	gap.e0tl = e0tl
	c.gaps = append(c.gaps, gap)
}

func (c *Cavity) Name() string { return c.name }
func (c *Cavity) Type() string { return lattice.TypeCavity }

func (c *Cavity) Position() float64 {
	if len(c.gaps) == 0 {
		return 0
	}
	return c.gaps[0].Position()
}

func (c *Cavity) Params() sim.Params {
	out := make(sim.Params, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

func (c *Cavity) SetParam(key string, v sim.Value) error {
	if _, ok := c.params[key]; !ok {
		return fmt.Errorf("cavity %s has no parameter %q", c.name, key)
	}
	if _, ok := sim.AsFloat(v); !ok {
		return fmt.Errorf("cavity %s parameter %q must be numeric, got %v", c.name, key, v)
	}
	c.params[key] = v
	return nil
}

func (c *Cavity) GapNodes() []lattice.Node { return c.gaps }

func (c *Cavity) float(key string) float64 {
	f, _ := sim.AsFloat(c.params[key])
	return f
}
