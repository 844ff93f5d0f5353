package lattice

import (
	"errors"
	"fmt"

	"github.com/virtaccl/virtaccl/sim"
)

// fakeBunch is a single particle in one transverse plane.
type fakeBunch struct {
	X, XP float64
}

func (b *fakeBunch) Copy() Bunch {
	c := *b
	return &c
}

type fakeNode struct {
	name     string
	typ      string
	pos      float64
	params   sim.Params
	children []Node
	hooks    []EntryHook
	act      func(n *fakeNode, b *fakeBunch)
}

func (n *fakeNode) Name() string      { return n.name }
func (n *fakeNode) Type() string      { return n.typ }
func (n *fakeNode) Position() float64 { return n.pos }
func (n *fakeNode) Params() sim.Params {
	out := make(sim.Params, len(n.params))
	for k, v := range n.params {
		out[k] = v
	}
	return out
}
func (n *fakeNode) SetParam(key string, v sim.Value) error {
	if _, ok := n.params[key]; !ok {
		return fmt.Errorf("no parameter %q", key)
	}
	n.params[key] = v
	return nil
}
func (n *fakeNode) Children() []Node { return n.children }
func (n *fakeNode) AddChild(child Node) error {
	n.children = append(n.children, child)
	return nil
}
func (n *fakeNode) AddEntryHook(h EntryHook) { n.hooks = append(n.hooks, h) }
func (n *fakeNode) RemoveEntryHook(h EntryHook) {
	for i, x := range n.hooks {
		if x == h {
			n.hooks = append(n.hooks[:i], n.hooks[i+1:]...)
			return
		}
	}
}

func (n *fakeNode) track(b *fakeBunch) {
	for _, h := range n.hooks {
		h.OnEntry(b)
	}
	for _, c := range n.children {
		if fc, ok := c.(*fakeNode); ok {
			fc.track(b)
		}
	}
	if n.act != nil {
		n.act(n, b)
	}
}

type fakeCavity struct {
	name   string
	params sim.Params
	gaps   []Node
}

func (c *fakeCavity) Name() string      { return c.name }
func (c *fakeCavity) Type() string      { return TypeCavity }
func (c *fakeCavity) Position() float64 { return c.gaps[0].Position() }
func (c *fakeCavity) Params() sim.Params {
	return sim.Params{"amp": c.params["amp"], "phase": c.params["phase"]}
}
func (c *fakeCavity) SetParam(key string, v sim.Value) error {
	c.params[key] = v
	return nil
}
func (c *fakeCavity) GapNodes() []Node { return c.gaps }

type fakeLattice struct {
	nodes    []*fakeNode
	cavities []Cavity
	tracked  []int // start index of every TrackBunch call
	visited  int   // nodes traversed by the last TrackBunch call
	fail     bool
	design   int
}

func (l *fakeLattice) Nodes() []Node {
	out := make([]Node, len(l.nodes))
	for i, n := range l.nodes {
		out[i] = n
	}
	return out
}
func (l *fakeLattice) Length() float64 { return float64(len(l.nodes)) }
func (l *fakeLattice) NodeIndex(n Node) int {
	for i, x := range l.nodes {
		if Node(x) == n {
			return i
		}
	}
	return -1
}
func (l *fakeLattice) Cavities() []Cavity { return l.cavities }
func (l *fakeLattice) TrackBunch(b Bunch, start int) error {
	if l.fail {
		return errors.New("tracking kernel failure")
	}
	fb := b.(*fakeBunch)
	l.tracked = append(l.tracked, start)
	l.visited = 0
	for _, n := range l.nodes[start:] {
		n.track(fb)
		l.visited++
	}
	return nil
}
func (l *fakeLattice) TrackDesignBunch(Bunch) error {
	l.design++
	return nil
}

func quadAct(n *fakeNode, b *fakeBunch) {
	b.XP += sim.MustFloat(n.params["dB/dr"]) * b.X
	b.X += b.XP
}

func correctorAct(n *fakeNode, b *fakeBunch) {
	b.XP += sim.MustFloat(n.params["B"])
}

func bpmAct(n *fakeNode, b *fakeBunch) {
	n.params["x_avg"] = sim.Float(b.X)
	n.params["y_avg"] = sim.Float(0)
	n.params["phi_avg"] = sim.Float(0)
	n.params["amp_avg"] = sim.Float(1)
}

func wireAct(n *fakeNode, b *fakeBunch) {
	pos := sim.MustFloat(n.params["position"])
	n.params["x_signal"] = sim.Float(b.X - pos)
}

func gapAct(cav *fakeCavity) func(*fakeNode, *fakeBunch) {
	return func(n *fakeNode, b *fakeBunch) {
		b.XP *= 1 - 0.1*sim.MustFloat(cav.params["amp"])
	}
}

func newQuad(name string, pos, k float64) *fakeNode {
	return &fakeNode{name: name, typ: TypeQuad, pos: pos, params: sim.Params{"dB/dr": sim.Float(k), "L": sim.Float(0.1)}, act: quadAct}
}

func newBPM(name string, pos float64) *fakeNode {
	return &fakeNode{name: name, typ: TypeBPM, pos: pos, params: sim.Params{"x_avg": sim.Float(0)}, act: bpmAct}
}

// newFakeLattice builds quads Q00..Q(n-1), one per index, followed by a BPM and a
// two-gap cavity, then a final BPM.
func newFakeLattice(n int) *fakeLattice {
	l := &fakeLattice{}
	for i := 0; i < n; i++ {
		l.nodes = append(l.nodes, newQuad(fmt.Sprintf("Q%02d", i), float64(i), 0.01))
	}
	l.nodes = append(l.nodes, newBPM("BPM1", float64(n)))
	cav := &fakeCavity{name: "CAV1", params: sim.Params{"amp": sim.Float(1), "phase": sim.Float(0)}}
	for g := 0; g < 2; g++ {
		gap := &fakeNode{name: fmt.Sprintf("CAV1:g%d", g), typ: "RF_GAP", pos: float64(n+1+g), params: sim.Params{}, act: gapAct(cav)}
		cav.gaps = append(cav.gaps, gap)
		l.nodes = append(l.nodes, gap)
	}
	l.cavities = []Cavity{cav}
	l.nodes = append(l.nodes, newBPM("BPM2", float64(n+3)))
	return l
}
