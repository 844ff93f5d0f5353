package tracker

import (
	"fmt"

	"github.com/virtaccl/virtaccl/sim/lattice"
)

// Lattice is an ordered sequence of nodes. Nodes are positioned end to end in the
// order they are appended.
type Lattice struct {
	nodes    []*Node
	index    map[*Node]int
	cavities []*Cavity
	length   float64
}

// New returns an empty lattice.
func New() *Lattice {
	return &Lattice{index: make(map[*Node]int)}
}

// Append places n at the current end of the lattice.
func (l *Lattice) Append(n *Node) {
	setPosition(n, l.length)
	l.index[n] = len(l.nodes)
	l.nodes = append(l.nodes, n)
	l.length += n.length
}

func setPosition(n *Node, pos float64) {
	n.pos = pos
	for _, c := range n.children {
		setPosition(c.(*Node), pos)
	}
}

// AddCavity registers c. Its gaps must already be appended.
func (l *Lattice) AddCavity(c *Cavity) error {
	for _, g := range c.gaps {
		if _, ok := l.index[g.(*Node)]; !ok {
			return fmt.Errorf("cavity %s: gap %s is not on the lattice", c.name, g.Name())
		}
	}
	l.cavities = append(l.cavities, c)
	return nil
}

func (l *Lattice) Nodes() []lattice.Node {
	out := make([]lattice.Node, len(l.nodes))
	for i, n := range l.nodes {
		out[i] = n
	}
	return out
}

func (l *Lattice) Length() float64 { return l.length }

func (l *Lattice) NodeIndex(n lattice.Node) int {
	tn, ok := n.(*Node)
	if !ok {
		return -1
	}
	if i, ok := l.index[tn]; ok {
		return i
	}
	return -1
}

func (l *Lattice) Cavities() []lattice.Cavity {
	out := make([]lattice.Cavity, len(l.cavities))
	for i, c := range l.cavities {
		out[i] = c
	}
	return out
}

// TrackBunch propagates b in place from node start to the lattice end.
func (l *Lattice) TrackBunch(b lattice.Bunch, start int) error {
	return l.track(b, start, false)
}

// TrackDesignBunch records the design arrival time and field of every node. Entry
// hooks do not fire.
func (l *Lattice) TrackDesignBunch(b lattice.Bunch) error {
	return l.track(b, 0, true)
}

func (l *Lattice) track(b lattice.Bunch, start int, design bool) error {
	tb, ok := b.(*Bunch)
	if !ok {
		return fmt.Errorf("unsupported bunch type %T", b)
	}
	if start < 0 || start > len(l.nodes) {
		return fmt.Errorf("start index %d outside lattice of %d nodes", start, len(l.nodes))
	}
	for _, n := range l.nodes[start:] {
		if err := n.track(tb, design); err != nil {
			return err
		}
	}
	return nil
}
