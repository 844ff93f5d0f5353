// Package lattice drives a tracking library through the Model contract. It keeps an
// element registry over the library's nodes, caches the bunch entering every optic
// and retracks only the tail of the lattice downstream of the most upstream change.
//
// The tracking library itself is behind the Lattice, Node, Cavity and Bunch
// interfaces; sim/tracker provides a linear-optics implementation.
package lattice

import "github.com/virtaccl/virtaccl/sim"

// Bunch is an opaque particle ensemble. Copy must return an independent deep copy.
type Bunch interface {
	Copy() Bunch
}

// EntryHook is called by the tracking library with the incoming bunch each time a
// node is entered, before the node acts on it.
type EntryHook interface {
	OnEntry(b Bunch)
}

// Node is a lattice node or a child attached to one.
type Node interface {
	Name() string
	Type() string
	// Position is the longitudinal position of the node entrance in meters.
	Position() float64
	// Params returns a copy of the node's current parameters.
	Params() sim.Params
	SetParam(key string, v sim.Value) error
	Children() []Node
	AddChild(child Node) error
	AddEntryHook(h EntryHook)
	RemoveEntryHook(h EntryHook)
}

// Cavity is a composite RF element spread over several gap nodes on the lattice.
type Cavity interface {
	Name() string
	Type() string
	Position() float64
	Params() sim.Params
	SetParam(key string, v sim.Value) error
	GapNodes() []Node
}

// Lattice is an ordered sequence of nodes indexed left to right.
type Lattice interface {
	Nodes() []Node
	Length() float64
	// NodeIndex returns the index of n, or -1 when n is not on the lattice.
	NodeIndex(n Node) int
	Cavities() []Cavity
	// TrackBunch propagates b in place through nodes start..end.
	TrackBunch(b Bunch, start int) error
	// TrackDesignBunch runs the reference pass that fixes design energies and phases.
	TrackDesignBunch(b Bunch) error
}

// InitialBunch is the snapshot key of the entrance bunch and the change sentinel
// that forces a track from the lattice beginning.
const InitialBunch = "initial_bunch"

// MarkerType is the node type that may share a name with other nodes.
const MarkerType = "marker"
