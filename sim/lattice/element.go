package lattice

import "github.com/virtaccl/virtaccl/sim"

// Element is a model object the controller addresses by name. The variants are
// lattice nodes, cavities and children attached to a lattice node.
type Element interface {
	Name() string
	Type() string
	Position() float64
	// TrackingNode is the lattice node where retracking for this element starts.
	TrackingNode() Node
	Params() sim.Params
	SetParam(key string, v sim.Value) error
	isElement()
}

type nodeRef struct {
	node Node
}

func (r nodeRef) Name() string                           { return r.node.Name() }
func (r nodeRef) Type() string                           { return r.node.Type() }
func (r nodeRef) Position() float64                      { return r.node.Position() }
func (r nodeRef) TrackingNode() Node                     { return r.node }
func (r nodeRef) Params() sim.Params                     { return r.node.Params() }
func (r nodeRef) SetParam(key string, v sim.Value) error { return r.node.SetParam(key, v) }
func (nodeRef) isElement()                               {}

// cavityRef tracks from its first gap.
type cavityRef struct {
	cav Cavity
}

func (r cavityRef) Name() string      { return r.cav.Name() }
func (r cavityRef) Type() string      { return r.cav.Type() }
func (r cavityRef) Position() float64 { return r.cav.Position() }
func (r cavityRef) TrackingNode() Node {
	gaps := r.cav.GapNodes()
	if len(gaps) == 0 {
		return nil
	}
	return gaps[0]
}
func (r cavityRef) Params() sim.Params                     { return r.cav.Params() }
func (r cavityRef) SetParam(key string, v sim.Value) error { return r.cav.SetParam(key, v) }
func (cavityRef) isElement()                               {}

// childRef sits at the position of the lattice node that hosts it, directly or
// through other children.
type childRef struct {
	node Node
	host Node
}

func (r childRef) Name() string                           { return r.node.Name() }
func (r childRef) Type() string                           { return r.node.Type() }
func (r childRef) Position() float64                      { return r.host.Position() }
func (r childRef) TrackingNode() Node                     { return r.host }
func (r childRef) Params() sim.Params                     { return r.node.Params() }
func (r childRef) SetParam(key string, v sim.Value) error { return r.node.SetParam(key, v) }
func (childRef) isElement()                               {}

// snapshotSink copies the bunch entering its node into the controller's snapshot
// table under the element name. Close clears the table reference.
type snapshotSink struct {
	name  string
	table map[string]Bunch
	node  Node
}

func (s *snapshotSink) OnEntry(b Bunch) {
	if s.table == nil {
		return
	}
	s.table[s.name] = b.Copy()
}
