package lattice

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim"
)

var (
	// ErrNoLattice is returned by operations that need a lattice before one is set.
	ErrNoLattice = errors.New("no lattice loaded")
	// ErrUnknownElement is returned for names the controller does not manage.
	ErrUnknownElement = errors.New("unknown element")
	// ErrNoBunch is returned by operations that need an initial bunch before one is set.
	ErrNoBunch = errors.New("no initial bunch set")
	// ErrDuplicateElement is returned when a non-marker child reuses a name.
	ErrDuplicateElement = errors.New("duplicate element name")
)

// changeThreshold is the smallest numeric change forwarded to the tracking library.
const changeThreshold = 1e-12

// Controller owns the element registry and the bunch snapshot cache. It implements
// sim.Model and must only be used from one goroutine.
type Controller struct {
	lattice  Lattice
	registry *Registry

	elements map[string]Element
	order    []string
	index    map[string]int

	initialBunch  Bunch
	snapshots     map[string]Bunch
	changes       map[string]struct{}
	initialOptics sim.ElementMap
	sinks         []*snapshotSink

	reported map[string]struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithRegistry replaces the default element type registry.
func WithRegistry(r *Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// NewController creates a controller with no lattice and no bunch.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		registry:  DefaultRegistry(),
		elements:  make(map[string]Element),
		index:     make(map[string]int),
		snapshots: make(map[string]Bunch),
		changes:   make(map[string]struct{}),
		reported:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasLattice reports whether a lattice has been loaded.
func (c *Controller) HasLattice() bool { return c.lattice != nil }

// HasBunch reports whether an initial bunch has been set.
func (c *Controller) HasBunch() bool { return c.initialBunch != nil }

// DefineCustomNode registers a new element type. It only affects elements
// registered after the call, so define types before SetLattice.
func (c *Controller) DefineCustomNode(tag string, keys []string, opts ...NodeOption) error {
	return c.registry.Define(tag, keys, opts...)
}

// SetLattice registers every modeled element of l, attaches snapshot sinks to the
// optics and, when an initial bunch is present, tracks the whole lattice.
func (c *Controller) SetLattice(l Lattice) error {
	if c.lattice != nil {
		c.detachSinks()
		clear(c.elements)
		clear(c.index)
		c.order = c.order[:0]
		for k := range c.snapshots {
			if k != InitialBunch {
				delete(c.snapshots, k)
			}
		}
	}
	c.lattice = l

	for _, n := range l.Nodes() {
		if _, ok := c.registry.Lookup(n.Type()); ok {
			if _, seen := c.elements[n.Name()]; !seen {
				c.insert(nodeRef{node: n})
			}
		}
		c.walkChildren(n, n)
	}
	for _, cav := range l.Cavities() {
		if _, ok := c.registry.Lookup(cav.Type()); !ok {
			continue
		}
		if len(cav.GapNodes()) == 0 {
			return fmt.Errorf("cavity %s has no gap nodes", cav.Name())
		}
		if _, seen := c.elements[cav.Name()]; !seen {
			c.insert(cavityRef{cav: cav})
		}
	}
	for _, name := range c.order {
		c.attachSink(c.elements[name])
	}

	clear(c.changes)
	c.initialOptics = c.Settings()
	logrus.Infof("lattice loaded: %d nodes, %d modeled elements, length %.3f m",
		len(l.Nodes()), len(c.order), l.Length())

	if c.initialBunch != nil {
		return c.initTracking()
	}
	return nil
}

// SetBunch sets the entrance bunch. With a lattice loaded it runs the design pass
// and a full track.
func (c *Controller) SetBunch(b Bunch) error {
	c.initialBunch = b
	c.snapshots[InitialBunch] = b
	if c.lattice != nil {
		return c.initTracking()
	}
	return nil
}

func (c *Controller) initTracking() error {
	if err := c.lattice.TrackDesignBunch(c.initialBunch.Copy()); err != nil {
		return fmt.Errorf("design pass: %w", err)
	}
	return c.ForceTrack()
}

func (c *Controller) walkChildren(host, parent Node) {
	for _, child := range parent.Children() {
		if _, ok := c.registry.Lookup(child.Type()); ok {
			if _, seen := c.elements[child.Name()]; !seen {
				c.insert(childRef{node: child, host: host})
			}
		}
		c.walkChildren(host, child)
	}
}

func (c *Controller) insert(e Element) {
	c.elements[e.Name()] = e
	c.order = append(c.order, e.Name())
	c.index[e.Name()] = c.lattice.NodeIndex(e.TrackingNode())
}

func (c *Controller) attachSink(e Element) {
	t, _ := c.registry.Lookup(e.Type())
	if !t.Optic {
		return
	}
	node := e.TrackingNode()
	s := &snapshotSink{name: e.Name(), table: c.snapshots, node: node}
	node.AddEntryHook(s)
	c.sinks = append(c.sinks, s)
}

func (c *Controller) detachSinks() {
	for _, s := range c.sinks {
		s.node.RemoveEntryHook(s)
		s.table = nil
	}
	c.sinks = nil
}

// Close detaches every snapshot sink from the lattice.
func (c *Controller) Close() {
	c.detachSinks()
}

// AddChildNode attaches child under the lattice node behind parentName. Children of
// children are attached to the same lattice node.
func (c *Controller) AddChildNode(parentName string, child Node) error {
	if c.lattice == nil {
		return ErrNoLattice
	}
	parent, ok := c.elements[parentName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, parentName)
	}
	var host Node
	switch p := parent.(type) {
	case nodeRef:
		host = p.node
	case childRef:
		host = p.host
	default:
		return fmt.Errorf("element %s of type %s cannot host children", parentName, parent.Type())
	}
	if child.Type() != MarkerType {
		if _, dup := c.elements[child.Name()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateElement, child.Name())
		}
	}
	if err := host.AddChild(child); err != nil {
		return fmt.Errorf("adding %s to %s: %w", child.Name(), host.Name(), err)
	}
	if _, ok := c.registry.Lookup(child.Type()); ok && child.Type() != MarkerType {
		ref := childRef{node: child, host: host}
		c.insert(ref)
		c.attachSink(ref)
		c.changes[child.Name()] = struct{}{}
	}
	return nil
}

// UpdateOptics writes changed element parameters through to the tracking library and
// records which elements now need retracking. Changes below 1e-12 are dropped.
func (c *Controller) UpdateOptics(changed sim.ElementMap) {
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		el, ok := c.elements[name]
		if !ok {
			c.reportOnce(name, "", "optics update for unknown element %s", name)
			continue
		}
		t, _ := c.registry.Lookup(el.Type())
		current := el.Params()
		for key, v := range changed[name] {
			if !t.hasKey(key) {
				c.reportOnce(name, key, "element %s (%s) has no parameter %q", name, el.Type(), key)
				continue
			}
			if !t.writable(key) {
				c.reportOnce(name, key, "element %s (%s) is not an optic; ignoring %q", name, el.Type(), key)
				continue
			}
			if !differs(current[key], v) {
				continue
			}
			if err := el.SetParam(key, v); err != nil {
				logrus.Warnf("setting %s.%s: %v", name, key, err)
				continue
			}
			opticWritesTotal.Inc()
			c.changes[name] = struct{}{}
		}
	}
}

func differs(old, v sim.Value) bool {
	a, okA := sim.AsFloat(old)
	b, okB := sim.AsFloat(v)
	if !okA || !okB {
		return true
	}
	return math.Abs(a-b) > changeThreshold
}

func (c *Controller) reportOnce(name, key, format string, args ...any) {
	id := name + "\x00" + key
	if _, ok := c.reported[id]; ok {
		return
	}
	c.reported[id] = struct{}{}
	logrus.Warnf(format, args...)
}

// ForceTrack retracks the whole lattice from the initial bunch.
func (c *Controller) ForceTrack() error {
	c.changes[InitialBunch] = struct{}{}
	return c.Track()
}

// Track retracks from the most upstream pending change. The pending set is only
// cleared when tracking succeeds, so a failed pass is retried from the same anchor.
func (c *Controller) Track() error {
	if c.lattice == nil {
		logrus.Warn("track requested but no lattice is loaded")
		return nil
	}
	if c.initialBunch == nil {
		logrus.Warn("track requested but no initial bunch is set")
		return nil
	}
	if len(c.changes) == 0 {
		return nil
	}

	start, from, kind := c.anchor()
	scratch := from.Copy()
	startNode := max(start, 0)
	trackedNodes.Observe(float64(len(c.lattice.Nodes()) - startNode))
	if err := c.lattice.TrackBunch(scratch, startNode); err != nil {
		tracksTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("tracking from node %d: %w", start, err)
	}
	tracksTotal.WithLabelValues(kind, "ok").Inc()
	clear(c.changes)
	return nil
}

// anchor picks the node index and bunch to resume tracking from.
func (c *Controller) anchor() (int, Bunch, string) {
	if _, ok := c.changes[InitialBunch]; ok {
		return -1, c.initialBunch, "full"
	}

	anchorName := ""
	minIdx := math.MaxInt
	for name := range c.changes {
		idx, ok := c.index[name]
		if !ok {
			continue
		}
		if idx < minIdx || (idx == minIdx && name < anchorName) {
			minIdx, anchorName = idx, name
		}
	}
	if anchorName == "" || minIdx < 0 {
		return -1, c.initialBunch, "full"
	}

	t, _ := c.registry.Lookup(c.elements[anchorName].Type())
	if t.Optic {
		snap, ok := c.snapshots[anchorName]
		if !ok {
			missingSnapshotsTotal.Inc()
			logrus.Warnf("no snapshot cached for %s; tracking from the initial bunch", anchorName)
			return -1, c.initialBunch, "full"
		}
		return minIdx, snap, "incremental"
	}

	// A diagnostic control changed: resume from the closest optic snapshot at or
	// upstream of it, or from the beginning when there is none.
	bestIdx, bestName := -1, ""
	for _, name := range c.order {
		idx := c.index[name]
		if idx > minIdx || idx < bestIdx {
			continue
		}
		if _, ok := c.snapshots[name]; !ok {
			continue
		}
		if idx > bestIdx {
			bestIdx, bestName = idx, name
		}
	}
	if bestName == "" {
		return -1, c.initialBunch, "full"
	}
	return bestIdx, c.snapshots[bestName], "incremental"
}

// Reset restores the optics recorded when the lattice was loaded and retracks.
func (c *Controller) Reset() error {
	if c.lattice == nil {
		return ErrNoLattice
	}
	if c.initialBunch == nil {
		return ErrNoBunch
	}
	c.UpdateOptics(c.initialOptics)
	return c.ForceTrack()
}

// Settings returns the registry keys of every optic element, or of the named ones.
func (c *Controller) Settings(names ...string) sim.ElementMap {
	return c.view(names, func(t NodeType) bool { return t.Optic })
}

// Measurements returns the registry keys of every diagnostic element.
func (c *Controller) Measurements() sim.ElementMap {
	return c.MeasurementsOf()
}

// MeasurementsOf returns the registry keys of the named diagnostic elements, or of
// all of them when no names are given.
func (c *Controller) MeasurementsOf(names ...string) sim.ElementMap {
	return c.view(names, func(t NodeType) bool { return t.Diagnostic })
}

// ElementParameters returns the registry keys of one element.
func (c *Controller) ElementParameters(name string) (sim.Params, error) {
	el, ok := c.elements[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, name)
	}
	t, _ := c.registry.Lookup(el.Type())
	return filter(el.Params(), t.Keys), nil
}

func (c *Controller) view(names []string, want func(NodeType) bool) sim.ElementMap {
	if len(names) == 0 {
		names = c.order
	}
	out := sim.ElementMap{}
	for _, name := range names {
		el, ok := c.elements[name]
		if !ok {
			continue
		}
		t, _ := c.registry.Lookup(el.Type())
		if !want(t) {
			continue
		}
		out[name] = filter(el.Params(), t.Keys)
	}
	return out
}

func filter(params sim.Params, keys []string) sim.Params {
	out := make(sim.Params, len(keys))
	for _, k := range keys {
		if v, ok := params[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Element returns the element registered under name.
func (c *Controller) Element(name string) (Element, bool) {
	e, ok := c.elements[name]
	return e, ok
}

// ElementNames returns the registered element names in registration order.
func (c *Controller) ElementNames() []string {
	return slices.Clone(c.order)
}

// Snapshot returns the cached bunch entering the named optic.
func (c *Controller) Snapshot(name string) (Bunch, bool) {
	b, ok := c.snapshots[name]
	return b, ok
}

// Snapshots returns a shallow copy of the snapshot table.
func (c *Controller) Snapshots() map[string]Bunch {
	out := make(map[string]Bunch, len(c.snapshots))
	for k, v := range c.snapshots {
		out[k] = v
	}
	return out
}

// PendingChanges returns the sorted names awaiting a retrack.
func (c *Controller) PendingChanges() []string {
	out := make([]string, 0, len(c.changes))
	for k := range c.changes {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
