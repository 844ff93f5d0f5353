package lattice

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrDuplicateNodeType is returned when a node type tag is defined twice.
	ErrDuplicateNodeType = errors.New("duplicate node type")
	// ErrInvalidNodeType is returned for a node type that is both optic and diagnostic.
	ErrInvalidNodeType = errors.New("node type cannot be both optic and diagnostic")
)

// Element type tags known to the default registry.
const (
	TypeQuad       = "QUAD"
	TypeHCorrector = "DCH"
	TypeVCorrector = "DCV"
	TypeBend       = "BEND"
	TypeCavity     = "RF_CAVITY"
	TypeBPM        = "BPM"
	TypeWire       = "WS"
)

// NodeType describes which parameters of an element type are surfaced to the beam
// line and how the element participates in tracking.
type NodeType struct {
	Keys []string
	// Controls lists keys of a diagnostic that may be written through UpdateOptics,
	// such as a wire position.
	Controls   []string
	Optic      bool
	Diagnostic bool
}

func (t NodeType) hasKey(key string) bool { return slices.Contains(t.Keys, key) }

func (t NodeType) writable(key string) bool {
	if t.Optic {
		return t.hasKey(key)
	}
	return slices.Contains(t.Controls, key)
}

// NodeOption configures a NodeType.
type NodeOption func(*NodeType)

// Optic marks the type as able to perturb the beam. Snapshot sinks are attached to
// its elements.
func Optic() NodeOption { return func(t *NodeType) { t.Optic = true } }

// Diagnostic marks the type as observe-only. Its elements appear in measurements.
func Diagnostic() NodeOption { return func(t *NodeType) { t.Diagnostic = true } }

// Controls declares writable keys on a diagnostic type.
func Controls(keys ...string) NodeOption {
	return func(t *NodeType) { t.Controls = append(t.Controls, keys...) }
}

// Registry maps element type tags to their NodeType.
type Registry struct {
	types map[string]NodeType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]NodeType)}
}

// DefaultRegistry returns the registry of the element types sim/tracker models.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Define(TypeQuad, []string{"dB/dr"}, Optic()))
	must(r.Define(TypeHCorrector, []string{"B"}, Optic()))
	must(r.Define(TypeVCorrector, []string{"B"}, Optic()))
	must(r.Define(TypeBend, []string{"B"}, Optic()))
	must(r.Define(TypeCavity, []string{"phase", "amp"}, Optic()))
	must(r.Define(TypeBPM, []string{"x_avg", "y_avg", "phi_avg", "amp_avg"}, Diagnostic()))
	must(r.Define(TypeWire, []string{"position", "speed", "x_signal", "y_signal"},
		Diagnostic(), Controls("position", "speed")))
	return r
}

// Define registers a new element type.
func (r *Registry) Define(tag string, keys []string, opts ...NodeOption) error {
	if _, ok := r.types[tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNodeType, tag)
	}
	t := NodeType{Keys: slices.Clone(keys)}
	for _, opt := range opts {
		opt(&t)
	}
	if t.Optic && t.Diagnostic {
		return fmt.Errorf("%w: %s", ErrInvalidNodeType, tag)
	}
	r.types[tag] = t
	return nil
}

// Lookup returns the NodeType of tag.
func (r *Registry) Lookup(tag string) (NodeType, bool) {
	t, ok := r.types[tag]
	return t, ok
}
