package beamline

import (
	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/transform"
)

// Class partitions a device's parameters.
type Class int

const (
	ClassSetting Class = iota
	ClassMeasurement
	ClassReadback
)

func (c Class) String() string {
	switch c {
	case ClassSetting:
		return "setting"
	case ClassMeasurement:
		return "measurement"
	case ClassReadback:
		return "readback"
	default:
		return "unknown"
	}
}

// Parameter is a single addressable channel. Its value is always held in model units;
// the transform and noise are applied only on the way to and from the server.
type Parameter struct {
	reason       string
	fullName     string
	definition   sim.Definition
	explicitDef  bool
	defaultValue sim.Value
	value        sim.Value
	setting      string
	modelKey     string
	compute      func() sim.Value
	transform    transform.Transform
	noise        transform.Noise
}

// ParamOption configures a Parameter at registration.
type ParamOption func(*Parameter)

// WithTransform sets the real/raw map. Defaults to transform.Identity.
func WithTransform(t transform.Transform) ParamOption {
	return func(p *Parameter) { p.transform = t }
}

// WithNoise sets the perturbation applied when publishing. Defaults to transform.NoNoise.
func WithNoise(n transform.Noise) ParamOption {
	return func(p *Parameter) { p.noise = n }
}

// WithDefinition sets the wire type and shape.
func WithDefinition(d sim.Definition) ParamOption {
	return func(p *Parameter) {
		p.definition = d
		p.explicitDef = true
	}
}

// WithExternalName overrides the device-prefixed external name.
func WithExternalName(name string) ParamOption {
	return func(p *Parameter) { p.fullName = name }
}

// WithModelKey names the model parameter a Measurement is filled from.
// Defaults to the reason itself.
func WithModelKey(key string) ParamOption {
	return func(p *Parameter) { p.modelKey = key }
}

// WithDefault sets the initial value of a Measurement or Readback.
func WithDefault(v sim.Value) ParamOption {
	return func(p *Parameter) {
		p.defaultValue = v
		p.value = v
	}
}

// Mirrors binds a Readback to the Setting it reflects.
func Mirrors(setting string) ParamOption {
	return func(p *Parameter) { p.setting = setting }
}

// WithReadbackFunc computes a Readback from device state instead of mirroring a Setting.
func WithReadbackFunc(fn func() sim.Value) ParamOption {
	return func(p *Parameter) { p.compute = fn }
}

func newParameter(reason, fullName string, def sim.Value, opts ...ParamOption) *Parameter {
	if def == nil {
		def = sim.Float(0)
	}
	p := &Parameter{
		reason:       reason,
		fullName:     fullName,
		definition:   sim.DefaultDefinition(),
		defaultValue: def,
		value:        def,
		modelKey:     reason,
		transform:    transform.Identity{},
		noise:        transform.NoNoise{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reason is the name of the parameter inside its device.
func (p *Parameter) Reason() string { return p.reason }

// FullName is the external (wire) name.
func (p *Parameter) FullName() string { return p.fullName }

// Definition returns the wire type and shape.
func (p *Parameter) Definition() sim.Definition { return p.definition }

// Setting returns the reason of the Setting a Readback mirrors, or "".
func (p *Parameter) Setting() string { return p.setting }

// Default returns the value restored by ResetToDefault.
func (p *Parameter) Default() sim.Value { return p.defaultValue }

// Transform returns the real/raw map.
func (p *Parameter) Transform() transform.Transform { return p.transform }

// SetTransform swaps the real/raw map, e.g. after a phase offset reload.
func (p *Parameter) SetTransform(t transform.Transform) { p.transform = t }

// RealValue returns the current value in model units.
func (p *Parameter) RealValue() sim.Value { return p.value }

// SetRealValue sets the current value in model units.
func (p *Parameter) SetRealValue(v sim.Value) { p.value = v }

// SetFromServer stores a wire value after mapping it to model units.
func (p *Parameter) SetFromServer(raw sim.Value) {
	p.value = p.transform.Real(raw)
}

// ValueForServer maps the current value to wire units and perturbs it. Every call
// draws fresh noise.
func (p *Parameter) ValueForServer() sim.Value {
	return p.noise.Add(p.transform.Raw(p.value))
}

// ResetToDefault restores the default value.
func (p *Parameter) ResetToDefault() {
	p.value = p.defaultValue
}
