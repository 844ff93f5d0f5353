package beamline

import (
	"fmt"
	"slices"

	"github.com/virtaccl/virtaccl/sim"
)

// Device is one logical instrument: a named group of classified parameters that
// translates between server values and model optics / measurements.
//
// Concrete devices embed *Base, register their parameters in their constructor and
// override ModelOptics, UpdateSettingsFromServer or UpdateMeasurements as needed.
type Device interface {
	Name() string
	ModelNames() []string
	Parameters() []*Parameter
	Parameter(reason string) *Parameter
	ClassOf(reason string) (Class, bool)
	Definitions() map[string]sim.ParameterDefinition

	UpdateSettingsFromServer(raw map[string]sim.Value)
	ModelOptics() sim.ElementMap
	UpdateMeasurements(measurements sim.ElementMap)
	UpdateReadbacks()
	DrainDirty() map[string]sim.Value
	Reset()
}

// Base implements the parameter bookkeeping shared by every device.
type Base struct {
	name       string
	modelNames []string
	params     map[string]*Parameter
	order      []string
	class      map[string]Class
	byModelKey map[string]string
	dirty      map[string]struct{}
	connected  []Device
}

// NewBase creates an empty device mapped to the given model elements.
func NewBase(name string, modelNames ...string) *Base {
	return &Base{
		name:       name,
		modelNames: modelNames,
		params:     make(map[string]*Parameter),
		class:      make(map[string]Class),
		byModelKey: make(map[string]string),
		dirty:      make(map[string]struct{}),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) ModelNames() []string { return b.modelNames }

// Connect records an upstream device this one draws settings from, such as the
// power supply feeding a magnet.
func (b *Base) Connect(d Device) {
	b.connected = append(b.connected, d)
}

// Connected returns the upstream devices in connection order.
func (b *Base) Connected() []Device { return b.connected }

// RegisterSetting adds a parameter the server may write.
// Panics on a duplicate reason: parameter schemas are fixed at construction.
func (b *Base) RegisterSetting(reason string, def sim.Value, opts ...ParamOption) *Parameter {
	return b.register(ClassSetting, reason, def, opts)
}

// RegisterMeasurement adds a parameter filled from model output.
func (b *Base) RegisterMeasurement(reason string, opts ...ParamOption) *Parameter {
	p := b.register(ClassMeasurement, reason, nil, opts)
	b.byModelKey[p.modelKey] = reason
	return p
}

// RegisterReadback adds a parameter computed from device state, by default a copy of
// the Setting it mirrors. Without an explicit definition it inherits the mirrored
// Setting's definition.
func (b *Base) RegisterReadback(reason string, opts ...ParamOption) *Parameter {
	return b.register(ClassReadback, reason, nil, opts)
}

func (b *Base) register(c Class, reason string, def sim.Value, opts []ParamOption) *Parameter {
	if _, ok := b.params[reason]; ok {
		panic(fmt.Sprintf("device %s: parameter %q registered twice", b.name, reason))
	}
	p := newParameter(reason, b.name+":"+reason, def, opts...)
	b.params[reason] = p
	b.order = append(b.order, reason)
	b.class[reason] = c
	return p
}

func (b *Base) Parameters() []*Parameter {
	out := make([]*Parameter, 0, len(b.order))
	for _, r := range b.order {
		out = append(out, b.params[r])
	}
	return out
}

func (b *Base) Parameter(reason string) *Parameter { return b.params[reason] }

func (b *Base) ClassOf(reason string) (Class, bool) {
	c, ok := b.class[reason]
	return c, ok
}

// Real returns the model-unit value of a parameter as a float.
func (b *Base) Real(reason string) float64 {
	p := b.params[reason]
	if p == nil {
		return 0
	}
	return sim.MustFloat(p.value)
}

func (b *Base) Definitions() map[string]sim.ParameterDefinition {
	out := make(map[string]sim.ParameterDefinition, len(b.order))
	for _, r := range b.order {
		p := b.params[r]
		def := p.definition
		if !p.explicitDef && p.setting != "" {
			if s := b.params[p.setting]; s != nil {
				def = s.definition
			}
		}
		out[p.fullName] = sim.ParameterDefinition{Definition: def, Value: p.ValueForServer()}
	}
	return out
}

// UpdateSettingsFromServer routes raw wire values to the Settings they name and
// marks them for publishing, so the wire carries the accepted setpoint in wire units.
// Reasons this device does not own as Settings are ignored.
func (b *Base) UpdateSettingsFromServer(raw map[string]sim.Value) {
	for reason, v := range raw {
		if b.class[reason] != ClassSetting {
			continue
		}
		if p := b.params[reason]; p != nil {
			p.SetFromServer(v)
			b.dirty[reason] = struct{}{}
		}
	}
}

// ModelOptics emits nothing: a device that does not override it is pure instrumentation.
func (b *Base) ModelOptics() sim.ElementMap {
	return sim.ElementMap{}
}

// UpdateMeasurements fills Measurements from the model elements this device maps to.
// Model keys without a matching Measurement are ignored.
func (b *Base) UpdateMeasurements(measurements sim.ElementMap) {
	for _, model := range b.modelNames {
		params, ok := measurements[model]
		if !ok {
			continue
		}
		for key, v := range params {
			if reason, ok := b.byModelKey[key]; ok {
				b.UpdateMeasurement(reason, v)
			}
		}
	}
}

// UpdateMeasurement stores a model-unit value and marks it for publishing.
func (b *Base) UpdateMeasurement(reason string, v sim.Value) {
	p := b.params[reason]
	if p == nil {
		return
	}
	p.value = v
	b.dirty[reason] = struct{}{}
}

// SetSetting changes a Setting from inside the device (couplings, clamps) and marks
// it for publishing so the wire reflects the new setpoint.
func (b *Base) SetSetting(reason string, v sim.Value) {
	p := b.params[reason]
	if p == nil {
		return
	}
	p.value = v
	b.dirty[reason] = struct{}{}
}

// MarkDirty schedules a parameter for the next drain.
func (b *Base) MarkDirty(reason string) {
	if _, ok := b.params[reason]; ok {
		b.dirty[reason] = struct{}{}
	}
}

// UpdateReadbacks refreshes every Readback from its compute function or mirrored Setting.
func (b *Base) UpdateReadbacks() {
	for _, r := range b.order {
		if b.class[r] != ClassReadback {
			continue
		}
		p := b.params[r]
		switch {
		case p.compute != nil:
			p.value = p.compute()
		case p.setting != "":
			if s := b.params[p.setting]; s != nil {
				p.value = s.value
			}
		default:
			continue
		}
		b.dirty[r] = struct{}{}
	}
}

// DrainDirty returns wire values of every dirty parameter keyed by external name and
// clears the dirty set. Noise is drawn in registration order.
func (b *Base) DrainDirty() map[string]sim.Value {
	out := make(map[string]sim.Value, len(b.dirty))
	for _, reason := range b.order {
		if _, ok := b.dirty[reason]; !ok {
			continue
		}
		p := b.params[reason]
		out[p.fullName] = p.ValueForServer()
	}
	clear(b.dirty)
	return out
}

// Dirty returns the reasons currently marked dirty, sorted.
func (b *Base) Dirty() []string {
	out := make([]string, 0, len(b.dirty))
	for r := range b.dirty {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Reset restores every Setting to its default.
func (b *Base) Reset() {
	for _, r := range b.order {
		if b.class[r] == ClassSetting {
			b.params[r].ResetToDefault()
			b.dirty[r] = struct{}{}
		}
	}
}
