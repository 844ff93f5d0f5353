package sim

import (
	"context"
	"time"
)

// Model is the physics side of the loop. The lattice controller implements it; a
// FuncModel can stand in for simple demos.
type Model interface {
	// UpdateOptics applies optics fragments keyed by model element name. Unknown
	// elements or keys are reported and skipped.
	UpdateOptics(optics ElementMap)
	// Track propagates the beam through whatever part of the model is stale.
	Track() error
	// Measurements returns the current readings of every diagnostic element.
	Measurements() ElementMap
}

// Server publishes parameter values and buffers external writes.
type Server interface {
	AddParameters(defs map[string]ParameterDefinition) error
	// Parameters returns the writes accepted since the previous call, keyed by external name.
	Parameters() map[string]Value
	// SetParameters stages outbound values. A zero timestamp lets the server stamp them.
	SetParameters(values map[string]Value, timestamp time.Time)
	Start(ctx context.Context) error
	Stop() error
	Flush() error
}

// BeamLine is the device registry as consumed by the scheduler.
type BeamLine interface {
	UpdateSettingsFromServer(serverPVs map[string]Value)
	ModelOptics() ElementMap
	UpdateMeasurementsFromModel(measurements ElementMap)
	UpdateReadbacks()
	DrainForServer() map[string]Value
}

// FuncModel adapts a pure function of the optics into a Model. The function is
// re-evaluated on Track only when optics changed since the previous call.
type FuncModel struct {
	fn      func(optics ElementMap) (ElementMap, error)
	optics  ElementMap
	result  ElementMap
	changed bool
}

// NewFuncModel wraps fn. The first Track always evaluates it.
func NewFuncModel(fn func(optics ElementMap) (ElementMap, error)) *FuncModel {
	return &FuncModel{fn: fn, optics: ElementMap{}, result: ElementMap{}, changed: true}
}

func (m *FuncModel) UpdateOptics(optics ElementMap) {
	for name, params := range optics {
		cur, ok := m.optics[name]
		if !ok {
			cur = Params{}
			m.optics[name] = cur
		}
		for k, v := range params {
			if old, ok := cur[k]; ok && Equal(old, v) {
				continue
			}
			cur[k] = v
			m.changed = true
		}
	}
}

func (m *FuncModel) Track() error {
	if !m.changed {
		return nil
	}
	out, err := m.fn(m.optics)
	if err != nil {
		return err
	}
	m.result = out
	m.changed = false
	return nil
}

func (m *FuncModel) Measurements() ElementMap {
	return m.result
}
