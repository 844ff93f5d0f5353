// Package beamline holds the device registry: parameters, the device base every
// instrument embeds, and the BeamLine that fans server writes out to devices and
// collects their optics and dirty values.
package beamline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim"
)

var (
	// ErrDuplicateDevice is returned when two devices share a name.
	ErrDuplicateDevice = errors.New("duplicate device name")
	// ErrDuplicateParameter is returned when two parameters share an external name.
	ErrDuplicateParameter = errors.New("duplicate parameter name")
)

type paramRef struct {
	device Device
	reason string
	class  Class
}

// BeamLine is an insertion-ordered registry of devices. Its topology is fixed once
// the simulator starts.
type BeamLine struct {
	devices []Device
	byName  map[string]Device
	index   map[string]paramRef

	settings     map[string]struct{}
	measurements map[string]struct{}
	readbacks    map[string]struct{}
}

// New creates an empty BeamLine.
func New() *BeamLine {
	return &BeamLine{
		byName:       make(map[string]Device),
		index:        make(map[string]paramRef),
		settings:     make(map[string]struct{}),
		measurements: make(map[string]struct{}),
		readbacks:    make(map[string]struct{}),
	}
}

// AddDevice appends d. Duplicate device names or external parameter names are
// configuration errors.
func (bl *BeamLine) AddDevice(d Device) error {
	if _, ok := bl.byName[d.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.Name())
	}
	params := d.Parameters()
	for _, p := range params {
		if prev, ok := bl.index[p.FullName()]; ok {
			return fmt.Errorf("%w: %s (devices %s and %s)", ErrDuplicateParameter, p.FullName(), prev.device.Name(), d.Name())
		}
	}
	for _, p := range params {
		c, _ := d.ClassOf(p.Reason())
		bl.index[p.FullName()] = paramRef{device: d, reason: p.Reason(), class: c}
		switch c {
		case ClassSetting:
			bl.settings[p.FullName()] = struct{}{}
		case ClassMeasurement:
			bl.measurements[p.FullName()] = struct{}{}
		case ClassReadback:
			bl.readbacks[p.FullName()] = struct{}{}
		}
	}
	bl.devices = append(bl.devices, d)
	bl.byName[d.Name()] = d
	return nil
}

// Devices returns the devices in insertion order.
func (bl *BeamLine) Devices() []Device { return bl.devices }

// Device looks a device up by name.
func (bl *BeamLine) Device(name string) (Device, bool) {
	d, ok := bl.byName[name]
	return d, ok
}

// Lookup resolves an external name to its Parameter.
func (bl *BeamLine) Lookup(fullName string) (*Parameter, Class, bool) {
	ref, ok := bl.index[fullName]
	if !ok {
		return nil, 0, false
	}
	return ref.device.Parameter(ref.reason), ref.class, true
}

// SettingNames returns the external names of every Setting.
func (bl *BeamLine) SettingNames() map[string]struct{} { return bl.settings }

// MeasurementNames returns the external names of every Measurement.
func (bl *BeamLine) MeasurementNames() map[string]struct{} { return bl.measurements }

// ReadbackNames returns the external names of every Readback.
func (bl *BeamLine) ReadbackNames() map[string]struct{} { return bl.readbacks }

// ParameterDefinitions returns every parameter's definition with its current wire
// value, for server initialization.
func (bl *BeamLine) ParameterDefinitions() map[string]sim.ParameterDefinition {
	out := make(map[string]sim.ParameterDefinition)
	for _, d := range bl.devices {
		for name, def := range d.Definitions() {
			out[name] = def
		}
	}
	return out
}

// ResetDevices resets every device's Settings to their defaults.
func (bl *BeamLine) ResetDevices() {
	for _, d := range bl.devices {
		d.Reset()
	}
}

// UpdateSettingsFromServer hands each device the subset of serverPVs naming its
// Settings. Writes to Measurements, Readbacks or unknown names are logged and dropped.
func (bl *BeamLine) UpdateSettingsFromServer(serverPVs map[string]sim.Value) {
	subsets := make(map[Device]map[string]sim.Value)
	for name, v := range serverPVs {
		ref, ok := bl.index[name]
		if !ok {
			logrus.Warnf("ignoring write to unknown parameter %s", name)
			continue
		}
		if ref.class != ClassSetting {
			logrus.Warnf("ignoring write to %s parameter %s", ref.class, name)
			continue
		}
		sub, ok := subsets[ref.device]
		if !ok {
			sub = make(map[string]sim.Value)
			subsets[ref.device] = sub
		}
		sub[ref.reason] = v
	}
	for _, d := range bl.devices {
		if sub, ok := subsets[d]; ok {
			d.UpdateSettingsFromServer(sub)
		} else {
			d.UpdateSettingsFromServer(map[string]sim.Value{})
		}
	}
}

// ModelOptics merges every device's optics fragment in insertion order; a later
// device writing the same element key wins.
func (bl *BeamLine) ModelOptics() sim.ElementMap {
	out := sim.ElementMap{}
	for _, d := range bl.devices {
		out.Merge(d.ModelOptics())
	}
	return out
}

// UpdateMeasurementsFromModel hands each device the slice of measurements keyed by
// its model names.
func (bl *BeamLine) UpdateMeasurementsFromModel(measurements sim.ElementMap) {
	for _, d := range bl.devices {
		slice := sim.ElementMap{}
		for _, model := range d.ModelNames() {
			if params, ok := measurements[model]; ok {
				slice[model] = params
			}
		}
		if len(slice) > 0 {
			d.UpdateMeasurements(slice)
		}
	}
}

// UpdateReadbacks refreshes every device's Readbacks.
func (bl *BeamLine) UpdateReadbacks() {
	for _, d := range bl.devices {
		d.UpdateReadbacks()
	}
}

// DrainForServer collects the dirty values of every device and clears their dirty sets.
func (bl *BeamLine) DrainForServer() map[string]sim.Value {
	out := make(map[string]sim.Value)
	for _, d := range bl.devices {
		for name, v := range d.DrainDirty() {
			out[name] = v
		}
	}
	return out
}

// ApplyPhaseOffsets forwards per-device phase offsets (degrees) to devices that
// carry a phase transform. Returns the names that matched no such device.
func (bl *BeamLine) ApplyPhaseOffsets(offsets map[string]float64) []string {
	var unmatched []string
	for name, off := range offsets {
		d, ok := bl.byName[name]
		if !ok {
			unmatched = append(unmatched, name)
			continue
		}
		po, ok := d.(PhaseOffsetter)
		if !ok {
			unmatched = append(unmatched, name)
			continue
		}
		po.SetPhaseOffset(off)
	}
	slices.Sort(unmatched)
	return unmatched
}

// PhaseOffsetter is implemented by devices whose phase channels carry a calibration offset.
type PhaseOffsetter interface {
	SetPhaseOffset(degrees float64)
}
