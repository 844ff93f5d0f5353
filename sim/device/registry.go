// Package device provides the concrete beam-line devices and the class registry that
// builds them from configuration. Each device file registers its class in init().
package device

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/transform"
)

// ErrUnknownClass is returned for a device class with no registered constructor.
var ErrUnknownClass = errors.New("unknown device class")

// Env carries what constructors need beyond their own configuration.
type Env struct {
	// RNG feeds per-device noise streams. Nil uses the global source.
	RNG *sim.PartitionedRNG
	// Lookup resolves devices built earlier, such as power supplies.
	Lookup func(name string) (beamline.Device, bool)
	// Now is the wall clock for devices that integrate over time. Nil uses time.Now.
	Now func() time.Time
}

func (e Env) source(name string) transform.Source {
	if e.RNG == nil {
		return nil
	}
	return e.RNG.ForSubsystem(sim.SubsystemDevice(name))
}

func (e Env) now() func() time.Time {
	if e.Now == nil {
		return time.Now
	}
	return e.Now
}

func (e Env) powerSupply(spec Spec) (*PowerSupply, error) {
	if spec.PowerSupply == "" {
		return nil, fmt.Errorf("device %s: power_supply is required", spec.Name)
	}
	if e.Lookup == nil {
		return nil, fmt.Errorf("device %s: no device lookup available", spec.Name)
	}
	d, ok := e.Lookup(spec.PowerSupply)
	if !ok {
		return nil, fmt.Errorf("device %s: power supply %s not defined before it", spec.Name, spec.PowerSupply)
	}
	ps, ok := d.(*PowerSupply)
	if !ok {
		return nil, fmt.Errorf("device %s: %s is not a power supply", spec.Name, spec.PowerSupply)
	}
	return ps, nil
}

// Constructor builds one device from its configuration entry.
type Constructor func(spec Spec, env Env) (beamline.Device, error)

var constructors = map[string]Constructor{}

// Register binds a class name to a constructor. Panics on a duplicate class.
func Register(class string, ctor Constructor) {
	if _, dup := constructors[class]; dup {
		panic(fmt.Sprintf("device class %q registered twice", class))
	}
	constructors[class] = ctor
}

// Classes returns the registered class names, sorted.
func Classes() []string {
	out := make([]string, 0, len(constructors))
	for c := range constructors {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// New builds the device described by spec.
func New(spec Spec, env Env) (beamline.Device, error) {
	ctor, ok := constructors[spec.Class]
	if !ok {
		return nil, fmt.Errorf("%w: %q (device %s)", ErrUnknownClass, spec.Class, spec.Name)
	}
	return ctor(spec, env)
}
