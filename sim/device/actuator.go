package device

import (
	"math"
	"time"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/beamline"
	"github.com/virtaccl/virtaccl/sim/transform"
)

func init() {
	Register("Actuator", func(spec Spec, env Env) (beamline.Device, error) {
		opts, err := actuatorOptions(spec)
		if err != nil {
			return nil, err
		}
		return NewActuator(spec.Name, spec.model(), opts, env.now(), env.source(spec.Name)), nil
	})
	Register("WireScanner", func(spec Spec, env Env) (beamline.Device, error) {
		opts, err := actuatorOptions(spec)
		if err != nil {
			return nil, err
		}
		return NewWireScanner(spec.Name, spec.model(), opts, env.now(), env.source(spec.Name)), nil
	})
}

func actuatorOptions(spec Spec) (ActuatorOptions, error) {
	opts := ActuatorOptions{Park: -50, Limit: 50, Speed: 1}
	err := decodeOptions(spec, &opts)
	return opts, err
}

// Actuator commands.
const (
	CommandPark = 0
	CommandMove = 1
	CommandHold = 2
)

const (
	actDestination = "DestinationSet"
	actSpeedSet    = "Speed_Set"
	actCommand     = "Command"
	actPosition    = "PositionSync"
	actSpeed       = "Speed"
)

// ActuatorOptions configures an Actuator. Positions are in mm and speeds in mm/s.
type ActuatorOptions struct {
	Park        float64 `json:"park"`
	Limit       float64 `json:"limit" validate:"nefield=Park"`
	Speed       float64 `json:"speed" validate:"gte=0"`
	Noise       float64 `json:"noise" validate:"gte=0"`
	SignalNoise float64 `json:"signal_noise" validate:"gte=0"`
}

// Actuator is a virtual position controller. Every settings update integrates the
// position at the commanded speed toward the goal and keeps it between the park
// position and the insertion limit.
type Actuator struct {
	*beamline.Base
	model    string
	park     float64 // m
	limit    float64 // m
	position float64 // m
	speed    float64 // m/s, zero when not moving
	last     time.Time
	now      func() time.Time
}

// NewActuator creates an actuator parked at opts.Park. now is the clock read on every
// settings update.
func NewActuator(name, model string, opts ActuatorOptions, now func() time.Time, src transform.Source) *Actuator {
	a := &Actuator{
		Base:     beamline.NewBase(name, model),
		model:    model,
		park:     opts.Park / 1000,
		limit:    opts.Limit / 1000,
		position: opts.Park / 1000,
		now:      now,
	}
	mm := transform.NewLinear(1000, 0)
	a.RegisterSetting(actDestination, sim.Float(a.park), beamline.WithTransform(mm))
	a.RegisterSetting(actSpeedSet, sim.Float(opts.Speed/1000), beamline.WithTransform(mm))
	a.RegisterSetting(actCommand, sim.Int(CommandPark), beamline.WithDefinition(sim.Definition{Type: sim.TypeInt}))
	a.RegisterReadback(actPosition,
		beamline.WithReadbackFunc(func() sim.Value { return sim.Float(a.position) }),
		beamline.WithTransform(mm), beamline.WithNoise(noise(opts.Noise, src)))
	a.RegisterReadback(actSpeed,
		beamline.WithReadbackFunc(func() sim.Value { return sim.Float(a.speed) }),
		beamline.WithTransform(mm))
	return a
}

// UpdateSettingsFromServer ingests writes and advances the position to now.
func (a *Actuator) UpdateSettingsFromServer(raw map[string]sim.Value) {
	a.Base.UpdateSettingsFromServer(raw)
	a.step(a.now())
}

func (a *Actuator) step(t time.Time) {
	if a.last.IsZero() {
		a.last = t
		return
	}
	dt := t.Sub(a.last).Seconds()
	a.last = t
	a.speed = 0

	var goal float64
	switch a.Command() {
	case CommandPark:
		goal = a.park
	case CommandMove:
		goal = a.clamp(a.Real(actDestination))
	default:
		return
	}
	v := math.Abs(a.Real(actSpeedSet))
	dist := goal - a.position
	if dist == 0 || v == 0 || dt <= 0 {
		return
	}
	if travel := v * dt; math.Abs(dist) > travel {
		a.position += math.Copysign(travel, dist)
		a.speed = v
	} else {
		a.position = goal
	}
	a.position = a.clamp(a.position)
}

func (a *Actuator) clamp(x float64) float64 {
	lo, hi := math.Min(a.park, a.limit), math.Max(a.park, a.limit)
	return math.Min(math.Max(x, lo), hi)
}

// Command returns the current command state.
func (a *Actuator) Command() int { return int(math.Round(a.Real(actCommand))) }

// Position returns the integrated position in meters.
func (a *Actuator) Position() float64 { return a.position }

// ModelOptics emits {"position", "speed"} in meters and m/s.
func (a *Actuator) ModelOptics() sim.ElementMap {
	return sim.ElementMap{a.model: {
		"position": sim.Float(a.position),
		"speed":    sim.Float(a.speed),
	}}
}

// WireScanner is an actuator carrying a wire that samples the beam profile.
type WireScanner struct {
	*Actuator
}

// NewWireScanner creates a wire scanner with xSignal and ySignal measurements.
func NewWireScanner(name, model string, opts ActuatorOptions, now func() time.Time, src transform.Source) *WireScanner {
	ws := &WireScanner{Actuator: NewActuator(name, model, opts, now, src)}
	ws.RegisterMeasurement("xSignal", beamline.WithModelKey("x_signal"), beamline.WithNoise(noise(opts.SignalNoise, src)))
	ws.RegisterMeasurement("ySignal", beamline.WithModelKey("y_signal"), beamline.WithNoise(noise(opts.SignalNoise, src)))
	return ws
}
