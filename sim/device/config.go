package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/virtaccl/virtaccl/sim/beamline"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// File is the device configuration document.
type File struct {
	Devices []Spec `json:"devices" validate:"required,min=1,dive"`
}

// Spec is one device entry. Options are decoded by the class constructor.
type Spec struct {
	Class string `json:"class" validate:"required"`
	Name  string `json:"name" validate:"required"`
	// Model is the model element the device drives or reads. Defaults to Name.
	Model       string          `json:"model"`
	PowerSupply string          `json:"power_supply"`
	Options     json.RawMessage `json:"options"`
}

func (s Spec) model() string {
	if s.Model == "" {
		return s.Name
	}
	return s.Model
}

// LoadFile reads and validates a device configuration file.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening device config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a device configuration strictly and validates it.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing device config: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}
	return &f, nil
}

// Build constructs every device in file order and adds it to a new beam line.
// Devices may only reference devices listed before them.
func Build(f *File, env Env) (*beamline.BeamLine, error) {
	bl := beamline.New()
	env.Lookup = bl.Device
	for _, spec := range f.Devices {
		d, err := New(spec, env)
		if err != nil {
			return nil, err
		}
		if err := bl.AddDevice(d); err != nil {
			return nil, err
		}
	}
	return bl, nil
}

// decodeOptions strictly decodes raw into dst and validates it. Empty options leave
// dst at its defaults.
func decodeOptions(spec Spec, dst any) error {
	if len(bytes.TrimSpace(spec.Options)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(spec.Options))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return fmt.Errorf("device %s (%s) options: %w", spec.Name, spec.Class, err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("device %s (%s) options: %w", spec.Name, spec.Class, err)
	}
	return nil
}

// LoadPhaseOffsets reads a JSON object mapping device names to phase offsets in degrees.
func LoadPhaseOffsets(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading phase offsets: %w", err)
	}
	offsets := map[string]float64{}
	if err := json.Unmarshal(data, &offsets); err != nil {
		return nil, fmt.Errorf("parsing phase offsets %s: %w", path, err)
	}
	return offsets, nil
}
