package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/virtaccl/virtaccl/sim/trace"
)

// RunOptions is the resolved configuration of one simulator run.
type RunOptions struct {
	Devices      string
	Lattice      string
	PhaseOffsets string
	Rate         float64
	SyncTime     bool
	Seed         int64
	Addr         string
	Archive      string
	Log          string
	Trace        string
}

// RunProfile is the YAML run profile. Unset fields leave the flag value in place;
// relative paths are resolved against the profile's directory.
// All fields must be listed to satisfy KnownFields(true) strict parsing.
type RunProfile struct {
	Devices      string   `yaml:"devices"`
	Lattice      string   `yaml:"lattice"`
	PhaseOffsets string   `yaml:"phase_offsets"`
	Rate         *float64 `yaml:"rate"`
	SyncTime     *bool    `yaml:"sync_time"`
	Seed         *int64   `yaml:"seed"`
	Addr         string   `yaml:"addr"`
	Archive      string   `yaml:"archive"`
	Log          string   `yaml:"log"`
	Trace        string   `yaml:"trace"`
}

// LoadProfile reads a run profile with strict field checking.
func LoadProfile(path string) (*RunProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	var p RunProfile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return &p, nil
}

// Apply copies profile values into o for every flag the user did not set explicitly.
func (p *RunProfile) Apply(o *RunOptions, dir string, changed func(flag string) bool) {
	path := func(flag, v string, dst *string) {
		if v == "" || changed(flag) {
			return
		}
		if !filepath.IsAbs(v) {
			v = filepath.Join(dir, v)
		}
		*dst = v
	}
	str := func(flag, v string, dst *string) {
		if v != "" && !changed(flag) {
			*dst = v
		}
	}
	path("devices", p.Devices, &o.Devices)
	path("lattice", p.Lattice, &o.Lattice)
	path("phase-offsets", p.PhaseOffsets, &o.PhaseOffsets)
	path("archive", p.Archive, &o.Archive)
	str("addr", p.Addr, &o.Addr)
	str("log", p.Log, &o.Log)
	str("trace", p.Trace, &o.Trace)
	if p.Rate != nil && !changed("rate") {
		o.Rate = *p.Rate
	}
	if p.SyncTime != nil && !changed("sync-time") {
		o.SyncTime = *p.SyncTime
	}
	if p.Seed != nil && !changed("seed") {
		o.Seed = *p.Seed
	}
}

// Validate checks the options that cannot be caught by the loaders.
func (o RunOptions) Validate() error {
	if o.Devices == "" {
		return fmt.Errorf("no device configuration given (--devices)")
	}
	if o.Lattice == "" {
		return fmt.Errorf("no lattice description given (--lattice)")
	}
	if o.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %g", o.Rate)
	}
	if !trace.IsValidTraceLevel(o.Trace) {
		return fmt.Errorf("unknown trace level %q", o.Trace)
	}
	return nil
}
