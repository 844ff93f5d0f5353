package beamline

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtaccl/virtaccl/sim"
	"github.com/virtaccl/virtaccl/sim/transform"
)

// magnet is a minimal physical device: one Setting in amps mapped to a model field
// in tesla, a mirrored readback and one measurement.
type magnet struct {
	*Base
}

func newMagnet(name, model string) *magnet {
	m := &magnet{Base: NewBase(name, model)}
	m.RegisterSetting("I_Set", sim.Float(2), WithTransform(transform.NewLinear(10, 0)))
	m.RegisterReadback("I", Mirrors("I_Set"))
	m.RegisterMeasurement("Temp", WithModelKey("temperature"))
	return m
}

func (m *magnet) ModelOptics() sim.ElementMap {
	return sim.ElementMap{m.ModelNames()[0]: {"B": m.Parameter("I_Set").RealValue()}}
}

func TestParameter_ZeroNoiseRoundTrip(t *testing.T) {
	for _, tr := range []transform.Transform{transform.Identity{}, transform.NewLinear(1000, 0)} {
		p := newParameter("x", "D:x", sim.Float(0), WithTransform(tr))
		p.SetFromServer(sim.Float(12.5))
		assert.InDelta(t, 12.5, sim.MustFloat(p.ValueForServer()), 1e-12)
	}

	// Identity is bit-identical
	p := newParameter("x", "D:x", sim.Float(0))
	p.SetFromServer(sim.Float(0.1))
	assert.Equal(t, sim.Float(0.1), p.ValueForServer())
}

func TestParameter_NoiseBoundedByAmplitude(t *testing.T) {
	src := rand.New(rand.NewSource(3))
	p := newParameter("x", "D:x", sim.Float(0),
		WithTransform(transform.NewLinear(1000, 0)),
		WithNoise(transform.NewAbsNoise(0.5, src)))
	p.SetRealValue(sim.Float(0.002))

	want := sim.MustFloat(p.Transform().Raw(p.RealValue()))
	seen := map[float64]bool{}
	for i := 0; i < 200; i++ {
		got := sim.MustFloat(p.ValueForServer())
		assert.LessOrEqual(t, got-want, 0.5)
		assert.GreaterOrEqual(t, got-want, -0.5)
		seen[got] = true
	}
	// every publish re-rolls
	assert.Greater(t, len(seen), 150)
	// the stored real value is untouched by noise
	assert.Equal(t, sim.Float(0.002), p.RealValue())
}

func TestParameter_ResetToDefault(t *testing.T) {
	p := newParameter("x", "D:x", sim.Float(4))
	p.SetRealValue(sim.Float(9))
	p.ResetToDefault()
	assert.Equal(t, sim.Float(4), p.RealValue())
}

func TestBase_RegisterDuplicatePanics(t *testing.T) {
	b := NewBase("D")
	b.RegisterSetting("x", sim.Float(0))
	assert.Panics(t, func() { b.RegisterMeasurement("x") })
}

func TestBase_ReadbackInheritsSettingDefinition(t *testing.T) {
	b := NewBase("D")
	def := sim.Definition{Type: sim.TypeFloat, Prec: 6}
	b.RegisterReadback("rb", Mirrors("sp"))
	b.RegisterSetting("sp", sim.Float(1), WithDefinition(def))

	defs := b.Definitions()
	assert.Equal(t, def, defs["D:rb"].Definition)
	assert.Equal(t, sim.Float(1), defs["D:sp"].Value)
}

func TestDevice_ResetTouchesOnlySettings(t *testing.T) {
	m := newMagnet("Mag:Q1", "Q1")
	m.Parameter("I_Set").SetRealValue(sim.Float(7))
	m.UpdateMeasurement("Temp", sim.Float(30))
	m.UpdateReadbacks()

	m.Reset()

	assert.Equal(t, sim.Float(2), m.Parameter("I_Set").RealValue())
	assert.Equal(t, sim.Float(30), m.Parameter("Temp").RealValue())
	assert.Equal(t, sim.Float(7), m.Parameter("I").RealValue())
}

func TestDevice_UpdateMeasurementsIgnoresUnknownKeys(t *testing.T) {
	m := newMagnet("Mag:Q1", "Q1")
	m.UpdateMeasurements(sim.ElementMap{
		"Q1":    {"temperature": sim.Float(25), "unused": sim.Float(1)},
		"other": {"temperature": sim.Float(99)},
	})
	assert.Equal(t, sim.Float(25), m.Parameter("Temp").RealValue())
	assert.Equal(t, []string{"Temp"}, m.Dirty())
}

func TestDevice_DrainDirtyClears(t *testing.T) {
	m := newMagnet("Mag:Q1", "Q1")
	m.UpdateReadbacks()
	got := m.DrainDirty()
	assert.Equal(t, map[string]sim.Value{"Mag:Q1:I": sim.Float(2)}, got)
	assert.Empty(t, m.DrainDirty())
}

func TestBeamLine_AddDeviceRejectsDuplicates(t *testing.T) {
	bl := New()
	require.NoError(t, bl.AddDevice(newMagnet("Mag:Q1", "Q1")))
	err := bl.AddDevice(newMagnet("Mag:Q1", "Q2"))
	assert.ErrorIs(t, err, ErrDuplicateDevice)

	other := newMagnet("Mag:Q2", "Q2")
	other.RegisterMeasurement("clash", WithExternalName("Mag:Q1:I_Set"))
	assert.ErrorIs(t, bl.AddDevice(other), ErrDuplicateParameter)
	assert.Len(t, bl.Devices(), 1)
}

func TestBeamLine_UpdateSettingsFromServer(t *testing.T) {
	// GIVEN two magnets registered on a beam line
	bl := New()
	q1, q2 := newMagnet("Mag:Q1", "Q1"), newMagnet("Mag:Q2", "Q2")
	require.NoError(t, bl.AddDevice(q1))
	require.NoError(t, bl.AddDevice(q2))
	q2.UpdateMeasurement("Temp", sim.Float(40))

	// WHEN the server hands over a snapshot that includes non-Setting names
	bl.UpdateSettingsFromServer(map[string]sim.Value{
		"Mag:Q1:I_Set": sim.Float(50),
		"Mag:Q2:Temp":  sim.Float(-1),
		"Mag:Q2:I":     sim.Float(-1),
		"Nope:X":       sim.Float(1),
	})

	// THEN only the Setting is ingested, through transform.Real
	assert.Equal(t, sim.Float(5), q1.Parameter("I_Set").RealValue())
	assert.Equal(t, sim.Float(2), q2.Parameter("I_Set").RealValue())
	assert.Equal(t, sim.Float(40), q2.Parameter("Temp").RealValue())
	assert.Equal(t, sim.Float(0), q2.Parameter("I").RealValue())

	// AND the accepted setpoint is republished in wire units
	assert.Equal(t, []string{"I_Set"}, q1.Dirty())
	assert.Equal(t, []string{"Temp"}, q2.Dirty())
	assert.Equal(t, map[string]sim.Value{"Mag:Q1:I_Set": sim.Float(50)}, q1.DrainDirty())
}

func TestBeamLine_ModelOpticsMergesInOrder(t *testing.T) {
	bl := New()
	a, b := newMagnet("A", "Q1"), newMagnet("B", "Q1")
	require.NoError(t, bl.AddDevice(a))
	require.NoError(t, bl.AddDevice(b))
	b.Parameter("I_Set").SetRealValue(sim.Float(9))

	got := bl.ModelOptics()
	if diff := cmp.Diff(sim.ElementMap{"Q1": {"B": sim.Float(9)}}, got); diff != "" {
		t.Errorf("ModelOptics() mismatch (-want +got):\n%s", diff)
	}
}

func TestBeamLine_MeasurementsAndDrain(t *testing.T) {
	bl := New()
	q1 := newMagnet("Mag:Q1", "Q1")
	require.NoError(t, bl.AddDevice(q1))
	require.NoError(t, bl.AddDevice(newMagnet("Mag:Q2", "Q2")))

	bl.UpdateMeasurementsFromModel(sim.ElementMap{"Q1": {"temperature": sim.Float(21)}})
	bl.UpdateReadbacks()
	got := bl.DrainForServer()

	want := map[string]sim.Value{
		"Mag:Q1:Temp": sim.Float(21),
		"Mag:Q1:I":    sim.Float(2),
		"Mag:Q2:I":    sim.Float(2),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DrainForServer() mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, bl.DrainForServer())
}

func TestBeamLine_ParameterDefinitionsAndIndex(t *testing.T) {
	bl := New()
	require.NoError(t, bl.AddDevice(newMagnet("Mag:Q1", "Q1")))

	defs := bl.ParameterDefinitions()
	assert.Len(t, defs, 3)
	assert.Equal(t, sim.Float(20), defs["Mag:Q1:I_Set"].Value)

	p, class, ok := bl.Lookup("Mag:Q1:Temp")
	require.True(t, ok)
	assert.Equal(t, ClassMeasurement, class)
	assert.Equal(t, "Temp", p.Reason())
	assert.Contains(t, bl.SettingNames(), "Mag:Q1:I_Set")
	assert.Contains(t, bl.ReadbackNames(), "Mag:Q1:I")
	assert.Contains(t, bl.MeasurementNames(), "Mag:Q1:Temp")
}
