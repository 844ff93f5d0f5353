package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementMap_Merge_LaterWins(t *testing.T) {
	m := ElementMap{"QH1": {"dB/dr": Float(1)}}
	m.Merge(ElementMap{"QH1": {"dB/dr": Float(2)}, "DCH1": {"B": Float(0.1)}})

	want := ElementMap{"QH1": {"dB/dr": Float(2)}, "DCH1": {"B": Float(0.1)}}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("merged map mismatch (-want +got):\n%s", diff)
	}
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    Value
		wantErr bool
	}{
		{"float", 1.5, Float(1.5), false},
		{"int", 3, Int(3), false},
		{"bool", true, Int(1), false},
		{"string", "ON", String("ON"), false},
		{"json array", []any{1.0, 2.0}, Array{1, 2}, false},
		{"mixed array", []any{1.0, "x"}, nil, true},
		{"map", map[string]any{}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromAny(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToAny_NonFiniteAsString(t *testing.T) {
	assert.Equal(t, "NaN", ToAny(Float(math.NaN())))
	assert.Equal(t, "+Inf", ToAny(Float(math.Inf(1))))
	assert.Equal(t, 2.5, ToAny(Float(2.5)))
	assert.Equal(t, int64(4), ToAny(Int(4)))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Array{1, 2}, Array{1, 2}))
	assert.False(t, Equal(Array{1, 2}, Array{1, 3}))
	assert.False(t, Equal(Float(1), Int(1)))
	assert.True(t, Equal(String("a"), String("a")))
}

func TestAsFloat(t *testing.T) {
	f, ok := AsFloat(Int(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)
	_, ok = AsFloat(String("3"))
	assert.False(t, ok)
	assert.Equal(t, 0.0, MustFloat(Array{1}))
}

func TestFuncModel_ReevaluatesOnlyOnChange(t *testing.T) {
	// GIVEN a model counting its evaluations
	calls := 0
	m := NewFuncModel(func(optics ElementMap) (ElementMap, error) {
		calls++
		return ElementMap{"FC1": {"current": Float(MustFloat(optics["SLIT1"]["width"]) * 2)}}, nil
	})

	// WHEN the same optics are applied twice
	m.UpdateOptics(ElementMap{"SLIT1": {"width": Float(1)}})
	require.NoError(t, m.Track())
	m.UpdateOptics(ElementMap{"SLIT1": {"width": Float(1)}})
	require.NoError(t, m.Track())

	// THEN the function ran once
	assert.Equal(t, 1, calls)
	assert.Equal(t, Float(2), m.Measurements()["FC1"]["current"])

	// WHEN the optics change
	m.UpdateOptics(ElementMap{"SLIT1": {"width": Float(3)}})
	require.NoError(t, m.Track())

	// THEN it runs again
	assert.Equal(t, 2, calls)
	assert.Equal(t, Float(6), m.Measurements()["FC1"]["current"])
}

func TestFuncModel_FailureRetriesAndKeepsLastResult(t *testing.T) {
	fail := false
	m := NewFuncModel(func(optics ElementMap) (ElementMap, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return ElementMap{"FC1": {"current": Float(1)}}, nil
	})
	require.NoError(t, m.Track())

	fail = true
	m.UpdateOptics(ElementMap{"SLIT1": {"width": Float(5)}})
	assert.Error(t, m.Track())
	assert.Equal(t, Float(1), m.Measurements()["FC1"]["current"])

	fail = false
	require.NoError(t, m.Track())
}

func TestDefinitions(t *testing.T) {
	assert.Equal(t, Definition{Type: TypeFloat, Prec: 3}, DefaultDefinition())
	assert.Equal(t, Definition{Type: TypeFloat, Count: 8}, ArrayDefinition(8))
}
