package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Classification(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		tag        string
		optic      bool
		diagnostic bool
	}{
		{TypeQuad, true, false},
		{TypeHCorrector, true, false},
		{TypeVCorrector, true, false},
		{TypeBend, true, false},
		{TypeCavity, true, false},
		{TypeBPM, false, true},
		{TypeWire, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			nt, ok := r.Lookup(tc.tag)
			require.True(t, ok)
			assert.Equal(t, tc.optic, nt.Optic)
			assert.Equal(t, tc.diagnostic, nt.Diagnostic)
		})
	}
	_, ok := r.Lookup("DRIFT")
	assert.False(t, ok)
}

func TestRegistry_Define(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("SLIT", []string{"width"}, Optic()))

	assert.ErrorIs(t, r.Define("SLIT", []string{"width"}), ErrDuplicateNodeType)
	assert.ErrorIs(t, r.Define("BOTH", nil, Optic(), Diagnostic()), ErrInvalidNodeType)
}

func TestNodeType_WireControlKeys(t *testing.T) {
	nt, ok := DefaultRegistry().Lookup(TypeWire)
	require.True(t, ok)
	assert.True(t, nt.writable("position"))
	assert.True(t, nt.writable("speed"))
	assert.False(t, nt.writable("x_signal"))
	assert.True(t, nt.hasKey("x_signal"))
}
