package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchPhaseOffsets_ReloadsOnWrite(t *testing.T) {
	// GIVEN a watched offsets file
	dir := t.TempDir()
	path := writeFile(t, dir, "offsets.json", `{"BPM1": 1}`)
	got := make(chan map[string]float64, 4)
	w, err := watchPhaseOffsets(path, func(m map[string]float64) { got <- m })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// WHEN the file is rewritten, and a sibling file is touched
	writeFile(t, dir, "other.json", `{}`)
	require.NoError(t, os.WriteFile(path, []byte(`{"BPM1": 12.5}`), 0o644))

	// THEN the new offsets are delivered
	select {
	case m := <-got:
		assert.Equal(t, map[string]float64{"BPM1": 12.5}, m)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchPhaseOffsets_MissingDirectory(t *testing.T) {
	_, err := watchPhaseOffsets(filepath.Join(t.TempDir(), "gone", "offsets.json"), func(map[string]float64) {})
	assert.Error(t, err)
}
