package sim

import (
	"math"
	"math/rand"
	"testing"
)

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// Same key+name produces same sequence
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(SubsystemDevice("SCL_Diag:BPM01")).Float64()
		b := rng2.ForSubsystem(SubsystemDevice("SCL_Diag:BPM01")).Float64()
		if a != b {
			t.Errorf("Value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_DeviceIsolation(t *testing.T) {
	// Drawing from one device stream doesn't affect another
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	rngB := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemDevice("BPM01")).Float64()
	}
	for i := 0; i < 5; i++ {
		rngB.ForSubsystem(SubsystemDevice("BPM02")).Float64()
	}

	aFirst := rngA.ForSubsystem(SubsystemDevice("BPM02")).Float64()
	bSixth := rngB.ForSubsystem(SubsystemDevice("BPM02")).Float64()

	fresh := NewPartitionedRNG(NewSimulationKey(42))
	expectedFirst := fresh.ForSubsystem(SubsystemDevice("BPM02")).Float64()

	if aFirst != expectedFirst {
		t.Errorf("first BPM02 value = %v, want %v (isolation broken)", aFirst, expectedFirst)
	}
	if bSixth == expectedFirst {
		t.Error("6th BPM02 value equals 1st value - unexpected")
	}
}

func TestPartitionedRNG_BunchUsesMasterSeed(t *testing.T) {
	seed := int64(42)
	rng := NewPartitionedRNG(NewSimulationKey(seed))
	bunchRNG := rng.ForSubsystem(SubsystemBunch)
	directRNG := rand.New(rand.NewSource(seed))

	for i := 0; i < 10; i++ {
		got := bunchRNG.Float64()
		want := directRNG.Float64()
		if got != want {
			t.Errorf("Value %d: bunch RNG = %v, direct RNG = %v", i, got, want)
		}
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.ForSubsystem(SubsystemDisconnect) != rng.ForSubsystem(SubsystemDisconnect) {
		t.Error("ForSubsystem returned different instances for same name")
	}
}

func TestPartitionedRNG_LazyInitialization(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if len(rng.subsystems) != 0 {
		t.Errorf("New PartitionedRNG has %d subsystems, want 0", len(rng.subsystems))
	}
	rng.ForSubsystem(SubsystemBunch)
	if len(rng.subsystems) != 1 {
		t.Errorf("After one ForSubsystem call, have %d subsystems, want 1", len(rng.subsystems))
	}
}

func TestNameHash_DistinctStreams(t *testing.T) {
	names := []string{
		SubsystemBunch,
		SubsystemDisconnect,
		SubsystemDevice("a"),
		SubsystemDevice("b"),
		"",
	}

	hashes := make(map[int64]string)
	for _, name := range names {
		h := nameHash(name)
		if existing, ok := hashes[h]; ok {
			t.Errorf("Hash collision: %q and %q both hash to %d", name, existing, h)
		}
		hashes[h] = name
	}
}

func TestSubsystemDevice(t *testing.T) {
	if got := SubsystemDevice("SCL_Mag:QH01"); got != "device_SCL_Mag:QH01" {
		t.Errorf("SubsystemDevice = %q", got)
	}
}
