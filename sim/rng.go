package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey is the master seed of a run. Two runs with the same key, the same
// configuration and the same sequence of external writes draw identical noise.
type SimulationKey int64

// NewSimulationKey wraps a --seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Stream names.
const (
	// SubsystemBunch seeds initial bunch generation with the master seed itself,
	// so --seed alone pins the particles.
	SubsystemBunch = "bunch"

	// SubsystemDisconnect feeds the noise substituted for unplugged diagnostics.
	SubsystemDisconnect = "disconnect"
)

// SubsystemDevice names the noise stream of one device.
func SubsystemDevice(name string) string {
	return fmt.Sprintf("device_%s", name)
}

// PartitionedRNG hands out one *rand.Rand per named stream. Each stream is seeded
// from the master key mixed with a hash of its name, so adding a device or drawing
// more noise on one channel never shifts the values another stream produces.
// Streams are created lazily and belong to the loop goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	rng, ok := p.subsystems[name]
	if !ok {
		rng = rand.New(rand.NewSource(p.seedFor(name)))
		p.subsystems[name] = rng
	}
	return rng
}

func (p *PartitionedRNG) seedFor(name string) int64 {
	if name == SubsystemBunch {
		return int64(p.key)
	}
	return int64(p.key) ^ nameHash(name)
}

// nameHash is 64-bit FNV-1a.
func nameHash(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
