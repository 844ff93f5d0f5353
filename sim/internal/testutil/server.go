// Package testutil provides shared test infrastructure for the virtual accelerator.
// It holds an in-memory sim.Server and assertion helpers used across sim/ test packages.
package testutil

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/virtaccl/virtaccl/sim"
)

// Publish is one SetParameters call seen by a RecordingServer.
type Publish struct {
	Values    map[string]sim.Value
	Timestamp time.Time
}

// RecordingServer is an in-memory sim.Server. Writes queued with Write are returned by
// the next Parameters call; every publish and flush is recorded in order.
type RecordingServer struct {
	// OnFlush, if set, runs at the end of every Flush with the flush count.
	OnFlush func(n int)

	mu        sync.Mutex
	defs      map[string]sim.ParameterDefinition
	pending   map[string]sim.Value
	publishes []Publish
	values    map[string]sim.Value
	flushes   int
	started   bool
}

// NewRecordingServer returns an empty server.
func NewRecordingServer() *RecordingServer {
	return &RecordingServer{
		defs:    make(map[string]sim.ParameterDefinition),
		pending: make(map[string]sim.Value),
		values:  make(map[string]sim.Value),
	}
}

func (s *RecordingServer) AddParameters(defs map[string]sim.ParameterDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, def := range defs {
		s.defs[name] = def
		s.values[name] = def.Value
	}
	return nil
}

// Write queues an external write, as a network client would.
func (s *RecordingServer) Write(name string, v sim.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = v
}

func (s *RecordingServer) Parameters() map[string]sim.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = make(map[string]sim.Value)
	return out
}

func (s *RecordingServer) SetParameters(values map[string]sim.Value, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes = append(s.publishes, Publish{Values: maps.Clone(values), Timestamp: timestamp})
	maps.Copy(s.values, values)
}

func (s *RecordingServer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *RecordingServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *RecordingServer) Flush() error {
	s.mu.Lock()
	s.flushes++
	n, hook := s.flushes, s.OnFlush
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

// Definitions returns the registered parameter definitions.
func (s *RecordingServer) Definitions() map[string]sim.ParameterDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.defs)
}

// Publishes returns every SetParameters call so far.
func (s *RecordingServer) Publishes() []Publish {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Publish(nil), s.publishes...)
}

// Value returns the latest published (or initial) value of name.
func (s *RecordingServer) Value(name string) (sim.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// Flushes returns the number of Flush calls.
func (s *RecordingServer) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Started reports whether Start was called without a later Stop.
func (s *RecordingServer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
