// Package server is the network face of the virtual accelerator: an HTTP process
// variable gateway with websocket monitors, implementing sim.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim"
)

// ErrUnknownParameter is returned for names that were never added.
var ErrUnknownParameter = errors.New("unknown parameter")

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("server already started")

const shutdownTimeout = 5 * time.Second

// Entry is the published state of one parameter.
type Entry struct {
	Value     sim.Value
	Timestamp time.Time
}

type staged struct {
	values    map[string]sim.Value
	timestamp time.Time
}

// Server buffers client writes until the scheduler collects them with Parameters and
// exposes values staged by SetParameters once Flush is called.
type Server struct {
	addr string
	now  func() time.Time

	mu      sync.RWMutex
	defs    map[string]sim.ParameterDefinition
	values  map[string]Entry
	pending map[string]sim.Value
	staged  []staged

	hub    *hub
	engine *gin.Engine
	health func() any
	http   *http.Server
	done   chan error
}

// Option configures a Server.
type Option func(*Server)

// WithHealth adds fn's result to the /healthz body under "loop".
func WithHealth(fn func() any) Option {
	return func(s *Server) { s.health = fn }
}

// WithClock overrides the clock used to stamp publishes that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server that will listen on addr once started.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		now:     time.Now,
		defs:    make(map[string]sim.ParameterDefinition),
		values:  make(map[string]Entry),
		pending: make(map[string]sim.Value),
		hub:     newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.engine }

// AddParameters registers definitions and their initial values. Re-adding a name
// replaces its definition.
func (s *Server) AddParameters(defs map[string]sim.ParameterDefinition) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, def := range defs {
		if name == "" {
			return fmt.Errorf("add parameters: empty name")
		}
		s.defs[name] = def
		if def.Value != nil {
			s.values[name] = Entry{Value: def.Value, Timestamp: now}
		}
	}
	return nil
}

// Parameters returns and clears the writes accepted since the previous call.
func (s *Server) Parameters() map[string]sim.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = make(map[string]sim.Value)
	return out
}

// SetParameters stages values for the next Flush. A zero timestamp is replaced by the
// current time so staged batches keep call order.
func (s *Server) SetParameters(values map[string]sim.Value, timestamp time.Time) {
	if len(values) == 0 {
		return
	}
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	cp := maps.Clone(values)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, staged{values: cp, timestamp: timestamp})
}

// Flush makes staged values visible and pushes them to monitors.
func (s *Server) Flush() error {
	s.mu.Lock()
	batches := s.staged
	s.staged = nil
	var updates []Update
	for _, b := range batches {
		for _, name := range slices.Sorted(maps.Keys(b.values)) {
			v := b.values[name]
			if _, ok := s.defs[name]; !ok {
				logrus.Debugf("server: publishing undeclared parameter %s", name)
			}
			s.values[name] = Entry{Value: v, Timestamp: b.timestamp}
			updates = append(updates, Update{Name: name, Value: sim.ToAny(v), Timestamp: b.timestamp})
		}
	}
	s.mu.Unlock()
	if len(updates) > 0 {
		s.hub.broadcast(updates)
	}
	return nil
}

// Start binds the listener and serves in the background. Bind failures are returned
// synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.http != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.http = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan error, 1)
	srv, done := s.http, s.done
	s.mu.Unlock()

	logrus.Infof("server: listening on %s", ln.Addr())
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	return nil
}

// Stop closes monitors and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv, done := s.http, s.done
	s.http = nil
	s.mu.Unlock()
	s.hub.closeAll()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-done
}

// Get returns the visible entry of name.
func (s *Server) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.values[name]
	return e, ok
}

// Put validates v against name's definition and buffers it for the loop.
func (s *Server) Put(name string, v sim.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	v, err := coerce(def.Definition, v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.pending[name] = v
	return nil
}

// ErrTypeMismatch is returned by Put when a value does not fit the definition.
var ErrTypeMismatch = errors.New("value does not match parameter type")

// coerce checks v against def and converts integral floats written to int parameters.
func coerce(def sim.Definition, v sim.Value) (sim.Value, error) {
	switch def.Type {
	case sim.TypeInt:
		switch x := v.(type) {
		case sim.Int:
			return x, nil
		case sim.Float:
			if float64(x) == math.Trunc(float64(x)) {
				return sim.Int(int64(x)), nil
			}
		}
		return nil, fmt.Errorf("%w: want int, got %v", ErrTypeMismatch, v)
	case sim.TypeString, sim.TypeChar:
		if _, ok := v.(sim.String); !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrTypeMismatch, v)
		}
	default:
		if def.Count > 0 {
			if _, ok := v.(sim.Array); !ok {
				return nil, fmt.Errorf("%w: want array, got %T", ErrTypeMismatch, v)
			}
			return v, nil
		}
		if _, ok := sim.AsFloat(v); !ok {
			return nil, fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, v)
		}
	}
	return v, nil
}
