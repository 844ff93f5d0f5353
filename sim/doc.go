// Package sim provides the core of the virtual accelerator: the value currency
// exchanged between components, the Model / Server / BeamLine contracts, the
// partitioned random source, and the Scheduler that drives the soft real-time loop.
//
// # Reading Guide
//
// Start with these files:
//   - value.go: Value variants, ElementMap and parameter definitions
//   - interfaces.go: the Model, Server and BeamLine contracts
//   - scheduler.go: the tick loop
//
// # Architecture
//
// Implementations live in sub-packages:
//   - sim/transform/: wire ↔ model unit transforms and noise
//   - sim/beamline/: parameters, the embeddable device base and the device registry
//   - sim/device/: concrete device classes (magnets, cavities, BPMs, actuators)
//   - sim/tracker/: the particle tracking library (bunch, nodes, YAML lattice loader)
//   - sim/lattice/: incremental-retrack controller implementing Model
//   - sim/server/: HTTP / websocket Server
//   - sim/archive/: sqlite publish archive wrapping a Server
//   - sim/trace/: per-tick timing records
//
// One goroutine owns the beam line, the model and the bunch snapshots. Other
// goroutines reach them only through Scheduler.Do.
package sim
