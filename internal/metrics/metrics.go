// Package metrics holds atomic process-wide counters for the server core.
// It is a plain data holder: executor, connio, and server read/write it
// directly rather than going through a metrics backend, matching spec.md's
// exclusion of observability from the core (§1) while still giving
// operators something to poll.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds atomic counters contributed by every core subsystem.
type Metrics struct {
	// Connection-level (component C)
	ConnectionsAccepted atomic.Uint64
	ConnectionsClosed   atomic.Uint64
	CommandsExecuted    atomic.Uint64
	ProtocolErrors      atomic.Uint64
	IOErrors            atomic.Uint64
	BytesRead           atomic.Uint64
	BytesWritten         atomic.Uint64

	// Executor-level (component D)
	TasksAdmitted     atomic.Uint64
	TasksRejected     atomic.Uint64
	TasksExecuted     atomic.Uint64
	TaskPanics        atomic.Uint64
	WorkersSpawned    atomic.Uint64
	WorkersReaped     atomic.Uint64
	CurrentWorkers    atomic.Int32
	CurrentQueueDepth atomic.Int32

	// Coroutine engine (component E)
	CoroutinesStarted  atomic.Uint64
	CoroutinesFinished atomic.Uint64

	// Storage collaborator (component B)
	StorageErrors atomic.Uint64

	StartTime time.Time
}

// New creates a Metrics instance stamped with the current time.
func New() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// CommandRate returns executed commands per second since start.
func (m *Metrics) CommandRate() float64 {
	elapsed := time.Since(m.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.CommandsExecuted.Load()) / elapsed
}

// Snapshot is a point-in-time copy of the counters, safe to log or serve
// over a status endpoint without holding references into the live struct.
type Snapshot struct {
	Timestamp            time.Time
	ConnectionsAccepted  uint64
	ConnectionsClosed    uint64
	CommandsExecuted     uint64
	ProtocolErrors       uint64
	IOErrors             uint64
	TasksAdmitted        uint64
	TasksRejected        uint64
	CurrentWorkers       int32
	CurrentQueueDepth    int32
	CoroutinesStarted    uint64
	CoroutinesFinished   uint64
	StorageErrors        uint64
	CommandsPerSecond    float64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:           time.Now(),
		ConnectionsAccepted: m.ConnectionsAccepted.Load(),
		ConnectionsClosed:   m.ConnectionsClosed.Load(),
		CommandsExecuted:    m.CommandsExecuted.Load(),
		ProtocolErrors:      m.ProtocolErrors.Load(),
		IOErrors:            m.IOErrors.Load(),
		TasksAdmitted:       m.TasksAdmitted.Load(),
		TasksRejected:       m.TasksRejected.Load(),
		CurrentWorkers:      m.CurrentWorkers.Load(),
		CurrentQueueDepth:   m.CurrentQueueDepth.Load(),
		CoroutinesStarted:   m.CoroutinesStarted.Load(),
		CoroutinesFinished:  m.CoroutinesFinished.Load(),
		StorageErrors:       m.StorageErrors.Load(),
		CommandsPerSecond:   m.CommandRate(),
	}
}
