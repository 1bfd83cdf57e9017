// Package executor implements the elastic thread pool of spec.md §4.1: a
// bounded worker pool with low/high watermarks, a bounded backlog, and
// idle-timeout-driven reaping. Adapted from the teacher repo's
// internal/processor.WorkerPool (atomic worker counter, panic-wrapped task
// execution, CAS-guarded spawn), generalized to the spec's ordered
// admission policy and precise idle-reap semantics, which a buffered
// channel cannot express: a channel send either always admits up to
// capacity or always blocks, and can't first probe "is a worker idle"
// under the same lock that governs the spawn/queue decision.
package executor

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/metrics"
	"github.com/kvdaemon/kvdaemon/internal/ports"
	"github.com/kvdaemon/kvdaemon/pkg/ringbuffer"
)

// State is the executor's lifecycle, spec.md §3.
type State int32

const (
	// StateRun accepts new tasks.
	StateRun State = iota
	// StateStopping drains in-flight and queued work; admits nothing new.
	StateStopping
	// StateStopped means every worker has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRun:
		return "run"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Executor is a bounded worker pool. See spec.md §4.1 for the admission
// policy and worker loop this implements verbatim.
type Executor struct {
	mu sync.Mutex

	low, high, maxQueue int
	idleTime            time.Duration

	state   State
	workers int
	busy    int
	tasks   *ringbuffer.RingBuffer[func()]

	// wake is closed and replaced to broadcast "tasks or state changed" to
	// every idle worker, the channel equivalent of the spec's non-empty
	// condition variable.
	wake chan struct{}
	// allDone is closed exactly once, when the last worker exits after
	// state leaves Run: the spec's all-stopped condition variable.
	allDone chan struct{}

	logger  ports.Logger
	metrics *metrics.Metrics
}

// New starts low workers immediately and returns the pool in state Run.
// low must be <= high; both are clamped to >= 0. maxQueue must be >= 0.
func New(low, high, maxQueue int, idleTime time.Duration, logger ports.Logger, m *metrics.Metrics) *Executor {
	if low < 0 {
		low = 0
	}
	if high < low {
		high = low
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	if m == nil {
		m = metrics.New()
	}

	capacity := nextPow2(maxQueue + 1)
	if capacity < 2 {
		capacity = 2
	}

	e := &Executor{
		low:      low,
		high:     high,
		maxQueue: maxQueue,
		idleTime: idleTime,
		tasks:    ringbuffer.New[func()](uint32(capacity)),
		wake:     make(chan struct{}),
		allDone:  make(chan struct{}),
		logger:   logger,
		metrics:  m,
	}

	e.mu.Lock()
	for i := 0; i < low; i++ {
		e.spawnWorkerLocked()
	}
	e.mu.Unlock()

	return e
}

// Execute attempts admission per the ordered policy of spec.md §4.1:
// reject if not running, reuse an idle worker, else spawn up to high, else
// queue up to maxQueue, else reject. It never blocks the caller on other
// tasks. Returns whether the task was admitted.
func (e *Executor) Execute(task func()) bool {
	e.mu.Lock()

	if e.state != StateRun {
		e.mu.Unlock()
		e.metrics.TasksRejected.Add(1)
		return false
	}

	switch {
	case e.busy < e.workers:
		e.pushTaskLocked(task)
		e.wakeLocked()
	case e.workers < e.high:
		e.spawnWorkerLocked()
		e.pushTaskLocked(task)
	case e.tasks.Size() < e.maxQueue:
		e.pushTaskLocked(task)
		e.wakeLocked()
	default:
		e.mu.Unlock()
		e.metrics.TasksRejected.Add(1)
		return false
	}

	e.mu.Unlock()
	e.metrics.TasksAdmitted.Add(1)
	return true
}

// Stop transitions the pool to Stopping. If await, it blocks until every
// worker has exited and the pool reaches Stopped. Already-enqueued and
// in-flight tasks still run to completion; nothing new is admitted.
func (e *Executor) Stop(await bool) {
	e.mu.Lock()
	var toClose chan struct{}
	if e.state == StateRun {
		e.state = StateStopping
		if e.workers == 0 {
			e.state = StateStopped
			close(e.allDone)
		} else {
			toClose = e.wake
			e.wake = make(chan struct{})
		}
	}
	e.mu.Unlock()

	if toClose != nil {
		close(toClose)
	}
	if await {
		<-e.allDone
	}
}

// State returns the pool's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WorkerCount returns the current number of live workers.
func (e *Executor) WorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers
}

// QueueDepth returns the current number of queued (not yet running) tasks.
func (e *Executor) QueueDepth() int {
	return e.tasks.Size()
}

func (e *Executor) pushTaskLocked(task func()) {
	t := task
	if !e.tasks.PutUnsafe(&t) {
		// Admission already checked capacity under this same lock.
		panic("executor: task queue overflow despite admission check")
	}
	e.metrics.CurrentQueueDepth.Store(int32(e.tasks.Size()))
}

func (e *Executor) wakeLocked() {
	old := e.wake
	e.wake = make(chan struct{})
	close(old)
}

func (e *Executor) spawnWorkerLocked() {
	e.workers++
	e.metrics.WorkersSpawned.Add(1)
	e.metrics.CurrentWorkers.Store(int32(e.workers))
	go e.workerLoop()
}

// exitWorkerLocked removes the calling worker from the live set. If the
// pool is draining and this was the last worker, it completes the
// Stopping → Stopped transition and wakes Stop(true) waiters.
func (e *Executor) exitWorkerLocked() {
	e.workers--
	e.metrics.WorkersReaped.Add(1)
	e.metrics.CurrentWorkers.Store(int32(e.workers))
	if e.state != StateRun && e.workers == 0 {
		e.state = StateStopped
		close(e.allDone)
	}
}

// workerLoop is the per-worker loop of spec.md §4.1. It consumes tasks
// while any are queued; otherwise it waits on the wake signal up to
// idleTime, reaping itself on timeout if the pool is above its low
// watermark, and exiting unconditionally once the pool is draining and the
// queue is empty.
func (e *Executor) workerLoop() {
	for {
		e.mu.Lock()

		if t := e.tasks.GetUnsafe(); t != nil {
			e.busy++
			e.mu.Unlock()
			e.runTask(*t)
			e.mu.Lock()
			e.busy--
			e.mu.Unlock()
			continue
		}

		if e.state != StateRun {
			e.exitWorkerLocked()
			e.mu.Unlock()
			return
		}

		wakeCh := e.wake
		e.mu.Unlock()

		timer := time.NewTimer(e.idleTime)
		select {
		case <-wakeCh:
			timer.Stop()
		case <-timer.C:
			e.mu.Lock()
			if e.workers > e.low {
				e.exitWorkerLocked()
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
		}
	}
}

// runTask executes task with panic recovery: a task that panics must not
// kill its worker (spec.md §4.1 failure semantics).
func (e *Executor) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.TaskPanics.Add(1)
			if e.logger != nil {
				e.logger.Error("executor: recovered from task panic",
					ports.Field{Key: "panic", Value: r},
					ports.Field{Key: "stack", Value: string(debug.Stack())},
				)
			}
		}
	}()
	task()
	e.metrics.TasksExecuted.Add(1)
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
