//go:build linux

// Package runtimex provides best-effort CPU affinity helpers. The
// ST-coroutine server flavor (spec.md §4.4) runs its single coroutine
// scheduler thread pinned to one CPU when configured, supplementing spec.md with
// a feature present only as an ambient-performance concern in the
// original Afina sources and in the teacher's own internal/runtime split.
package runtimex

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// AffinitySpec describes the desired CPU set for the calling thread.
type AffinitySpec struct {
	CPUSet []int
}

// ApplyProcessAffinity is a no-op placeholder for process-wide affinity;
// this server only ever pins its single coroutine scheduler thread, via
// PinCurrentThreadToCPU, so process-wide pinning is left unimplemented
// rather than half-built against a feature nothing calls.
func ApplyProcessAffinity(_ AffinitySpec) error {
	return nil
}

// PinCurrentThreadToCPU locks the calling goroutine to its current OS
// thread and restricts that thread's scheduling to cpu. Best-effort: any
// failure is returned to the caller to log, never fatal, since a
// misconfigured CPU index must not prevent the server from starting.
func PinCurrentThreadToCPU(cpu int) error {
	if cpu < 0 {
		return nil
	}
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
