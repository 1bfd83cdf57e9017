//go:build !linux

// Package runtimex provides best-effort CPU affinity helpers. Non-Linux:
// no portable affinity syscall exists, so every call is a no-op.
package runtimex

// AffinitySpec describes the desired CPU set for the calling thread.
type AffinitySpec struct {
	CPUSet []int
}

// ApplyProcessAffinity is a no-op on non-Linux builds.
func ApplyProcessAffinity(_ AffinitySpec) error { return nil }

// PinCurrentThreadToCPU is a no-op on non-Linux builds.
func PinCurrentThreadToCPU(_ int) error { return nil }
