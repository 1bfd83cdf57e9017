package runtimex

import "testing"

func TestApplyProcessAffinityNeverFails(t *testing.T) {
	if err := ApplyProcessAffinity(AffinitySpec{CPUSet: []int{0}}); err != nil {
		t.Fatalf("ApplyProcessAffinity: %v", err)
	}
}

func TestPinCurrentThreadToCPUNegativeIsNoop(t *testing.T) {
	if err := PinCurrentThreadToCPU(-1); err != nil {
		t.Fatalf("PinCurrentThreadToCPU(-1): %v", err)
	}
}
