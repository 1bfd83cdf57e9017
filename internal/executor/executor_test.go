package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventually(t *testing.T, d time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("eventually failed: %s", msg)
}

func TestNewStartsLowWorkers(t *testing.T) {
	e := New(3, 6, 10, time.Second, nil, metrics.New())
	defer e.Stop(true)
	assert.Equal(t, 3, e.WorkerCount())
}

func TestAdmissionPolicyOrderedBounds(t *testing.T) {
	e := New(2, 4, 2, time.Minute, nil, metrics.New())
	defer e.Stop(true)

	release := make(chan struct{})
	var started int32
	block := func() {
		atomic.AddInt32(&started, 1)
		<-release
	}

	var admitted, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Execute(block) {
				atomic.AddInt32(&admitted, 1)
			} else {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	eventually(t, time.Second, func() bool { return atomic.LoadInt32(&started) == 4 }, "4 tasks should start running")
	assert.Equal(t, int32(6), admitted, "4 running + 2 queued")
	assert.Equal(t, int32(4), rejected, "remainder rejected")
	assert.Equal(t, 4, e.WorkerCount())

	close(release)
}

func TestIdleWorkersReapedAboveLow(t *testing.T) {
	e := New(1, 4, 10, 50*time.Millisecond, nil, metrics.New())
	defer e.Stop(true)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		ok := e.Execute(func() { defer wg.Done() })
		require.True(t, ok)
	}
	wg.Wait()

	eventually(t, time.Second, func() bool { return e.WorkerCount() == 1 }, "idle workers above low should be reaped")
}

func TestStopAwaitDrainsBeforeReturning(t *testing.T) {
	e := New(1, 2, 10, time.Second, nil, metrics.New())

	var ran atomic.Bool
	require.True(t, e.Execute(func() {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	}))

	e.Stop(true)
	assert.True(t, ran.Load())
	assert.Equal(t, StateStopped, e.State())
	assert.False(t, e.Execute(func() {}), "no task is admitted after Stop")
}

func TestTaskPanicDoesNotKillWorker(t *testing.T) {
	e := New(1, 1, 10, time.Second, nil, metrics.New())
	defer e.Stop(true)

	require.True(t, e.Execute(func() { panic("boom") }))

	var done sync.WaitGroup
	done.Add(1)
	require.True(t, e.Execute(func() { done.Done() }))
	done.Wait()

	assert.Equal(t, 1, e.WorkerCount())
}
