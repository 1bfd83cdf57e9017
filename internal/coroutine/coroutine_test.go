package coroutine

import (
	"sync"
	"testing"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartYieldRunsToCompletion(t *testing.T) {
	e := New(metrics.New())

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	e.Start(func() {
		record("f-start")
		e.Yield()
		record("f-end")
	})
	e.Start(func() {
		record("g-start")
		e.Yield()
		record("g-end")
	})

	e.Yield()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"f-start", "g-start", "f-end", "g-end"}, order)
	assert.Equal(t, 0, e.AliveCount())
}

func TestBlockUnblockResumesExactlyOnce(t *testing.T) {
	e := New(metrics.New())

	resumed := make(chan struct{}, 2)
	var h Handle
	h = e.Start(func() {
		e.Block(Null)
		resumed <- struct{}{}
	})

	// Drive the coroutine up to its self-block.
	e.Yield()
	assert.True(t, e.IsBlocked(h))

	// Unblocking from outside the blocked coroutine's own execution.
	e.Unblock(h)
	assert.False(t, e.IsBlocked(h))

	e.Yield()

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("blocked coroutine never resumed")
	}

	// Idempotent when already unblocked.
	e.Unblock(h)
}

func TestSchedOnBlockedCoroutineIsNoop(t *testing.T) {
	e := New(metrics.New())
	h := e.Start(func() {
		e.Block(Null)
	})
	e.Yield()
	require.True(t, e.IsBlocked(h))

	before := e.Current()
	e.Sched(h)
	assert.Equal(t, before, e.Current(), "scheduling a blocked coroutine must be a no-op")
}

func TestLargeLocalSurvivesYield(t *testing.T) {
	e := New(metrics.New())
	const size = 64 * 1024

	done := make(chan struct{})
	e.Start(func() {
		var buf [size]byte
		for i := range buf {
			buf[i] = byte(i)
		}
		e.Yield()
		for i := range buf {
			if buf[i] != byte(i) {
				t.Errorf("stack-local corrupted at %d: got %d", i, buf[i])
				break
			}
		}
		close(done)
	})
	e.Start(func() {
		e.Yield()
	})

	e.Yield()
	<-done
}
