// Package coroutine implements the cooperative, single-threaded scheduler
// of spec.md §4.2: alive/blocked queues, no preemption, and exactly one
// logically active context at a time.
//
// REDESIGN (spec.md §9): the source saves and restores a coroutine's native
// stack by copying it to and from a heap buffer, a strategy whose
// correctness depends on the native stack-growth direction and that Go
// gives no portable hook to replicate (goroutine stacks are managed by the
// runtime and already grow/shrink safely). The behavioral contract that
// matters — a single active logical thread, alive/blocked lists, and
// Start/Yield/Sched/Block/Unblock/Enter with spec.md's exact semantics — is
// preserved exactly: every coroutine is a real goroutine parked on a
// rendezvous channel, and the engine hands control to exactly one of them
// at a time. The intrusive doubly-linked context list becomes an arena
// (nodes indexed by a stable Handle) plus two ordered Handle slices for
// alive/blocked, per the companion REDESIGN FLAG.
package coroutine

import (
	"sync"

	"github.com/kvdaemon/kvdaemon/internal/metrics"
)

// Handle identifies a coroutine context. The zero value, Null, is the
// sentinel spec.md §4.2's Sched uses to mean "yield".
type Handle int

// Null is "no target"; Sched(Null) behaves exactly like Yield().
const Null Handle = 0

type state int

const (
	stateAlive state = iota
	stateBlocked
	stateRunning
	stateFinished
)

type node struct {
	resume chan struct{}
	state  state
}

// Engine is a single-threaded cooperative scheduler. All of its exported
// methods must only ever be called from the one goroutine currently holding
// "current" — there is no preemption and no concurrent scheduling.
type Engine struct {
	mu sync.Mutex

	nodes        []*node // arena; index 0 unused (reserved for Null)
	aliveOrder   []Handle
	blockedOrder []Handle
	current      Handle
	root         Handle

	metrics *metrics.Metrics
}

// New creates an engine whose "current" context is the calling goroutine
// itself (the root), analogous to the idle context of spec.md's Store/
// Restore model before any coroutine has ever run.
func New(m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.New()
	}
	e := &Engine{
		nodes:   make([]*node, 1, 4), // index 0 = Null placeholder
		metrics: m,
	}
	root := &node{resume: make(chan struct{}, 1), state: stateRunning}
	e.nodes = append(e.nodes, root)
	e.root = Handle(len(e.nodes) - 1)
	e.current = e.root
	return e
}

// Root returns the handle representing the engine's bootstrapping caller.
func (e *Engine) Root() Handle { return e.root }

// Current returns the handle of the presently running context.
func (e *Engine) Current() Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Start allocates a context for entry, attaches it to the alive list, and
// returns its handle. entry does not begin executing until some Yield,
// Sched, or the coroutine-finish handoff first enters it.
func (e *Engine) Start(entry func()) Handle {
	e.mu.Lock()
	n := &node{resume: make(chan struct{}, 1), state: stateAlive}
	e.nodes = append(e.nodes, n)
	h := Handle(len(e.nodes) - 1)
	e.aliveOrder = append(e.aliveOrder, h)
	e.mu.Unlock()

	e.metrics.CoroutinesStarted.Add(1)

	go func() {
		<-n.resume
		entry()
		e.finish(h)
	}()

	return h
}

// Yield picks any alive context other than current and enters it. If none
// is alive, Yield is a no-op and control simply continues in current.
func (e *Engine) Yield() {
	e.mu.Lock()
	target, ok := e.nextAliveLocked()
	e.mu.Unlock()
	if !ok {
		return
	}
	e.transferAway(target, true)
}

// Sched enters target directly. Null means "yield"; a no-op results if
// target is already current or is blocked (spec.md §4.2).
func (e *Engine) Sched(target Handle) {
	if target == Null {
		e.Yield()
		return
	}
	e.mu.Lock()
	if target == e.current || e.nodes[target].state == stateBlocked {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.transferAway(target, true)
}

// ReturnToCaller hands control back to whichever goroutine most recently
// called Run, unblocking it. It is the coroutine-side half of Run and is
// how a coroutine-driven server shuts its scheduler down cleanly.
func (e *Engine) ReturnToCaller() {
	e.transferAway(e.root, true)
}

// Run is the entry point for the goroutine bootstrapping the engine (the
// "idle" context of spec.md §4.2): it enters target and blocks until
// control is handed back to the root, via ReturnToCaller or target (and
// everything it transitively schedules) running to completion.
func (e *Engine) Run(target Handle) {
	e.transferAway(target, true)
}

// Block moves target (or current, if target is Null) from alive to
// blocked. If current blocked itself, control yields immediately.
func (e *Engine) Block(target Handle) {
	e.mu.Lock()
	if target == Null {
		target = e.current
	}
	n := e.nodes[target]
	if n.state == stateBlocked {
		e.mu.Unlock()
		return
	}
	wasCurrent := target == e.current
	if n.state == stateAlive {
		e.removeFromAliveLocked(target)
	}
	n.state = stateBlocked
	e.blockedOrder = append(e.blockedOrder, target)
	e.mu.Unlock()

	if wasCurrent {
		e.Yield()
	}
}

// Unblock reverses Block; idempotent if target is not currently blocked.
func (e *Engine) Unblock(target Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.nodes[target]
	if n.state != stateBlocked {
		return
	}
	e.removeFromBlockedLocked(target)
	n.state = stateAlive
	e.aliveOrder = append(e.aliveOrder, target)
}

// IsBlocked reports whether target is currently on the blocked list.
func (e *Engine) IsBlocked(target Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[target].state == stateBlocked
}

// AliveCount returns the number of contexts eligible to be resumed by
// Yield (excludes current, blocked, and finished contexts).
func (e *Engine) AliveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.aliveOrder)
}

func (e *Engine) finish(h Handle) {
	e.metrics.CoroutinesFinished.Add(1)

	e.mu.Lock()
	e.nodes[h].state = stateFinished
	target, ok := e.nextAliveLocked()
	if !ok {
		target = e.root
	}
	tNode := e.nodes[target]
	tNode.state = stateRunning
	e.removeFromAliveLocked(target)
	e.current = target
	e.mu.Unlock()

	tNode.resume <- struct{}{}
	// This goroutine is finished: it never waits to be resumed again.
}

// transferAway suspends current in favor of target. If blockCaller, the
// calling goroutine parks on its own resume channel until some future
// transfer names it as target again — the rendezvous that stands in for
// the source's setjmp/longjmp-based Enter.
func (e *Engine) transferAway(target Handle, blockCaller bool) {
	e.mu.Lock()
	prev := e.current
	prevNode := e.nodes[prev]
	if prevNode.state == stateRunning && prev != e.root {
		prevNode.state = stateAlive
		e.aliveOrder = append(e.aliveOrder, prev)
	}
	tNode := e.nodes[target]
	tNode.state = stateRunning
	e.removeFromAliveLocked(target)
	e.current = target
	e.mu.Unlock()

	tNode.resume <- struct{}{}
	if blockCaller {
		<-prevNode.resume
	}
}

func (e *Engine) nextAliveLocked() (Handle, bool) {
	for _, h := range e.aliveOrder {
		if h != e.current {
			return h, true
		}
	}
	return Null, false
}

func (e *Engine) removeFromAliveLocked(h Handle) {
	for i, v := range e.aliveOrder {
		if v == h {
			e.aliveOrder = append(e.aliveOrder[:i], e.aliveOrder[i+1:]...)
			return
		}
	}
}

func (e *Engine) removeFromBlockedLocked(h Handle) {
	for i, v := range e.blockedOrder {
		if v == h {
			e.blockedOrder = append(e.blockedOrder[:i], e.blockedOrder[i+1:]...)
			return
		}
	}
}
