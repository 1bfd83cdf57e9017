// Package netpoll is the readiness multiplexer spec.md §4.4 requires for
// the ST-nonblock and MT-nonblock server flavors: a way to block on "which
// of these file descriptors is ready for I/O" instead of spinning. The
// Linux implementation wraps epoll via golang.org/x/sys/unix, promoted
// from an indirect to a direct dependency for exactly this use, mirroring
// the split the teacher uses for internal/runtime's CPU-affinity code
// (affinity_linux.go / affinity_stub.go): a real syscall-backed
// implementation behind a Linux build tag, a portable no-op-capable
// fallback behind its complement.
package netpoll

import "time"

// Event is a readiness bitmask of its own; the Linux backend translates it
// to and from epoll's EPOLLIN/EPOLLOUT/EPOLLRDHUP/EPOLLERR bits.
type Event uint32

const (
	EventRead Event = 1 << iota
	EventWrite
	EventClosed
	EventError
)

// Ready reports one file descriptor's observed readiness.
type Ready struct {
	Fd     int
	Events Event
}

// Poller is a readiness multiplexer for a set of registered file
// descriptors. Implementations must be safe for one concurrent Wait
// caller plus concurrent Add/Modify/Remove from other goroutines — the
// nonblock flavors call Add from their accept-loop goroutine while the
// readiness loop waits, and MT-nonblock modifies interest sets from
// executor workers.
type Poller interface {
	Add(fd int, events Event) error
	Modify(fd int, events Event) error
	Remove(fd int) error
	// Wait blocks up to timeout (zero means forever) and appends ready
	// descriptors to dst, returning the extended slice.
	Wait(dst []Ready, timeout time.Duration) ([]Ready, error)
	Close() error
}
