//go:build !linux

package netpoll

import (
	"errors"
	"net"
	"sync"
	"time"
)

// ErrAgain has no equivalent without a raw non-blocking read/write path on
// this platform; RawRead/RawWrite never return it here.
var ErrAgain = errors.New("netpoll: EAGAIN unsupported on this platform")

// PrepareNonblocking is unsupported outside the Linux epoll backend.
// connio.New calls it for every accepted connection in all three flavors,
// so on other platforms each accepted connection is closed with a logged
// warning instead of being served.
func PrepareNonblocking(_ *net.TCPConn) (int, error) {
	return -1, errors.New("netpoll: raw non-blocking file descriptors unsupported on this platform")
}

func RawRead(_ int, _ []byte) (int, error) {
	return 0, errors.New("netpoll: raw read unsupported on this platform")
}

func RawWrite(_ int, _ []byte) (int, error) {
	return 0, errors.New("netpoll: raw write unsupported on this platform")
}

// portablePoller is the non-Linux fallback: no native readiness syscall is
// available, so every registered descriptor is reported ready once per
// Wait call, after sleeping up to timeout (or a short default so callers
// still get interrupted promptly), which amounts to level-triggered busy
// polling. Since PrepareNonblocking refuses every connection on these
// platforms, no connection descriptor is ever registered here; the
// fallback exists so the module compiles everywhere, the same role the
// teacher's affinity_stub.go plays for CPU pinning.
type portablePoller struct {
	mu    sync.Mutex
	fds   map[int]Event
	closed bool
}

// New creates the portable fallback Poller.
func New() (Poller, error) {
	return &portablePoller{fds: make(map[int]Event)}, nil
}

func (p *portablePoller) Add(fd int, events Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = events
	return nil
}

func (p *portablePoller) Modify(fd int, events Event) error {
	return p.Add(fd, events)
}

func (p *portablePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *portablePoller) Wait(dst []Ready, timeout time.Duration) ([]Ready, error) {
	if timeout <= 0 || timeout > 50*time.Millisecond {
		timeout = 50 * time.Millisecond
	}
	time.Sleep(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	for fd, ev := range p.fds {
		dst = append(dst, Ready{Fd: fd, Events: ev})
	}
	return dst, nil
}

func (p *portablePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.fds = nil
	return nil
}
