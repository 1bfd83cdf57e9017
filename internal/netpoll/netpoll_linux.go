//go:build linux

package netpoll

import (
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrAgain is the retriable "no data right now" error RawRead/RawWrite
// surface; callers distinguish it from a terminal I/O error instead of
// treating every non-nil error as connection-ending, the corrected
// behavior the REDESIGN FLAG in spec.md §9 calls for.
var ErrAgain = unix.EAGAIN

// PrepareNonblocking extracts tcp's underlying file descriptor without
// duplicating it (unlike net.TCPConn.File, which dups and resets to
// blocking mode) and switches it to non-blocking mode so RawRead/RawWrite
// can be driven by a Poller instead of the runtime's own netpoller.
func PrepareNonblocking(tcp *net.TCPConn) (int, error) {
	raw, err := tcp.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var setErr error
	if ctrlErr := raw.Control(func(f uintptr) {
		fd = int(f)
		setErr = unix.SetNonblock(fd, true)
	}); ctrlErr != nil {
		return -1, ctrlErr
	}
	if setErr != nil {
		return -1, setErr
	}
	return fd, nil
}

// RawRead issues a single non-blocking read(2) against fd.
func RawRead(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// RawWrite issues a single non-blocking write(2) against fd.
func RawWrite(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// epollPoller is the real multiplexer: one epoll instance per server
// listener, matching one epoll_event array reused across Wait calls to
// avoid a per-call allocation on the hot path.
type epollPoller struct {
	mu   sync.Mutex
	epfd int
	buf  []unix.EpollEvent
}

// New creates a Linux epoll-backed Poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd, buf: make([]unix.EpollEvent, 128)}, nil
}

func toEpollEvents(e Event) uint32 {
	var out uint32
	if e&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	out |= unix.EPOLLRDHUP
	return out
}

func fromEpollEvents(e uint32) Event {
	var out Event
	if e&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if e&unix.EPOLLRDHUP != 0 || e&unix.EPOLLHUP != 0 {
		out |= EventClosed
	}
	if e&unix.EPOLLERR != 0 {
		out |= EventError
	}
	return out
}

func (p *epollPoller) Add(fd int, events Event) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, events Event) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(dst []Ready, timeout time.Duration) ([]Ready, error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}

	p.mu.Lock()
	buf := p.buf
	p.mu.Unlock()

	n, err := unix.EpollWait(p.epfd, buf, ms)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Ready{Fd: int(buf[i].Fd), Events: fromEpollEvents(buf[i].Events)})
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
