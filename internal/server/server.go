// Package server implements the three server shells of spec.md §4.4. All
// three share one internal/connio.Conn state machine and one accept loop
// shape; they differ only in how a ready connection's work is dispatched
// (inline, executor-backed, or coroutine-scheduled), per the
// DispatchStrategy unification REDESIGN FLAG.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/command"
	"github.com/kvdaemon/kvdaemon/internal/connio"
	"github.com/kvdaemon/kvdaemon/internal/metrics"
	"github.com/kvdaemon/kvdaemon/internal/netpoll"
	"github.com/kvdaemon/kvdaemon/internal/ports"
)

// Deps are the collaborators every flavor wires a Conn to.
type Deps struct {
	Storage  ports.Storage
	Events   ports.EventPublisher // nil when disabled
	Logger   ports.Logger
	Metrics  *metrics.Metrics
	MaxConns int
}

// Server is the shared listener lifecycle all three flavors embed.
type Server struct {
	deps     Deps
	listener *net.TCPListener
	poller   netpoll.Poller

	// mu guards conns. It does not guard the poller: epoll_ctl is safe to
	// call concurrently from multiple goroutines on Linux, and the
	// portable fallback's Poller implementation locks itself.
	mu    sync.Mutex
	conns map[int]*connio.Conn

	closing chan struct{}
}

// Listen binds addr and creates the shared readiness Poller.
func Listen(addr string, deps Deps) (*Server, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %q: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %q: %w", addr, err)
	}
	poller, err := netpoll.New()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("server: create poller: %w", err)
	}
	return &Server{
		deps:     deps,
		listener: ln,
		poller:   poller,
		conns:    make(map[int]*connio.Conn),
		closing:  make(chan struct{}),
	}, nil
}

// Addr returns the bound listening address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Close stops accepting and releases the listener and poller. In-flight
// connections are not forcibly closed; callers that want a hard stop
// close individual Conns first.
func (s *Server) Close() error {
	close(s.closing)
	s.poller.Close()
	return s.listener.Close()
}

// acceptLoop accepts connections until ctx is canceled or Close is
// called, handing each to onAccept (which differs per flavor: register
// with the shared poller inline, or spin up a per-connection coroutine).
func (s *Server) acceptLoop(ctx context.Context, onAccept func(*connio.Conn)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		default:
		}

		s.listener.SetDeadline(time.Now().Add(200 * time.Millisecond))
		tcp, err := s.listener.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.closing:
				return nil
			default:
				return err
			}
		}

		s.mu.Lock()
		full := len(s.conns) >= s.deps.MaxConns
		s.mu.Unlock()
		if full {
			tcp.Close()
			continue
		}

		conn, err := connio.New(tcp, command.New(), s.deps.Storage, s.deps.Events, s.deps.Logger, s.deps.Metrics)
		if err != nil {
			tcp.Close()
			if s.deps.Logger != nil {
				s.deps.Logger.Warn("server: failed to take over accepted connection",
					ports.Field{Key: "error", Value: err.Error()})
			}
			continue
		}
		s.deps.Metrics.ConnectionsAccepted.Add(1)
		s.mu.Lock()
		s.conns[conn.Fd()] = conn
		s.mu.Unlock()
		onAccept(conn)
	}
}

// closeConn removes conn from bookkeeping and the poller, and closes its
// socket. Safe to call more than once or concurrently for the same
// connection; the second call is a harmless no-op past delete/Remove.
func (s *Server) closeConn(conn *connio.Conn) {
	s.poller.Remove(conn.Fd())
	s.mu.Lock()
	delete(s.conns, conn.Fd())
	s.mu.Unlock()
	conn.Close()
	s.deps.Metrics.ConnectionsClosed.Add(1)
}

// lookupConn returns the tracked connection for fd, if any. Used by
// flavors whose poller.Wait reports readiness by fd.
func (s *Server) lookupConn(fd int) (*connio.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[fd]
	return conn, ok
}
