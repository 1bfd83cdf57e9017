package server

import (
	"context"
	"sync"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/connio"
	"github.com/kvdaemon/kvdaemon/internal/netpoll"
)

// RunSTNonblock runs the ST-nonblock flavor of spec.md §4.4: the accept
// loop runs on its own goroutine and registers new connections with the
// Poller, and one readiness-loop goroutine services every ready
// connection inline, in the order the Poller reports them. There is never
// more than one command executing at a time across the whole listener.
func (s *Server) RunSTNonblock(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.acceptLoop(ctx, func(conn *connio.Conn) {
			s.poller.Add(conn.Fd(), netpoll.EventRead)
		})
	}()

	ready := make([]netpoll.Ready, 0, 128)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-s.closing:
			wg.Wait()
			return nil
		default:
		}

		batch, err := s.poller.Wait(ready[:0], 200*time.Millisecond)
		if err != nil {
			wg.Wait()
			return err
		}
		for _, r := range batch {
			conn, ok := s.lookupConn(r.Fd)
			if !ok {
				continue
			}
			s.serviceInline(ctx, conn, r.Events)
		}
	}
}

// serviceInline drives one ready connection's read, command dispatch, and
// write directly on the caller's goroutine, then updates the connection's
// poller interest or closes it.
func (s *Server) serviceInline(ctx context.Context, conn *connio.Conn, events netpoll.Event) {
	if events&(netpoll.EventRead|netpoll.EventClosed|netpoll.EventError) != 0 {
		// A clean close or fatal I/O error still leaves any fully buffered
		// commands worth draining before the connection is torn down below.
		conn.ReadReady()
		conn.DrainCommands(ctx)
	}
	if events&netpoll.EventWrite != 0 {
		conn.WriteReady()
	}

	switch {
	case !conn.Alive && !conn.HasPendingWrite():
		s.closeConn(conn)
	case conn.HasPendingWrite():
		// ST-nonblock clears the readable bit while draining output (spec.md
		// §4.3 "Flavor differences"): reads are gated on having no pending
		// write, asymmetric with the other two flavors which keep both bits
		// set.
		s.poller.Modify(conn.Fd(), netpoll.EventWrite)
		if err := conn.WriteReady(); err == nil && !conn.HasPendingWrite() {
			s.poller.Modify(conn.Fd(), netpoll.EventRead)
		}
	default:
		s.poller.Modify(conn.Fd(), netpoll.EventRead)
	}
}
