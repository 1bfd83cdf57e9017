package server

import (
	"context"
	"sync"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/connio"
	"github.com/kvdaemon/kvdaemon/internal/executor"
	"github.com/kvdaemon/kvdaemon/internal/netpoll"
)

// RunMTNonblock runs the MT-nonblock flavor of spec.md §4.4: the accept
// loop runs on its own goroutine, and one readiness-loop goroutine hands
// each ready
// connection's command dispatch (Conn.DrainCommands, which runs storage
// calls and can block on them) off to exec, so one slow command never
// stalls the readiness loop for every other connection.
//
// A connection's fd is never re-armed for read readiness while a drain
// task for it is in flight on the executor: the readiness loop and an
// executor worker must never call into the same Conn concurrently, since
// Conn's buffers are not synchronized. Pausing interest (rather than
// locking inside Conn) keeps Conn itself a plain, single-threaded state
// machine shared unchanged by all three flavors.
func (s *Server) RunMTNonblock(ctx context.Context, exec *executor.Executor) error {
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
			s.serviceViaExecutor(ctx, exec, conn, r.Events)
		}
	}
}

// serviceViaExecutor reads synchronously (cheap: a non-blocking read of
// whatever is already in the socket buffer), then dispatches the
// potentially-blocking command drain to exec. While the task is in flight
// the connection's read interest is paused; afterDrainMT resumes it.
func (s *Server) serviceViaExecutor(ctx context.Context, exec *executor.Executor, conn *connio.Conn, events netpoll.Event) {
	if events&netpoll.EventWrite != 0 {
		conn.WriteReady()
	}
	if events&(netpoll.EventRead|netpoll.EventClosed|netpoll.EventError) == 0 {
		s.settleInterest(conn)
		return
	}

	conn.ReadReady()
	s.poller.Modify(conn.Fd(), 0)

	admitted := exec.Execute(func() {
		conn.DrainCommands(ctx)
		s.afterDrainMT(conn)
	})
	if !admitted {
		// Backlog full: run inline rather than drop the connection's data.
		conn.DrainCommands(ctx)
		s.afterDrainMT(conn)
	}
}

// afterDrainMT runs after a connection's drain task completes, on
// whichever executor worker ran it. It closes the connection if the peer
// is gone, or resumes poller interest so the readiness loop can see it
// again.
func (s *Server) afterDrainMT(conn *connio.Conn) {
	if !conn.Alive && !conn.HasPendingWrite() {
		s.closeConn(conn)
		return
	}
	s.settleInterest(conn)
}

// settleInterest re-arms read interest, adding write interest too when a
// reply is still queued.
func (s *Server) settleInterest(conn *connio.Conn) {
	if conn.HasPendingWrite() {
		s.poller.Modify(conn.Fd(), netpoll.EventRead|netpoll.EventWrite)
		return
	}
	s.poller.Modify(conn.Fd(), netpoll.EventRead)
}
