package server

import (
	"context"
	"sync"
	"time"

	"github.com/kvdaemon/kvdaemon/internal/connio"
	"github.com/kvdaemon/kvdaemon/internal/coroutine"
	"github.com/kvdaemon/kvdaemon/internal/netpoll"
	"github.com/kvdaemon/kvdaemon/internal/ports"
	runtimex "github.com/kvdaemon/kvdaemon/internal/runtime"
)

// RunSTCoroutine runs the ST-coroutine flavor of spec.md §4.4: a single OS
// thread, pinned to cpu when cpu >= 0, hosts a coroutine.Engine and
// schedules exactly one connection's work at a time. Every Engine method
// call below happens on that one thread; acceptLoop runs on a separate
// goroutine purely to keep AcceptTCP's blocking-with-deadline polling off
// the scheduler thread, and hands newly accepted connections over on a
// channel rather than touching the engine itself.
func (s *Server) RunSTCoroutine(ctx context.Context, cpu int) error {
	newConns := make(chan *connio.Conn, 128)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(newConns)
		s.acceptLoop(ctx, func(conn *connio.Conn) {
			newConns <- conn
		})
	}()

	err := s.coroutineLoop(ctx, cpu, newConns)
	wg.Wait()
	return err
}

func (s *Server) coroutineLoop(ctx context.Context, cpu int, newConns <-chan *connio.Conn) error {
	if err := runtimex.PinCurrentThreadToCPU(cpu); err != nil && s.deps.Logger != nil {
		s.deps.Logger.Warn("server: failed to pin coroutine scheduler thread",
			ports.Field{Key: "cpu", Value: cpu},
			ports.Field{Key: "error", Value: err.Error()})
	}

	engine := coroutine.New(s.deps.Metrics)
	handles := make(map[int]coroutine.Handle)
	byHandle := make(map[coroutine.Handle]*connio.Conn)

	ready := make([]netpoll.Ready, 0, 128)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		default:
		}

		s.acceptPending(engine, handles, byHandle, newConns, ctx)

		batch, err := s.poller.Wait(ready[:0], 50*time.Millisecond)
		if err != nil {
			return err
		}
		for _, r := range batch {
			h, ok := handles[r.Fd]
			if !ok {
				continue
			}
			if engine.IsBlocked(h) {
				engine.Unblock(h)
			}
			engine.Sched(h)

			conn := byHandle[h]
			if conn != nil && !conn.Alive && !conn.HasPendingWrite() {
				delete(handles, r.Fd)
				delete(byHandle, h)
				s.closeConn(conn)
			}
		}
	}
}

// acceptPending drains any connections the accept goroutine has handed
// over and gives each one a coroutine, all on the scheduler thread.
func (s *Server) acceptPending(engine *coroutine.Engine, handles map[int]coroutine.Handle, byHandle map[coroutine.Handle]*connio.Conn, newConns <-chan *connio.Conn, ctx context.Context) {
	for {
		select {
		case conn, ok := <-newConns:
			if !ok {
				return
			}
			s.spawnCoroutine(engine, conn, handles, byHandle, ctx)
		default:
			return
		}
	}
}

// spawnCoroutine starts a coroutine for conn, registers its fd for read
// readiness, and runs the coroutine once immediately.
func (s *Server) spawnCoroutine(engine *coroutine.Engine, conn *connio.Conn, handles map[int]coroutine.Handle, byHandle map[coroutine.Handle]*connio.Conn, ctx context.Context) {
	h := engine.Start(func() {
		for {
			conn.ReadReady()
			conn.DrainCommands(ctx)
			if conn.HasPendingWrite() {
				conn.WriteReady()
			}
			if !conn.Alive && !conn.HasPendingWrite() {
				return
			}
			if conn.HasPendingWrite() {
				s.poller.Modify(conn.Fd(), netpoll.EventRead|netpoll.EventWrite)
			} else {
				s.poller.Modify(conn.Fd(), netpoll.EventRead)
			}
			engine.Block(coroutine.Null)
			engine.ReturnToCaller()
		}
	})

	s.poller.Add(conn.Fd(), netpoll.EventRead)
	handles[conn.Fd()] = h
	byHandle[h] = conn

	engine.Sched(h)

	if !conn.Alive && !conn.HasPendingWrite() {
		delete(handles, conn.Fd())
		delete(byHandle, h)
		s.closeConn(conn)
	}
}
