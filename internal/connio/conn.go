// Package connio implements the connection state machine of spec.md §4.3
// (component C): one Conn per accepted socket, shared unchanged by all
// three server flavors in internal/server. Each flavor differs only in
// how it drives Conn's ReadReady/DrainCommands/WriteReady methods — inline
// on one goroutine (st-nonblock), handed to internal/executor
// (mt-nonblock), or scheduled through internal/coroutine
// (st-coroutine) — the unification the REDESIGN FLAG in spec.md §9 calls
// for in place of Afina's three independent Connection classes.
package connio

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/kvdaemon/kvdaemon/internal/metrics"
	"github.com/kvdaemon/kvdaemon/internal/netpoll"
	"github.com/kvdaemon/kvdaemon/internal/ports"
)

const readChunk = 4096

var mutatingOps = map[string]bool{
	"set": true, "add": true, "replace": true, "append": true,
	"prepend": true, "delete": true, "incr": true, "decr": true, "flush_all": true,
}

// Conn accumulates bytes from a non-blocking socket until the parser
// collaborator recognizes a complete command, executes it against the
// storage collaborator, and queues reply bytes for the next writable
// event. It owns the connection's raw file descriptor directly (see
// netpoll.PrepareNonblocking) so that a Poller, not the Go runtime's own
// integrated netpoller, controls when reads and writes are attempted.
type Conn struct {
	ID  string
	fd  int
	tcp *net.TCPConn

	parser  ports.Parser
	storage ports.Storage
	events  ports.EventPublisher
	logger  ports.Logger
	metrics *metrics.Metrics

	readBuf []byte

	pendingHeader bool
	cmd           ports.Command

	writeQueue [][]byte
	writeOff   int

	Alive bool
}

// New wraps tcp for raw, non-blocking, Poller-driven I/O.
func New(tcp *net.TCPConn, parser ports.Parser, storage ports.Storage, events ports.EventPublisher, logger ports.Logger, m *metrics.Metrics) (*Conn, error) {
	fd, err := netpoll.PrepareNonblocking(tcp)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	return &Conn{
		ID:      uuid.NewString(),
		fd:      fd,
		tcp:     tcp,
		parser:  parser,
		storage: storage,
		events:  events,
		logger:  logger,
		metrics: m,
		readBuf: make([]byte, 0, readChunk),
		Alive:   true,
	}, nil
}

// Fd returns the raw descriptor registered with a Poller.
func (c *Conn) Fd() int { return c.fd }

// Close tears down the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.Alive = false
	return c.tcp.Close()
}

// ReadReady performs one or more non-blocking reads until the socket
// would block, a clean close, or a genuine error is observed.
//
// spec.md §9 / the REDESIGN FLAG: the source's st_nonblocking Connection
// set is_Alive = false unconditionally after its read call, even when
// the error was a retriable EAGAIN. This distinguishes the three cases
// explicitly: EAGAIN is a no-op (wait for the next readiness event), a
// clean close (n == 0 / io.EOF) and any other error both end the
// connection.
func (c *Conn) ReadReady() error {
	buf := make([]byte, readChunk)
	for {
		n, err := netpoll.RawRead(c.fd, buf)
		if n > 0 {
			c.readBuf = append(c.readBuf, buf[:n]...)
			c.metrics.BytesRead.Add(uint64(n))
		}
		switch {
		case err == nil && n == 0:
			c.Alive = false
			return io.EOF
		case err == nil && n < len(buf):
			return nil
		case err == nil:
			continue // buf was exactly filled; more may be waiting
		case errors.Is(err, netpoll.ErrAgain):
			return nil
		default:
			c.Alive = false
			c.metrics.IOErrors.Add(1)
			return err
		}
	}
}

// DrainCommands executes every complete command currently buffered,
// queuing reply bytes for WriteReady. It stops as soon as the buffer
// holds an incomplete header or data block, leaving the remainder for the
// next ReadReady. Callers that want command execution off the I/O
// goroutine (mt-nonblock) invoke this through internal/executor instead
// of calling it directly; Conn itself has no opinion on dispatch.
func (c *Conn) DrainCommands(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking parser or storage call aborts this connection only.
			c.Alive = false
			if c.logger != nil {
				c.logger.Error("connio: recovered from command panic, closing connection",
					ports.Field{Key: "conn_id", Value: c.ID},
					ports.Field{Key: "panic", Value: r},
					ports.Field{Key: "stack", Value: string(debug.Stack())})
			}
		}
	}()
	for {
		if !c.pendingHeader {
			consumed, ok := c.parser.Parse(c.readBuf)
			if !ok {
				if consumed == 0 {
					return
				}
				// spec.md §8/§4.3/§7: a parser error is a protocol-level
				// failure, not a reply-able command outcome. The connection
				// is aborted — no reply is queued, nothing further is read
				// off it — rather than resynchronized.
				c.metrics.ProtocolErrors.Add(1)
				if c.logger != nil {
					c.logger.Warn("connio: protocol error, closing connection",
						ports.Field{Key: "conn_id", Value: c.ID})
				}
				c.Alive = false
				return
			}
			c.readBuf = c.readBuf[consumed:]
			c.cmd = c.parser.Build()
			c.pendingHeader = true
		}

		argument, ok := c.assembleArgument()
		if !ok {
			return // data block not fully buffered yet
		}

		reply, err := c.storage.Execute(ctx, argument)
		c.metrics.CommandsExecuted.Add(1)
		switch {
		case err != nil:
			c.metrics.StorageErrors.Add(1)
			c.queueReply([]byte("SERVER_ERROR"))
		case len(reply) > 0:
			c.queueReply(reply)
		}

		succeeded := err == nil
		switch string(reply) {
		case "NOT_STORED", "NOT_FOUND", "EXISTS", "ERROR":
			succeeded = false
		}
		if c.events != nil && succeeded && mutatingOps[c.cmd.Name] {
			if perr := c.events.Publish(ctx, c.cmd.Name, firstKey(c.cmd.Raw)); perr != nil && c.logger != nil {
				c.logger.Warn("connio: event publish failed",
					ports.Field{Key: "conn_id", Value: c.ID},
					ports.Field{Key: "op", Value: c.cmd.Name},
					ports.Field{Key: "error", Value: perr.Error()},
				)
			}
		}

		c.pendingHeader = false
		c.cmd = ports.Command{}
		c.parser.Reset()
	}
}

// assembleArgument builds the full wire-format command text the storage
// collaborator tokenizes itself (spec.md §6 treats it as an opaque
// argument, not a pre-parsed struct), consuming the data block from
// readBuf if the command has one.
func (c *Conn) assembleArgument() ([]byte, bool) {
	if c.cmd.ArgRemaining == 0 {
		return append(append([]byte(nil), c.cmd.Raw...), "\r\n"...), true
	}
	need := int(c.cmd.ArgRemaining) + 2
	if len(c.readBuf) < need {
		return nil, false
	}
	argument := append(append([]byte(nil), c.cmd.Raw...), "\r\n"...)
	argument = append(argument, c.readBuf[:need]...)
	c.readBuf = c.readBuf[need:]
	return argument, true
}

func (c *Conn) queueReply(text []byte) {
	line := append(append([]byte(nil), text...), "\r\n"...)
	c.writeQueue = append(c.writeQueue, line)
}

// HasPendingWrite reports whether queued reply bytes remain unflushed.
func (c *Conn) HasPendingWrite() bool { return len(c.writeQueue) > 0 }

// WriteReady flushes as much of the queued reply data as the socket will
// currently accept, in order.
//
// spec.md §9 / the REDESIGN FLAG: the source's mt_nonblocking
// Connection::DoWrite built its iovec array starting at index 1, leaving
// index 0 uninitialized garbage. The corrected packing writes
// writeQueue[0] from writeOff and every following buffer in full, the
// order the original's own comments describe.
func (c *Conn) WriteReady() error {
	for len(c.writeQueue) > 0 {
		buf := c.writeQueue[0][c.writeOff:]
		n, err := netpoll.RawWrite(c.fd, buf)
		if n > 0 {
			c.metrics.BytesWritten.Add(uint64(n))
		}
		if err != nil {
			if errors.Is(err, netpoll.ErrAgain) {
				c.writeOff += n
				return nil
			}
			c.Alive = false
			c.metrics.IOErrors.Add(1)
			return err
		}
		if n < len(buf) {
			c.writeOff += n
			return nil
		}
		c.writeQueue = c.writeQueue[1:]
		c.writeOff = 0
	}
	return nil
}

func firstKey(raw []byte) string {
	fields := strings.Fields(string(raw))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
