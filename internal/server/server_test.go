package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvdaemon/kvdaemon/internal/executor"
	"github.com/kvdaemon/kvdaemon/internal/metrics"
	"github.com/kvdaemon/kvdaemon/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", Deps{
		Storage:  storage.NewMemory(4),
		Logger:   nil,
		Metrics:  metrics.New(),
		MaxConns: 16,
	})
	require.NoError(t, err)
	return srv
}

// roundTrip writes req (already CRLF-terminated) and reads back exactly
// one line, trimmed of its own CRLF.
func roundTrip(t *testing.T, r *bufio.Reader, w net.Conn, req string) string {
	t.Helper()
	_, err := w.Write([]byte(req))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line[:len(line)-2]
}

func dialServer(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader) {
	t.Helper()
	cli, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Skipf("could not dial loopback server: %v", err)
	}
	require.NoError(t, cli.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { cli.Close() })
	return cli, bufio.NewReader(cli)
}

func TestSTNonblockServesSetAndGet(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.RunSTNonblock(ctx) }()

	cli, r := dialServer(t, srv.Addr())

	require.Equal(t, "STORED", roundTrip(t, r, cli, "set foo 0 0 3\r\nbar\r\n"))

	_, err := cli.Write([]byte("get foo\r\n"))
	require.NoError(t, err)
	line1, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE foo 0 3\r\n", line1)
	line2, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "bar\r\n", line2)
	line3, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "END\r\n", line3)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSTNonblock did not return after cancel")
	}
}

func TestMTNonblockServesSetAndGet(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := executor.New(1, 4, 16, time.Second, nil, metrics.New())
	defer exec.Stop(false)

	done := make(chan error, 1)
	go func() { done <- srv.RunMTNonblock(ctx, exec) }()

	cli, r := dialServer(t, srv.Addr())

	require.Equal(t, "STORED", roundTrip(t, r, cli, "set k 0 0 1\r\nv\r\n"))
	require.Eventually(t, func() bool {
		_, err := cli.Write([]byte("get k\r\n"))
		if err != nil {
			return false
		}
		line, err := r.ReadString('\n')
		if err != nil || line != "VALUE k 0 1\r\n" {
			return false
		}
		val, err := r.ReadString('\n')
		if err != nil || val != "v\r\n" {
			return false
		}
		end, err := r.ReadString('\n')
		return err == nil && end == "END\r\n"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMTNonblock did not return after cancel")
	}
}

func TestSTCoroutineServesSetAndGet(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.RunSTCoroutine(ctx, -1) }()

	cli, r := dialServer(t, srv.Addr())

	require.Equal(t, "STORED", roundTrip(t, r, cli, "set a 0 0 2\r\nhi\r\n"))
	require.Equal(t, "NOT_STORED", roundTrip(t, r, cli, "add a 0 0 2\r\nhi\r\n"))
	require.Equal(t, "DELETED", roundTrip(t, r, cli, "delete a\r\n"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSTCoroutine did not return after cancel")
	}
}

func TestMalformedCommandClosesConnection(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.RunSTNonblock(ctx) }()

	cli, r := dialServer(t, srv.Addr())

	_, err := cli.Write([]byte("bogus verb here\r\n"))
	require.NoError(t, err)

	// A protocol error is a connection-aborting failure (spec.md §7/§8): no
	// reply is written and the socket is closed, rather than resynchronized.
	require.NoError(t, cli.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = r.ReadByte()
	require.Error(t, err, "server must close the connection instead of replying to a malformed command")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSTNonblock did not return after cancel")
	}
}
