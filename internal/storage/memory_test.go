package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetRoundTrip(t *testing.T) {
	m := NewMemory(4)
	reply, err := m.Execute(context.Background(), []byte("set k1 0 0 5\r\nhello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("STORED"), reply)

	reply, err = m.Execute(context.Background(), []byte("get k1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "VALUE k1 0 5\r\nhello\r\nEND", string(reply))
}

func TestMemoryAddFailsWhenKeyExists(t *testing.T) {
	m := NewMemory(1)
	_, _ = m.Execute(context.Background(), []byte("set k 0 0 1\r\na\r\n"))
	reply, err := m.Execute(context.Background(), []byte("add k 0 0 1\r\nb\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("NOT_STORED"), reply)
}

func TestMemoryReplaceRequiresExisting(t *testing.T) {
	m := NewMemory(1)
	reply, _ := m.Execute(context.Background(), []byte("replace missing 0 0 1\r\na\r\n"))
	assert.Equal(t, []byte("NOT_STORED"), reply)
}

func TestMemoryAppendPrepend(t *testing.T) {
	m := NewMemory(1)
	_, _ = m.Execute(context.Background(), []byte("set k 0 0 3\r\nbbb\r\n"))
	_, _ = m.Execute(context.Background(), []byte("append k 0 0 1\r\nc\r\n"))
	reply, _ := m.Execute(context.Background(), []byte("get k\r\n"))
	assert.Equal(t, "VALUE k 0 4\r\nbbbc\r\nEND", string(reply))

	_, _ = m.Execute(context.Background(), []byte("prepend k 0 0 1\r\na\r\n"))
	reply, _ = m.Execute(context.Background(), []byte("get k\r\n"))
	assert.Equal(t, "VALUE k 0 5\r\nabbbc\r\nEND", string(reply))
}

func TestMemoryDeleteAndNotFound(t *testing.T) {
	m := NewMemory(1)
	_, _ = m.Execute(context.Background(), []byte("set k 0 0 1\r\na\r\n"))
	reply, _ := m.Execute(context.Background(), []byte("delete k\r\n"))
	assert.Equal(t, []byte("DELETED"), reply)

	reply, _ = m.Execute(context.Background(), []byte("delete k\r\n"))
	assert.Equal(t, []byte("NOT_FOUND"), reply)
}

func TestMemoryIncrDecr(t *testing.T) {
	m := NewMemory(1)
	_, _ = m.Execute(context.Background(), []byte("set n 0 0 1\r\n5\r\n"))

	reply, _ := m.Execute(context.Background(), []byte("incr n 3\r\n"))
	assert.Equal(t, []byte("8"), reply)

	reply, _ = m.Execute(context.Background(), []byte("decr n 10\r\n"))
	assert.Equal(t, []byte("0"), reply, "decr below zero clamps at zero")
}

func TestMemoryCasRejectsStaleToken(t *testing.T) {
	m := NewMemory(1)
	_, _ = m.Execute(context.Background(), []byte("set k 0 0 1\r\na\r\n"))

	reply, _ := m.Execute(context.Background(), []byte("cas k 0 0 1 999999\r\nb\r\n"))
	assert.Equal(t, []byte("EXISTS"), reply)
}

func TestMemoryNoreplySuppressesReply(t *testing.T) {
	m := NewMemory(1)
	reply, err := m.Execute(context.Background(), []byte("set k 0 0 1 noreply\r\na\r\n"))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestMemoryMalformedArgumentRepliesError(t *testing.T) {
	m := NewMemory(1)
	reply, err := m.Execute(context.Background(), []byte("bogus\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ERROR"), reply)
}

func TestMemoryFlushAllClearsEverything(t *testing.T) {
	m := NewMemory(4)
	_, _ = m.Execute(context.Background(), []byte("set k 0 0 1\r\na\r\n"))
	_, _ = m.Execute(context.Background(), []byte("flush_all\r\n"))
	reply, _ := m.Execute(context.Background(), []byte("get k\r\n"))
	assert.Equal(t, "END", string(reply))
}
