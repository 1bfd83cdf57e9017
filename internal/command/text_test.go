package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGetCommand(t *testing.T) {
	p := New()
	consumed, ok := p.Parse([]byte("get foo bar\r\nextra"))
	require.True(t, ok)
	assert.Equal(t, len("get foo bar\r\n"), consumed)

	cmd := p.Build()
	assert.Equal(t, "get", cmd.Name)
	assert.Equal(t, uint32(0), cmd.ArgRemaining)
	assert.NotEmpty(t, cmd.ID)
}

func TestParseSetCommandReportsArgRemaining(t *testing.T) {
	p := New()
	consumed, ok := p.Parse([]byte("set mykey 0 0 5\r\nhello\r\n"))
	require.True(t, ok)
	assert.Equal(t, len("set mykey 0 0 5\r\n"), consumed)

	cmd := p.Build()
	assert.Equal(t, "set", cmd.Name)
	assert.Equal(t, uint32(5), cmd.ArgRemaining)
}

func TestParseIncompleteHeaderNeedsMoreData(t *testing.T) {
	p := New()
	consumed, ok := p.Parse([]byte("set mykey 0 0 5"))
	assert.False(t, ok)
	assert.Equal(t, 0, consumed)
}

func TestParseUnknownVerbIsMalformed(t *testing.T) {
	p := New()
	consumed, ok := p.Parse([]byte("bogus x\r\n"))
	assert.False(t, ok)
	assert.Equal(t, len("bogus x\r\n"), consumed, "a recognized line that fails validation still reports consumed")
}

func TestParseSetMissingBytesFieldIsMalformed(t *testing.T) {
	p := New()
	consumed, ok := p.Parse([]byte("set mykey 0 0\r\n"))
	assert.False(t, ok)
	assert.Equal(t, len("set mykey 0 0\r\n"), consumed)
}

func TestResetClearsBuiltCommand(t *testing.T) {
	p := New()
	_, ok := p.Parse([]byte("get foo\r\n"))
	require.True(t, ok)
	p.Reset()
	assert.Equal(t, "", p.Build().Name)
}
