// Package storage implements the storage collaborator of spec.md §6
// (component B): ports.Storage implementations that execute a full
// command's argument bytes and produce reply text, exactly as Afina's
// Storage::Execute(command_text) treats its argument as an opaque string
// it tokenizes itself rather than a pre-parsed struct.
package storage

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// ErrMalformed means the argument did not tokenize into a command this
// collaborator understands. Implementations turn it into an "ERROR" reply
// rather than propagating it as a protocol-level error: per spec.md §7,
// a command execution failure is reply text, not a connection fault.
var ErrMalformed = errors.New("storage: malformed argument")

// request is the tokenized form of a Storage.Execute argument: the verb,
// key(s), and any trailing data block.
type request struct {
	verb    string
	keys    []string
	flags   uint32
	exptime int64
	delta   uint64
	casUniq uint64
	noreply bool
	data    []byte
}

// parseRequest tokenizes argument the way every memcached-text backend
// needs to: a header line, optionally followed by a CRLF-terminated data
// block whose length the header itself names.
func parseRequest(argument []byte) (request, error) {
	var req request

	idx := bytes.Index(argument, []byte("\r\n"))
	if idx < 0 {
		return req, ErrMalformed
	}
	fields := strings.Fields(string(argument[:idx]))
	rest := argument[idx+2:]
	if len(fields) == 0 {
		return req, ErrMalformed
	}
	req.verb = fields[0]

	switch req.verb {
	case "set", "add", "replace", "append", "prepend", "cas":
		minFields := 5
		if req.verb == "cas" {
			minFields = 6
		}
		if len(fields) < minFields {
			return req, ErrMalformed
		}
		flags, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return req, ErrMalformed
		}
		exptime, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return req, ErrMalformed
		}
		nbytes, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return req, ErrMalformed
		}
		pos := 5
		if req.verb == "cas" {
			cas, err := strconv.ParseUint(fields[5], 10, 64)
			if err != nil {
				return req, ErrMalformed
			}
			req.casUniq = cas
			pos = 6
		}
		if pos < len(fields) && fields[pos] == "noreply" {
			req.noreply = true
		}
		dataEnd := bytes.Index(rest, []byte("\r\n"))
		if dataEnd < 0 || uint64(dataEnd) != nbytes {
			return req, ErrMalformed
		}
		req.keys = []string{fields[1]}
		req.flags = uint32(flags)
		req.exptime = exptime
		req.data = rest[:dataEnd]

	case "get", "gets":
		if len(fields) < 2 {
			return req, ErrMalformed
		}
		req.keys = fields[1:]

	case "delete":
		if len(fields) < 2 {
			return req, ErrMalformed
		}
		req.keys = fields[1:2]
		if fields[len(fields)-1] == "noreply" {
			req.noreply = true
		}

	case "incr", "decr":
		if len(fields) < 3 {
			return req, ErrMalformed
		}
		delta, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return req, ErrMalformed
		}
		req.keys = fields[1:2]
		req.delta = delta
		if len(fields) > 3 && fields[3] == "noreply" {
			req.noreply = true
		}

	case "touch":
		if len(fields) < 3 {
			return req, ErrMalformed
		}
		exptime, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return req, ErrMalformed
		}
		req.keys = fields[1:2]
		req.exptime = exptime

	case "flush_all", "version", "quit", "stats":
		// no further fields required

	default:
		return req, ErrMalformed
	}

	return req, nil
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}
