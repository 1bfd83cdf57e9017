// Package command implements the parser collaborator of spec.md §6
// (component A): a line-oriented, memcached-style text grammar. spec.md
// treats the parser as a black box behind ports.Parser; this is one
// concrete grammar a connection can be wired to, modeled on Afina's
// ProtocolParser line-then-argument-block shape but re-expressed with Go's
// string/byte scanning instead of a hand-rolled character state machine.
//
// No library in the example pack offers a memcached-style line tokenizer,
// so this uses only strconv/strings from the standard library; see
// DESIGN.md for that justification.
package command

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kvdaemon/kvdaemon/internal/ports"
)

// storageVerbs are the commands whose header line is followed by a data
// block of ArgRemaining bytes plus a trailing CRLF.
var storageVerbs = map[string]bool{
	"set": true, "add": true, "replace": true,
	"append": true, "prepend": true, "cas": true,
}

var knownVerbs = map[string]bool{
	"get": true, "gets": true, "delete": true, "incr": true, "decr": true,
	"touch": true, "flush_all": true, "version": true, "quit": true, "stats": true,
}

// TextParser implements ports.Parser over the line-oriented grammar above.
// One instance belongs to exactly one connection and is reused via Reset,
// matching spec.md §6's "Parser instance is owned by one connection".
type TextParser struct {
	cmd ports.Command
}

// New returns a ready-to-use parser.
func New() *TextParser {
	return &TextParser{}
}

func (p *TextParser) Name() string { return "memcached-text" }

// Parse scans buf for a complete "\r\n"-terminated header line. It never
// looks past the first line: a pending data block (ArgRemaining bytes) is
// the connection state machine's responsibility, not the parser's, per
// spec.md §4.3's "header, then fixed-size body" split.
func (p *TextParser) Parse(buf []byte) (int, bool) {
	idx := indexCRLF(buf)
	if idx < 0 {
		return 0, false
	}
	consumed := idx + 2
	fields := strings.Fields(string(buf[:idx]))
	if len(fields) == 0 {
		return consumed, false
	}

	verb := fields[0]
	var argRemaining uint32
	switch {
	case storageVerbs[verb]:
		minFields := 5
		if verb == "cas" {
			minFields = 6
		}
		if len(fields) < minFields {
			return consumed, false
		}
		n, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return consumed, false
		}
		argRemaining = uint32(n)
	case knownVerbs[verb]:
		// no data block
	default:
		return consumed, false
	}

	p.cmd = ports.Command{
		Name:         verb,
		Raw:          append([]byte(nil), buf[:idx]...),
		ArgRemaining: argRemaining,
		ID:           uuid.NewString(),
	}
	return consumed, true
}

// Build returns the command recognized by the most recent successful
// Parse call.
func (p *TextParser) Build() ports.Command {
	return p.cmd
}

// Reset clears parser state between commands.
func (p *TextParser) Reset() {
	p.cmd = ports.Command{}
}

func indexCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}
