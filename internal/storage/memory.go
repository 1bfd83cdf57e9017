package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kvdaemon/kvdaemon/internal/timeutil"
)

type entry struct {
	value   []byte
	flags   uint32
	hasExp  bool
	expires time.Time
	cas     uint64
}

func (e *entry) expired(now time.Time) bool {
	return e.hasExp && now.After(e.expires)
}

type shard struct {
	mu   sync.RWMutex
	data map[string]*entry
}

// Memory is the default ports.Storage implementation: a shard-striped map
// selected by xxhash of the key, the same bucket-hashing approach
// memcached itself uses to bound lock contention on a single hot map.
type Memory struct {
	shards []*shard
	mask   uint64
	casSeq atomic.Uint64
}

// NewMemory creates a Memory store with shardCount shards, rounded up to
// the next power of two so shard selection is a mask instead of a modulo.
func NewMemory(shardCount int) *Memory {
	n := nextPow2(shardCount)
	m := &Memory{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[string]*entry)}
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)&m.mask]
}

// Execute tokenizes argument and applies it to the store. It never
// returns a Go error for a malformed or unsuccessful command: per spec.md
// §7, command execution outcomes are reply text ("ERROR", "NOT_STORED",
// "NOT_FOUND", ...), not errors crossing into the wire protocol. Execute
// only returns an error for conditions outside the protocol itself (none
// exist for the in-memory backend; Redis's does).
func (m *Memory) Execute(_ context.Context, argument []byte) ([]byte, error) {
	req, err := parseRequest(argument)
	if err != nil {
		return []byte("ERROR"), nil
	}

	switch req.verb {
	case "set":
		m.store(req, func(*entry, bool) bool { return true })
		return reply(req.noreply, "STORED")
	case "add":
		ok := m.store(req, func(existing *entry, hadExisting bool) bool { return !hadExisting })
		return reply(req.noreply, storedOrNot(ok))
	case "replace":
		ok := m.store(req, func(_ *entry, hadExisting bool) bool { return hadExisting })
		return reply(req.noreply, storedOrNot(ok))
	case "append":
		ok := m.concat(req, true)
		return reply(req.noreply, storedOrNot(ok))
	case "prepend":
		ok := m.concat(req, false)
		return reply(req.noreply, storedOrNot(ok))
	case "cas":
		return reply(req.noreply, m.cas(req))
	case "get", "gets":
		return m.get(req.keys, req.verb == "gets"), nil
	case "delete":
		ok := m.delete(req.keys[0])
		return reply(req.noreply, deletedOrNotFound(ok))
	case "incr", "decr":
		text, ok := m.incrDecr(req.keys[0], req.delta, req.verb == "incr")
		if !ok {
			return reply(req.noreply, "NOT_FOUND")
		}
		return reply(req.noreply, text)
	case "touch":
		ok := m.touch(req.keys[0], req.exptime)
		return reply(req.noreply, touchedOrNotFound(ok))
	case "flush_all":
		m.flushAll()
		return []byte("OK"), nil
	case "version":
		return []byte("VERSION kvdaemon"), nil
	case "stats":
		return []byte("END"), nil
	case "quit":
		return nil, nil
	default:
		return []byte("ERROR"), nil
	}
}

// Close is a no-op: the in-memory store owns no external resource.
func (m *Memory) Close() error { return nil }

func expiryFrom(exptime int64) (time.Time, bool) {
	switch {
	case exptime == 0:
		return time.Time{}, false
	case exptime < 0:
		return time.Now().Add(-time.Second), true
	default:
		return time.Now().Add(timeutil.FromSeconds(exptime)), true
	}
}

// store applies req's value if accept(existing, hadExisting) approves,
// unifying set/add/replace (which differ only in that predicate).
func (m *Memory) store(req request, accept func(existing *entry, hadExisting bool) bool) bool {
	key := req.keys[0]
	sh := m.shardFor(key)
	expires, hasExp := expiryFrom(req.exptime)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, hadExisting := sh.data[key]
	if hadExisting && existing.expired(time.Now()) {
		hadExisting = false
		existing = nil
	}
	if !accept(existing, hadExisting) {
		return false
	}
	sh.data[key] = &entry{
		value:   append([]byte(nil), req.data...),
		flags:   req.flags,
		hasExp:  hasExp,
		expires: expires,
		cas:     m.casSeq.Add(1),
	}
	return true
}

func (m *Memory) concat(req request, appendTo bool) bool {
	key := req.keys[0]
	sh := m.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.data[key]
	if !ok || existing.expired(time.Now()) {
		return false
	}
	var merged []byte
	if appendTo {
		merged = append(append([]byte(nil), existing.value...), req.data...)
	} else {
		merged = append(append([]byte(nil), req.data...), existing.value...)
	}
	sh.data[key] = &entry{
		value:   merged,
		flags:   existing.flags,
		hasExp:  existing.hasExp,
		expires: existing.expires,
		cas:     m.casSeq.Add(1),
	}
	return true
}

func (m *Memory) cas(req request) string {
	key := req.keys[0]
	sh := m.shardFor(key)
	expires, hasExp := expiryFrom(req.exptime)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.data[key]
	if !ok || existing.expired(time.Now()) {
		return "NOT_FOUND"
	}
	if existing.cas != req.casUniq {
		return "EXISTS"
	}
	sh.data[key] = &entry{
		value:   append([]byte(nil), req.data...),
		flags:   req.flags,
		hasExp:  hasExp,
		expires: expires,
		cas:     m.casSeq.Add(1),
	}
	return "STORED"
}

func (m *Memory) get(keys []string, withCas bool) []byte {
	var lines [][]byte
	now := time.Now()
	for _, key := range keys {
		sh := m.shardFor(key)
		sh.mu.RLock()
		e, ok := sh.data[key]
		sh.mu.RUnlock()
		if !ok || e.expired(now) {
			continue
		}
		header := fmt.Sprintf("VALUE %s %d %d", key, e.flags, len(e.value))
		if withCas {
			header = fmt.Sprintf("%s %d", header, e.cas)
		}
		lines = append(lines, []byte(header), e.value)
	}
	lines = append(lines, []byte("END"))

	out := lines[0]
	for _, l := range lines[1:] {
		out = append(append(out, "\r\n"...), l...)
	}
	return out
}

func (m *Memory) delete(key string) bool {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok || e.expired(time.Now()) {
		return false
	}
	delete(sh.data, key)
	return true
}

func (m *Memory) incrDecr(key string, delta uint64, increment bool) (string, bool) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.data[key]
	if !ok || e.expired(time.Now()) {
		return "", false
	}
	cur, err := strconv.ParseUint(string(e.value), 10, 64)
	if err != nil {
		cur = 0
	}
	if increment {
		cur += delta
	} else if delta > cur {
		cur = 0
	} else {
		cur -= delta
	}
	e.value = []byte(strconv.FormatUint(cur, 10))
	e.cas = m.casSeq.Add(1)
	return string(e.value), true
}

func (m *Memory) touch(key string, exptime int64) bool {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok || e.expired(time.Now()) {
		return false
	}
	e.expires, e.hasExp = expiryFrom(exptime)
	return true
}

func (m *Memory) flushAll() {
	for _, sh := range m.shards {
		sh.mu.Lock()
		sh.data = make(map[string]*entry)
		sh.mu.Unlock()
	}
}

func reply(noreply bool, text string) ([]byte, error) {
	if noreply {
		return nil, nil
	}
	return []byte(text), nil
}

func storedOrNot(ok bool) string {
	if ok {
		return "STORED"
	}
	return "NOT_STORED"
}

func deletedOrNotFound(ok bool) string {
	if ok {
		return "DELETED"
	}
	return "NOT_FOUND"
}

func touchedOrNotFound(ok bool) string {
	if ok {
		return "TOUCHED"
	}
	return "NOT_FOUND"
}
