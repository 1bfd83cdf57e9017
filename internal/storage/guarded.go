package storage

import (
	"context"
	"errors"

	"github.com/kvdaemon/kvdaemon/internal/ports"
	"github.com/kvdaemon/kvdaemon/pkg/circuitbreaker"
)

// ErrCircuitOpen is returned in place of the wrapped Storage's own error
// when the breaker is open; callers that translate storage errors into a
// wire reply should treat it exactly like any other backend failure.
var ErrCircuitOpen = circuitbreaker.ErrOpenState

// Guarded wraps a ports.Storage with a circuit breaker, adapted from the
// teacher's use of pkg/circuitbreaker around its own Redis client: a
// remote backend (only Redis, in this repo) can fail or stall in ways an
// in-process map never does, and the breaker keeps a struggling Redis from
// letting every connection's command queue up waiting on it.
type Guarded struct {
	inner ports.Storage
	cb    *circuitbreaker.CircuitBreaker
}

// NewGuarded builds a Guarded storage backed by inner, using cb to gate
// every Execute call.
func NewGuarded(inner ports.Storage, cb *circuitbreaker.CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, cb: cb}
}

// Execute runs argument through the breaker. A command rejected outright
// (breaker open, or too many concurrent requests) never reaches inner and
// is reported as a server error rather than a wire-level one, since the
// client did nothing wrong.
func (g *Guarded) Execute(ctx context.Context, argument []byte) ([]byte, error) {
	var reply []byte
	err := g.cb.Execute(func() error {
		r, execErr := g.inner.Execute(ctx, argument)
		reply = r
		return execErr
	})
	if err != nil && !errors.Is(err, circuitbreaker.ErrOpenState) && !errors.Is(err, circuitbreaker.ErrTooManyConcurrentRequests) {
		// inner's own error: reply is whatever inner returned (usually nil).
		return reply, err
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Close releases the wrapped backend.
func (g *Guarded) Close() error { return g.inner.Close() }
