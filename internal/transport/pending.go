package transport

import (
	"context"
	"sync"

	"github.com/agenthands/loom/internal/response"
)

// Pending is the deferred outcome of one call. It resolves exactly once;
// every Wait after that returns the same pair.
type Pending struct {
	done chan struct{}
	once sync.Once
	resp *response.Response
	err  error
}

// NewPending returns an unresolved Pending.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolved returns a Pending that has already settled on the given outcome.
func Resolved(resp *response.Response, err error) *Pending {
	p := NewPending()
	p.Resolve(resp, err)
	return p
}

// Resolve settles the Pending. Calls after the first are no-ops.
func (p *Pending) Resolve(resp *response.Response, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
	})
}

// Wait blocks until the Pending resolves or the context ends.
func (p *Pending) Wait(ctx context.Context) (*response.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the resolution signal for select loops.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether the Pending has resolved yet.
func (p *Pending) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
