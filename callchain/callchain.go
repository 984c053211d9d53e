// Package callchain tracks which script is executing on each logical
// execution context.
//
// A context moves from no chain, to an active chain of one or more frames,
// and back to no chain. Re-entering the engine while a chain is active
// suspends the current chain and starts a fresh one; leaving the nested
// invocation restores the suspended chain exactly.
//
// Every operation takes an explicit ContextID. Use WithContext and
// FromContext to carry the ID on a context.Context.
package callchain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/deepnoodle-ai/scriptenv/script"
)

var (
	// ErrAlreadyInitialized is returned by Inherit when the destination
	// context already has an active chain.
	ErrAlreadyInitialized = errors.New("call chain has already been initialized")

	// ErrNoSourceChain is returned by Inherit when the source context has no
	// active chain.
	ErrNoSourceChain = errors.New("source context has no call chain")

	// ErrNoChain is returned by frame operations on a context without an
	// active chain.
	ErrNoChain = errors.New("context has no active call chain")
)

// ContextID identifies one logical execution context, e.g. one call tree
// running on one goroutine.
type ContextID string

// NewContextID returns a new random context identifier.
func NewContextID() ContextID {
	return ContextID(uuid.Must(uuid.NewV4()).String())
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying the given context identifier.
func WithContext(ctx context.Context, id ContextID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the context identifier carried by ctx, if any.
func FromContext(ctx context.Context) (ContextID, bool) {
	id, ok := ctx.Value(contextKey{}).(ContextID)
	return id, ok && id != ""
}

// Tracker holds the active and suspended chains of every context. It is safe
// for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	active    map[ContextID][]*script.Reference
	suspended map[ContextID][][]*script.Reference
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    map[ContextID][]*script.Reference{},
		suspended: map[ContextID][][]*script.Reference{},
	}
}

// EnterTopLevel starts a new, empty chain on the context. An already active
// chain is pushed onto the context's suspended stack.
func (t *Tracker) EnterTopLevel(id ContextID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if chain, ok := t.active[id]; ok {
		t.suspended[id] = append(t.suspended[id], chain)
	}
	t.active[id] = []*script.Reference{}
}

// LeaveTopLevel drops the active chain and restores the most recently
// suspended one, if any.
func (t *Tracker) LeaveTopLevel(id ContextID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
	stack, ok := t.suspended[id]
	if !ok {
		return
	}
	last := len(stack) - 1
	t.active[id] = stack[last]
	stack[last] = nil
	if last == 0 {
		delete(t.suspended, id)
	} else {
		t.suspended[id] = stack[:last]
	}
}

// Active reports whether the context currently has a chain.
func (t *Tracker) Active(id ContextID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// PushFrame appends ref to the tail of the active chain.
func (t *Tracker) PushFrame(id ContextID, ref *script.Reference) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	chain, ok := t.active[id]
	if !ok {
		return fmt.Errorf("push %s: %w", ref.Name(), ErrNoChain)
	}
	t.active[id] = append(chain, ref)
	return nil
}

// PopFrame removes the tail of the active chain.
func (t *Tracker) PopFrame(id ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	chain, ok := t.active[id]
	if !ok || len(chain) == 0 {
		return ErrNoChain
	}
	chain[len(chain)-1] = nil
	t.active[id] = chain[:len(chain)-1]
	return nil
}

// Current returns the tail of the active chain.
func (t *Tracker) Current(id ContextID) (*script.Reference, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chain := t.active[id]
	if len(chain) == 0 {
		return nil, false
	}
	return chain[len(chain)-1], true
}

// Chain returns a copy of the active chain, outermost script first. The
// second result is false if the context has no chain.
func (t *Tracker) Chain(id ContextID) ([]*script.Reference, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chain, ok := t.active[id]
	if !ok {
		return nil, false
	}
	return append([]*script.Reference(nil), chain...), true
}

// Inherit copies the active chain of src into a new active chain for dst.
// It is a one-shot operation for handing tracking over to another worker.
func (t *Tracker) Inherit(dst, src ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[dst]; ok {
		return ErrAlreadyInitialized
	}
	parent, ok := t.active[src]
	if !ok {
		return ErrNoSourceChain
	}
	t.active[dst] = append([]*script.Reference(nil), parent...)
	return nil
}

// Release drops every chain held for the context. It is used to end an
// inherited chain, which has no matching EnterTopLevel.
func (t *Tracker) Release(id ContextID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
	delete(t.suspended, id)
}

// Len returns the number of contexts with an active or suspended chain.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.active)
	for id := range t.suspended {
		if _, ok := t.active[id]; !ok {
			n++
		}
	}
	return n
}
