package delegate

import (
	"context"
	"sync/atomic"
)

type lockMode int

const (
	readMode lockMode = iota + 1
	writeMode
)

// lockFrame records one delegate lock held by a call tree. Frames are
// immutable once linked; each acquisition derives a new context carrying a
// new head frame, so goroutines sharing an outer context never observe locks
// taken beneath it.
type lockFrame struct {
	d        *Delegate
	mode     lockMode
	next     *lockFrame
	released atomic.Bool
}

// detached marks the bottom of a lock scope. Frames below it belong to
// another call tree.
var detached = &lockFrame{}

type lockScopeKey struct{}

func framesFrom(ctx context.Context) *lockFrame {
	f, _ := ctx.Value(lockScopeKey{}).(*lockFrame)
	return f
}

// held reports the mode d is held in by the call tree of ctx. Frames whose
// lock was already released are ignored, so a context captured inside a
// Read or Write and used after it returned acquires the lock again.
func held(ctx context.Context, d *Delegate) (lockMode, bool) {
	for f := framesFrom(ctx); f != nil && f != detached; f = f.next {
		if f.d == d && !f.released.Load() {
			return f.mode, true
		}
	}
	return 0, false
}

func pushFrame(ctx context.Context, d *Delegate, mode lockMode) (context.Context, *lockFrame) {
	f := &lockFrame{d: d, mode: mode, next: framesFrom(ctx)}
	return context.WithValue(ctx, lockScopeKey{}, f), f
}

// DetachLockScope returns a context that carries the values of ctx but none
// of the delegate locks held by its call tree. Work handed to another
// goroutine must run under a detached context: the locks it would inherit
// are held by the goroutine that spawned it.
func DetachLockScope(ctx context.Context) context.Context {
	if framesFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, lockScopeKey{}, detached)
}

// HeldLocks returns the number of delegate locks held by the call tree
// running under ctx.
func HeldLocks(ctx context.Context) int {
	n := 0
	for f := framesFrom(ctx); f != nil && f != detached; f = f.next {
		if !f.released.Load() {
			n++
		}
	}
	return n
}
