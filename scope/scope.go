// Package scope holds the engine-neutral variable scopes scripts execute in.
//
// A Scope maps names to host values and may have a parent. Lookups walk the
// parent chain; writes always land in the scope itself. The shared scopes an
// engine builds at startup are sealed, after which they reject writes, and
// every execution runs in a child of one of them.
package scope

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSealed is returned when writing to a sealed scope.
var ErrSealed = errors.New("scope is sealed")

// Scope is a set of named bindings. It is safe for concurrent use.
type Scope struct {
	mu          sync.RWMutex
	parent      *Scope
	bindings    map[string]any
	trusted     bool
	mutable     bool
	sealed      bool
	attachments map[any]any
}

// New returns a root scope.
func New(trusted, mutable bool) *Scope {
	return &Scope{
		bindings:    map[string]any{},
		trusted:     trusted,
		mutable:     mutable,
		attachments: map[any]any{},
	}
}

// Child returns a new mutable scope whose lookups fall back to s. The child
// inherits the trust flag of its parent.
func (s *Scope) Child() *Scope {
	child := New(s.trusted, true)
	child.parent = s
	return child
}

// Parent returns the enclosing scope, or nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Trusted reports whether scripts running in the scope are trustworthy.
func (s *Scope) Trusted() bool {
	return s.trusted
}

// Mutable reports whether the scope was created for scripts that may modify
// it. Contributors use this to decide what to expose.
func (s *Scope) Mutable() bool {
	return s.mutable
}

// Seal prevents any further writes to the scope.
func (s *Scope) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Sealed reports whether the scope rejects writes.
func (s *Scope) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Set binds name to value in this scope.
func (s *Scope) Set(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fmt.Errorf("set %q: %w", name, ErrSealed)
	}
	s.bindings[name] = value
	return nil
}

// Delete removes a binding from this scope. Bindings of parent scopes are
// not affected.
func (s *Scope) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fmt.Errorf("delete %q: %w", name, ErrSealed)
	}
	delete(s.bindings, name)
	return nil
}

// Get returns the value bound to name in this scope or the nearest enclosing
// scope that binds it.
func (s *Scope) Get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.bindings[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Own returns the bindings defined directly in this scope.
func (s *Scope) Own() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]any, len(s.bindings))
	for k, v := range s.bindings {
		result[k] = v
	}
	return result
}

// Visible returns every binding visible from this scope. Inner bindings
// shadow outer ones.
func (s *Scope) Visible() map[string]any {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	result := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Own() {
			result[k] = v
		}
	}
	return result
}

// Names returns the sorted names visible from this scope.
func (s *Scope) Names() []string {
	visible := s.Visible()
	names := make([]string, 0, len(visible))
	for name := range visible {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attach stores engine-private state on the scope under key, typically the
// guest runtime executing in it. Attachments are allowed on sealed scopes.
func (s *Scope) Attach(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[key] = value
}

// AttachOnce returns the state stored under key, storing the result of
// create first if there is none. create runs at most once per key, under
// the scope's lock, so it must not use the scope.
func (s *Scope) AttachOnce(key any, create func() any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.attachments[key]; ok {
		return v
	}
	v := create()
	s.attachments[key] = v
	return v
}

// Attachment returns the state stored under key.
func (s *Scope) Attachment(key any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attachments[key]
	return v, ok
}
