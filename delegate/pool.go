package delegate

import "sync"

// Pool hands out one root delegate per backing object, so independent
// holders of the same host value contend on one lock. An entry lives while
// at least one holder has not released it. The zero value is ready to use.
type Pool struct {
	mu    sync.Mutex
	roots map[any]*pooled
}

type pooled struct {
	d    *Delegate
	refs int
}

// Acquire returns the delegate for target and a function that releases
// the hold on it. Delegates are returned as is. Targets without an object
// identity get a delegate of their own.
func (p *Pool) Acquire(target any) (*Delegate, func()) {
	if d, ok := target.(*Delegate); ok {
		return d, func() {}
	}
	key, ok := identityOf(target)
	if !ok {
		return New(target), func() {}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roots == nil {
		p.roots = map[any]*pooled{}
	}
	entry, ok := p.roots[key]
	if !ok {
		entry = &pooled{d: New(target)}
		p.roots[key] = entry
	}
	entry.refs++
	var once sync.Once
	return entry.d, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if entry.refs--; entry.refs == 0 {
				delete(p.roots, key)
			}
		})
	}
}

// Len returns the number of backing objects currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.roots)
}
