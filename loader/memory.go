package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/scriptenv/script"
)

// Memory keeps scripts in a map. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	scripts map[string]memoryEntry
	opts    Options
}

type memoryEntry struct {
	source string
	opts   Options
}

// NewMemory returns an empty in-memory loader.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		scripts: map[string]memoryEntry{},
		opts:    newOptions(Options{Cachable: true}, opts),
	}
}

// Put stores a script, overriding the loader's defaults with opts.
func (m *Memory) Put(p, source string, opts ...Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[p] = memoryEntry{source: source, opts: newOptions(m.opts, opts)}
}

// Remove deletes a script.
func (m *Memory) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scripts, p)
}

// Paths returns the stored paths, sorted.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.scripts))
	for p := range m.scripts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolve implements script.Loader. The returned reference holds the source
// as it was when resolved.
func (m *Memory) Resolve(ctx context.Context, p string) (*script.Reference, error) {
	m.mu.RLock()
	entry, ok := m.scripts[p]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory:%s: %w", p, script.ErrNotFound)
	}
	return script.New(p, script.Bytes(entry.source),
		script.WithPath(script.PathMemory, p),
		script.WithPath(script.PathStore, p),
		script.WithCachable(entry.opts.Cachable),
		script.WithSecure(entry.opts.Secure),
	), nil
}
