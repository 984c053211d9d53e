package script

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by a Loader when no script exists at a path.
var ErrNotFound = errors.New("script not found")

// Loader resolves a path to a script reference. Implementations return an
// error wrapping ErrNotFound when the path is absent.
type Loader interface {
	Resolve(ctx context.Context, path string) (*Reference, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, path string) (*Reference, error)

func (f LoaderFunc) Resolve(ctx context.Context, path string) (*Reference, error) {
	return f(ctx, path)
}

// Locators is a registry of named loaders. It is itself a Loader: a path of
// the form "name:rest" is resolved by the loader registered under name, any
// other path by the default loader.
type Locators struct {
	mu          sync.Mutex
	loaders     map[string]Loader
	defaultName string
}

// NewLocators returns an empty registry that falls back to the loader
// registered under defaultName.
func NewLocators(defaultName string) *Locators {
	return &Locators{
		loaders:     map[string]Loader{},
		defaultName: defaultName,
	}
}

// Register adds or replaces the loader for a name.
func (l *Locators) Register(name string, loader Loader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaders[name] = loader
}

// Get returns the loader registered under name.
func (l *Locators) Get(name string) (Loader, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loader, ok := l.loaders[name]
	return loader, ok
}

// Names returns the registered loader names, sorted.
func (l *Locators) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.loaders))
	for name := range l.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve implements Loader.
func (l *Locators) Resolve(ctx context.Context, p string) (*Reference, error) {
	if name, rest, ok := strings.Cut(p, ":"); ok {
		if loader, found := l.Get(name); found {
			return loader.Resolve(ctx, rest)
		}
	}
	loader, ok := l.Get(l.defaultName)
	if !ok {
		return nil, fmt.Errorf("no loader for %q: %w", p, ErrNotFound)
	}
	return loader.Resolve(ctx, p)
}

// Relative resolves p against the path base has under kind. Absolute paths
// and bases without such a path are returned cleaned but otherwise
// unchanged.
func Relative(base *Reference, kind PathKind, p string) string {
	if strings.HasPrefix(p, "/") || base == nil {
		return path.Clean(p)
	}
	basePath, ok := base.Path(kind)
	if !ok {
		return path.Clean(p)
	}
	return path.Join(path.Dir(basePath), p)
}
