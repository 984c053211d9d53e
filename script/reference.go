// Package script describes units of script source and how they are located.
package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// PathKind names the addressing scheme of a script path.
type PathKind string

const (
	PathFile      PathKind = "file"
	PathClasspath PathKind = "classpath"
	PathStore     PathKind = "storePath"
	PathMemory    PathKind = "memory"
)

// Source supplies the bytes of a script.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Read(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Bytes is a Source backed by an in-memory byte slice.
type Bytes []byte

func (b Bytes) Read(context.Context) ([]byte, error) {
	return b, nil
}

// Reference identifies a unit of script source. It is immutable once
// created.
type Reference struct {
	name     string
	paths    map[PathKind]string
	cachable bool
	secure   bool
	dynamic  bool
	hash     string
	source   Source
}

// Option configures a Reference.
type Option func(*Reference)

// WithPath records the path of the script under the given addressing scheme.
func WithPath(kind PathKind, path string) Option {
	return func(r *Reference) {
		r.paths[kind] = path
	}
}

// WithCachable marks whether compiled units of the script may be cached.
func WithCachable(cachable bool) Option {
	return func(r *Reference) {
		r.cachable = cachable
	}
}

// WithSecure marks the script as trustworthy.
func WithSecure(secure bool) Option {
	return func(r *Reference) {
		r.secure = secure
	}
}

// New returns a persistent reference backed by a real location.
func New(name string, src Source, opts ...Option) *Reference {
	r := &Reference{
		name:   name,
		paths:  map[PathKind]string{},
		source: src,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dynamic returns a reference for a literal source string. Its name is
// derived from a content hash so byte-identical sources share one name.
func Dynamic(source string) *Reference {
	sum := sha256.Sum256([]byte(source))
	hash := hex.EncodeToString(sum[:])
	return &Reference{
		name:    fmt.Sprintf("string:///DynamicJS-%s.js", hash),
		paths:   map[PathKind]string{},
		dynamic: true,
		hash:    hash,
		source:  Bytes(source),
	}
}

// Name returns the logical name of the script.
func (r *Reference) Name() string {
	return r.name
}

// Path returns the path of the script under the given scheme.
func (r *Reference) Path(kind PathKind) (string, bool) {
	p, ok := r.paths[kind]
	return p, ok
}

// Kinds returns the addressing schemes the reference supports, sorted.
func (r *Reference) Kinds() []PathKind {
	kinds := make([]PathKind, 0, len(r.paths))
	for k := range r.paths {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (r *Reference) Cachable() bool  { return r.cachable }
func (r *Reference) Secure() bool    { return r.secure }
func (r *Reference) IsDynamic() bool { return r.dynamic }

// Hash returns the content hash of a dynamic reference, or "" for
// persistent references.
func (r *Reference) Hash() string {
	return r.hash
}

// Content reads the script source.
func (r *Reference) Content(ctx context.Context) ([]byte, error) {
	if r.source == nil {
		return nil, fmt.Errorf("script %s has no source", r.name)
	}
	return r.source.Read(ctx)
}

func (r *Reference) String() string {
	return r.name
}
