// Package loader provides script.Loader implementations for the places
// scripts are commonly kept: a filesystem, files embedded in the binary, an
// in-memory map, a Postgres table and an S3 bucket.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/deepnoodle-ai/scriptenv/script"
)

// Options are the metadata a loader attaches to the references it returns.
type Options struct {
	Secure   bool
	Cachable bool
}

// Option configures a loader.
type Option func(*Options)

// WithSecure marks every script the loader returns as trustworthy.
func WithSecure(secure bool) Option {
	return func(o *Options) {
		o.Secure = secure
	}
}

// WithCachable controls whether scripts the loader returns may be cached.
func WithCachable(cachable bool) Option {
	return func(o *Options) {
		o.Cachable = cachable
	}
}

func newOptions(defaults Options, opts []Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// FS loads scripts from an afero filesystem below a root directory.
type FS struct {
	fs   afero.Fs
	root string
	opts Options
}

// NewFS returns a loader reading from fsys below root. Scripts are cachable
// and not secure unless configured otherwise.
func NewFS(fsys afero.Fs, root string, opts ...Option) *FS {
	return &FS{
		fs:   fsys,
		root: root,
		opts: newOptions(Options{Cachable: true}, opts),
	}
}

// NewOS returns a loader reading from the operating system's filesystem.
func NewOS(root string, opts ...Option) *FS {
	return NewFS(afero.NewOsFs(), root, opts...)
}

// full maps a script path onto the filesystem. Paths are cleaned as if
// rooted, so ".." cannot climb above the root.
func (l *FS) full(p string) string {
	clean := path.Clean("/" + filepath.ToSlash(p))
	return filepath.Join(l.root, filepath.FromSlash(clean))
}

// Resolve implements script.Loader.
func (l *FS) Resolve(ctx context.Context, p string) (*script.Reference, error) {
	full := l.full(p)
	info, err := l.fs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, script.ErrNotFound)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", p, script.ErrNotFound)
	}
	src := script.SourceFunc(func(context.Context) ([]byte, error) {
		return afero.ReadFile(l.fs, full)
	})
	return script.New(strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/"), src,
		script.WithPath(script.PathFile, full),
		script.WithPath(script.PathStore, p),
		script.WithCachable(l.opts.Cachable),
		script.WithSecure(l.opts.Secure),
	), nil
}

// Embedded loads classpath scripts from an fs.FS, typically an embed.FS
// compiled into the binary. Embedded scripts are secure and cachable by
// default.
type Embedded struct {
	fsys fs.FS
	opts Options
}

// NewEmbedded returns a classpath loader over fsys.
func NewEmbedded(fsys fs.FS, opts ...Option) *Embedded {
	return &Embedded{
		fsys: fsys,
		opts: newOptions(Options{Cachable: true, Secure: true}, opts),
	}
}

// Resolve implements script.Loader. Leading slashes are ignored.
func (l *Embedded) Resolve(ctx context.Context, p string) (*script.Reference, error) {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	info, err := fs.Stat(l.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("classpath:%s: %w", p, script.ErrNotFound)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("classpath:%s is a directory: %w", p, script.ErrNotFound)
	}
	src := script.SourceFunc(func(context.Context) ([]byte, error) {
		return fs.ReadFile(l.fsys, name)
	})
	return script.New("classpath:/"+name, src,
		script.WithPath(script.PathClasspath, "/"+name),
		script.WithCachable(l.opts.Cachable),
		script.WithSecure(l.opts.Secure),
	), nil
}
