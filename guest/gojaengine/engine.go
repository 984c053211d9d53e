// Package gojaengine runs ECMAScript through github.com/dop251/goja.
//
// Optimization levels map onto goja compile settings:
//
//	 1  strict mode, source maps honoured
//	 0  sloppy mode, source maps honoured
//	-1  sloppy mode, source map comments ignored
//
// Each scope gets its own goja runtime the first time a unit executes in it.
// Executing further units in the same scope, including from host functions
// called by a running script, continues in that runtime.
package gojaengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"github.com/deepnoodle-ai/scriptenv/adapt"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/scope"
)

const (
	LevelStrict    = 1
	LevelSloppy    = 0
	LevelNoSources = -1
)

// Engine implements guest.Engine.
type Engine struct {
	conv adapt.ValueConverter
}

// Option configures an Engine.
type Option func(*Engine)

// WithConverter sets the converter applied to host values before they are
// exposed to scripts. Without one, maps and slices are exposed the way goja
// exposes Go values by default.
func WithConverter(conv adapt.ValueConverter) Option {
	return func(e *Engine) {
		e.conv = conv
	}
}

// New returns a goja engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string {
	return "goja"
}

func (e *Engine) Levels() (floor, ceiling int) {
	return LevelNoSources, LevelStrict
}

type program struct {
	prg   *goja.Program
	path  string
	level int
}

func (p *program) Path() string { return p.path }
func (p *program) Level() int   { return p.level }

// Compile parses and compiles source. Levels outside the supported range
// are clamped.
func (e *Engine) Compile(source, path string, level int) (guest.Unit, error) {
	floor, ceiling := e.Levels()
	level = max(floor, min(level, ceiling))
	var opts []parser.Option
	if level <= LevelNoSources {
		opts = append(opts, parser.WithDisableSourceMaps)
	}
	ast, err := goja.Parse(path, source, opts...)
	if err != nil {
		return nil, err
	}
	prg, err := goja.CompileAST(ast, level >= LevelStrict)
	if err != nil {
		return nil, err
	}
	return &program{prg: prg, path: path, level: level}, nil
}

type sessionKey struct {
	e *Engine
}

type activeKey struct{}

// session is the goja runtime attached to one scope.
type session struct {
	e         *Engine
	mu        sync.Mutex
	rt        *goja.Runtime
	installed map[string]bool

	// ctx is the context of the innermost execution running in rt.
	ctx context.Context
}

func (e *Engine) session(s *scope.Scope) *session {
	return s.AttachOnce(sessionKey{e: e}, func() any {
		rt := goja.New()
		rt.SetFieldNameMapper(goja.UncapFieldNameMapper())
		return &session{e: e, rt: rt, installed: map[string]bool{}, ctx: context.Background()}
	}).(*session)
}

func (e *Engine) attached(s *scope.Scope) (*session, bool) {
	v, ok := s.Attachment(sessionKey{e: e})
	if !ok {
		return nil, false
	}
	return v.(*session), true
}

// enter makes ctx the current context of the session. Calls from outside a
// running execution take the session lock; nested calls already hold it.
// The returned bool reports whether this is the outermost entry.
func (sess *session) enter(ctx context.Context) (context.Context, func(), bool) {
	outermost := false
	if active, _ := ctx.Value(activeKey{}).(*session); active != sess {
		sess.mu.Lock()
		ctx = context.WithValue(ctx, activeKey{}, sess)
		outermost = true
	}
	prev := sess.ctx
	sess.ctx = ctx
	return ctx, func() {
		sess.ctx = prev
		if outermost {
			sess.mu.Unlock()
		}
	}, outermost
}

// Execute implements guest.Engine. Cancelling ctx interrupts the outermost
// execution in the scope.
func (e *Engine) Execute(ctx context.Context, unit guest.Unit, s *scope.Scope) (any, error) {
	prg, ok := unit.(*program)
	if !ok {
		return nil, fmt.Errorf("goja: cannot execute unit of type %T", unit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := e.session(s)
	ctx, leave, outermost := sess.enter(ctx)
	defer leave()

	if outermost {
		var wg sync.WaitGroup
		wg.Add(1)
		stop := context.AfterFunc(ctx, func() {
			defer wg.Done()
			sess.rt.Interrupt(ctx.Err())
		})
		defer func() {
			if stop() {
				wg.Done()
			}
			wg.Wait()
			sess.rt.ClearInterrupt()
		}()
	}

	if err := sess.install(s); err != nil {
		return nil, err
	}
	value, err := sess.rt.RunProgram(prg.prg)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", prg.path, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w", prg.path, err)
	}
	return sess.toHost(value), nil
}

// install defines every binding visible from s that the runtime has not
// seen yet. Bindings already installed are left alone so values scripts
// assigned survive later executions in the same scope.
func (sess *session) install(s *scope.Scope) error {
	for name, value := range s.Visible() {
		if sess.installed[name] {
			continue
		}
		if err := sess.rt.Set(name, sess.toGuest(value)); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
		sess.installed[name] = true
	}
	return nil
}

// Global implements guest.Engine. It must not be called while another
// goroutine executes in the same scope.
func (e *Engine) Global(s *scope.Scope, name string) (any, bool) {
	sess, ok := e.attached(s)
	if !ok {
		return s.Get(name)
	}
	v := sess.rt.Get(name)
	if v == nil {
		return nil, false
	}
	return sess.toHost(v), true
}
