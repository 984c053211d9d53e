// Package scriptenv is a host runtime for an embedded script engine.
//
// An Engine compiles scripts through a guest engine, caches the compiled
// units, tracks which script is executing on every call tree, and converts
// values crossing between the host and the scripts.
package scriptenv

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/scriptenv/adapt"
	"github.com/deepnoodle-ai/scriptenv/cache"
	"github.com/deepnoodle-ai/scriptenv/callchain"
	"github.com/deepnoodle-ai/scriptenv/convert"
	"github.com/deepnoodle-ai/scriptenv/delegate"
	"github.com/deepnoodle-ai/scriptenv/errz"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/guest/gojaengine"
	"github.com/deepnoodle-ai/scriptenv/scope"
	"github.com/deepnoodle-ai/scriptenv/script"
)

// Engine executes scripts. It is safe for concurrent use.
type Engine struct {
	guest        guest.Engine
	loader       script.Loader
	caches       *cache.Store
	tracker      *callchain.Tracker
	converters   *convert.Registry
	contributors *scope.Registry
	logger       zerolog.Logger
	observer     Observer

	level       int
	floor       int
	failover    bool
	shareScopes bool
	compile     bool
	lockedModel bool
	debugger    atomic.Bool
	models      delegate.Pool

	initOnce     sync.Once
	initErr      error
	restricted   *scope.Scope
	unrestricted *scope.Scope
	sharedCount  int
}

// New returns an engine configured by opts.
func New(opts ...Option) *Engine {
	o := newOptions(opts)
	e := &Engine{
		loader:       o.loader,
		caches:       cache.NewStore(o.cfg.MaxCacheSize),
		tracker:      callchain.NewTracker(),
		converters:   o.converters,
		contributors: scope.NewRegistry(),
		logger:       o.logger,
		observer:     o.observer,
		failover:     o.cfg.Failover,
		shareScopes:  o.cfg.ShareScopes,
		compile:      o.cfg.CompileScripts,
		lockedModel:  o.lockedModel,
	}
	if e.converters == nil {
		e.converters = convert.NewDefaultRegistry()
	}
	if e.observer == nil {
		e.observer = NoOpObserver{}
	}
	e.guest = o.guest
	if e.guest == nil {
		e.guest = gojaengine.New(gojaengine.WithConverter(e.converters))
	}
	floor, ceiling := e.guest.Levels()
	e.floor = max(floor, min(o.cfg.OptimizationFloor, ceiling))
	e.level = max(e.floor, min(o.cfg.OptimizationLevel, ceiling))
	e.debugger.Store(o.cfg.Debugger)
	for _, c := range o.contributors {
		e.contributors.Register(c)
	}
	return e
}

// Init builds the shared scopes. It runs once; later calls return the
// result of the first. Every execution calls Init, so calling it directly
// is only needed to surface contributor errors early.
func (e *Engine) Init() error {
	e.initOnce.Do(func() {
		if !e.shareScopes {
			return
		}
		contributors := e.contributors.Contributors()
		e.sharedCount = len(contributors)
		e.restricted = scope.New(false, false)
		e.unrestricted = scope.New(true, false)
		var result *multierror.Error
		for _, s := range []*scope.Scope{e.restricted, e.unrestricted} {
			if err := scope.ApplyContributors(s, contributors); err != nil {
				result = multierror.Append(result, err)
			}
			s.Seal()
		}
		if err := result.ErrorOrNil(); err != nil {
			e.initErr = errz.Wrap(errz.Execution, fmt.Errorf("initialize shared scopes: %w", err))
		}
		e.logger.Debug().Int("contributors", len(contributors)).Msg("shared scopes initialized")
	})
	return e.initErr
}

// RegisterScopeContributor adds a contributor. Contributors registered
// after Init are applied to each execution scope instead of the shared
// scopes.
func (e *Engine) RegisterScopeContributor(c scope.Contributor) {
	e.contributors.Register(c)
}

// RegisterConverter adds a converter for values of type t, or for every
// value if t is nil.
func (e *Engine) RegisterConverter(t reflect.Type, c convert.Converter) {
	e.converters.Register(t, c)
}

// Converters returns the engine's converter registry.
func (e *Engine) Converters() *convert.Registry {
	return e.converters
}

// ResetCaches clears both compiled-unit caches.
func (e *Engine) ResetCaches() {
	e.caches.Reset()
	e.logger.Info().Msg("script caches reset")
}

// DebuggerAttached disables caching until DebuggerDetached is called.
func (e *Engine) DebuggerAttached() {
	e.debugger.Store(true)
	e.logger.Info().Msg("debugger attached, script caching disabled")
}

// DebuggerDetached re-enables caching.
func (e *Engine) DebuggerDetached() {
	e.debugger.Store(false)
	e.logger.Info().Msg("debugger detached, script caching enabled")
}

// context returns ctx carrying a call-chain identity, creating one if
// needed.
func (e *Engine) context(ctx context.Context) (context.Context, callchain.ContextID) {
	if id, ok := callchain.FromContext(ctx); ok {
		return ctx, id
	}
	id := callchain.NewContextID()
	return callchain.WithContext(ctx, id), id
}

// ExecuteScript resolves path through the engine's loader and executes it.
func (e *Engine) ExecuteScript(ctx context.Context, path string, model map[string]any) (any, error) {
	ref, err := e.FindScript(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, ref, model)
}

// FindScript resolves path through the engine's loader.
func (e *Engine) FindScript(ctx context.Context, path string) (*script.Reference, error) {
	if e.loader == nil {
		return nil, errz.New(errz.Resolution, "no loader configured for %q", path).WithCause(script.ErrNotFound)
	}
	ref, err := e.loader.Resolve(ctx, path)
	if err != nil {
		return nil, errz.Wrap(errz.Resolution, err).WithScript(path)
	}
	return ref, nil
}

// Execute runs ref as a new top-level script. Model entries are bound in
// the execution scope and written back after the script finished, so
// values the script assigned are visible to the caller.
func (e *Engine) Execute(ctx context.Context, ref *script.Reference, model map[string]any) (any, error) {
	if err := e.Init(); err != nil {
		return nil, err
	}
	unit, err := e.compiled(ctx, ref)
	if err != nil {
		return nil, err
	}
	ctx, id := e.context(ctx)
	e.tracker.EnterTopLevel(id)
	defer e.tracker.LeaveTopLevel(id)

	s, err := e.executionScope(ref.Secure())
	if err != nil {
		return nil, err
	}
	for name, value := range model {
		gv, release, err := e.guestValue(value)
		if err != nil {
			return nil, errz.Wrap(errz.Conversion, fmt.Errorf("model %q: %w", name, err)).WithScript(ref.Name())
		}
		defer release()
		if err := s.Set(name, gv); err != nil {
			return nil, errz.Wrap(errz.Execution, err).WithScript(ref.Name())
		}
	}
	result, err := e.run(ctx, id, ref, unit, s)
	if err != nil {
		return nil, err
	}
	for name := range model {
		v, ok := e.guest.Global(s, name)
		if !ok {
			continue
		}
		hv, err := e.converters.ConvertForHost(v, nil)
		if err != nil {
			return nil, errz.Wrap(errz.Conversion, fmt.Errorf("model %q: %w", name, err)).WithScript(ref.Name())
		}
		model[name] = hv
	}
	return e.hostResult(ref, result)
}

// ExecuteInScope runs a literal source string. See ExecuteReferenceInScope.
func (e *Engine) ExecuteInScope(ctx context.Context, source string, s *scope.Scope) (any, error) {
	return e.ExecuteReferenceInScope(ctx, script.Dynamic(source), s)
}

// ExecuteReferenceInScope runs ref in s. If the call tree of ctx is already
// executing a script, ref continues its call chain; otherwise a new chain
// is started. A nil scope means a fresh execution scope.
func (e *Engine) ExecuteReferenceInScope(ctx context.Context, ref *script.Reference, s *scope.Scope) (any, error) {
	if err := e.Init(); err != nil {
		return nil, err
	}
	unit, err := e.compiled(ctx, ref)
	if err != nil {
		return nil, err
	}
	ctx, id := e.context(ctx)
	if !e.tracker.Active(id) {
		e.tracker.EnterTopLevel(id)
		defer e.tracker.LeaveTopLevel(id)
	}
	if s == nil {
		if s, err = e.executionScope(ref.Secure()); err != nil {
			return nil, err
		}
	} else if _, ok := s.Get(importScriptName); !ok && !s.Sealed() {
		if err := s.Set(importScriptName, e.importScript(s)); err != nil {
			return nil, errz.Wrap(errz.Execution, err).WithScript(ref.Name())
		}
	}
	result, err := e.run(ctx, id, ref, unit, s)
	if err != nil {
		return nil, err
	}
	return e.hostResult(ref, result)
}

// InitializeScope returns a fresh execution scope for ref, as Execute would
// build it. Callers use it to prepare bindings before
// ExecuteReferenceInScope.
func (e *Engine) InitializeScope(ref *script.Reference) (*scope.Scope, error) {
	if err := e.Init(); err != nil {
		return nil, err
	}
	return e.executionScope(ref.Secure())
}

// executionScope builds the scope one execution runs in: a child of a
// shared scope, or a fresh scope built by every contributor.
func (e *Engine) executionScope(trusted bool) (*scope.Scope, error) {
	var s *scope.Scope
	var late []scope.Contributor
	if e.shareScopes {
		parent := e.restricted
		if trusted {
			parent = e.unrestricted
		}
		s = parent.Child()
		late = e.contributors.Contributors()[e.sharedCount:]
	} else {
		s = scope.New(trusted, true)
		late = e.contributors.Contributors()
	}
	if err := scope.ApplyContributors(s, late); err != nil {
		return nil, errz.Wrap(errz.Execution, fmt.Errorf("initialize scope: %w", err))
	}
	if err := s.Set(importScriptName, e.importScript(s)); err != nil {
		return nil, errz.Wrap(errz.Execution, err)
	}
	return s, nil
}

// guestValue converts a model value for the guest. With locked models,
// adapted values are wrapped in the delegate shared by every execution
// holding the same backing object.
func (e *Engine) guestValue(v any) (any, func(), error) {
	gv, err := e.converters.ConvertForGuest(v, nil)
	if err != nil {
		return nil, nil, err
	}
	if e.lockedModel {
		if _, ok := gv.(adapt.Adapted); ok {
			d, release := e.models.Acquire(gv)
			return d, release, nil
		}
	}
	return gv, func() {}, nil
}

func (e *Engine) hostResult(ref *script.Reference, result any) (any, error) {
	hv, err := e.converters.ConvertForHost(result, nil)
	if err != nil {
		return nil, errz.Wrap(errz.Conversion, err).WithScript(ref.Name())
	}
	return hv, nil
}

// run executes unit with ref pushed on the call chain of id.
func (e *Engine) run(ctx context.Context, id callchain.ContextID, ref *script.Reference, unit guest.Unit, s *scope.Scope) (any, error) {
	if err := e.tracker.PushFrame(id, ref); err != nil {
		return nil, errz.Wrap(errz.Chain, err).WithScript(ref.Name())
	}
	defer e.tracker.PopFrame(id)
	chain, _ := e.tracker.Chain(id)

	e.observer.OnExecuteStart(ExecuteEvent{Script: ref.Name(), Depth: len(chain)})
	start := time.Now()
	result, err := e.guest.Execute(ctx, unit, s)
	duration := time.Since(start)
	e.observer.OnExecuteEnd(ExecuteEvent{Script: ref.Name(), Depth: len(chain), Duration: duration, Err: err})

	if err != nil {
		e.logger.Debug().Str("script", ref.Name()).Dur("duration", duration).Err(err).Msg("script failed")
		return nil, errz.Wrap(errz.Execution, err).WithScript(ref.Name()).WithChain(names(chain))
	}
	e.logger.Debug().Str("script", ref.Name()).Dur("duration", duration).Int("depth", len(chain)).Msg("script executed")
	return result, nil
}

func names(chain []*script.Reference) []string {
	out := make([]string, len(chain))
	for i, ref := range chain {
		out[i] = ref.Name()
	}
	return out
}

// CurrentReference returns the script executing on the call tree of ctx.
func (e *Engine) CurrentReference(ctx context.Context) (*script.Reference, bool) {
	id, ok := callchain.FromContext(ctx)
	if !ok {
		return nil, false
	}
	return e.tracker.Current(id)
}

// CurrentChain returns the scripts executing on the call tree of ctx,
// outermost first.
func (e *Engine) CurrentChain(ctx context.Context) ([]*script.Reference, bool) {
	id, ok := callchain.FromContext(ctx)
	if !ok {
		return nil, false
	}
	chain, ok := e.tracker.Chain(id)
	if !ok || len(chain) == 0 {
		return nil, false
	}
	return chain, true
}

// InheritChain copies the call chain of parent onto ctx, so scripts
// executed with the returned context report parent's scripts as their
// callers. The returned function releases the inherited chain and must be
// called once the work is done. The returned context holds none of the
// delegate locks held under ctx or parent.
func (e *Engine) InheritChain(ctx, parent context.Context) (context.Context, func(), error) {
	ctx = delegate.DetachLockScope(ctx)
	src, ok := callchain.FromContext(parent)
	if !ok {
		return ctx, func() {}, errz.Wrap(errz.Chain, callchain.ErrNoSourceChain)
	}
	ctx, dst := e.context(ctx)
	if err := e.tracker.Inherit(dst, src); err != nil {
		return ctx, func() {}, errz.Wrap(errz.Chain, err)
	}
	return ctx, func() { e.tracker.Release(dst) }, nil
}

// Fork returns a context with a new call-chain identity that inherits the
// chain of ctx. It is used to hand work to another goroutine.
func (e *Engine) Fork(ctx context.Context) (context.Context, func(), error) {
	return e.InheritChain(callchain.WithContext(ctx, callchain.NewContextID()), ctx)
}
