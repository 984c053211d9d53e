package scriptenv

import (
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/scriptenv/config"
	"github.com/deepnoodle-ai/scriptenv/convert"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/scope"
	"github.com/deepnoodle-ai/scriptenv/script"
)

// Option describes a function used to configure an Engine.
type Option func(*options)

type options struct {
	cfg          config.Config
	guest        guest.Engine
	loader       script.Loader
	logger       zerolog.Logger
	observer     Observer
	converters   *convert.Registry
	contributors []scope.Contributor
	lockedModel  bool
}

func newOptions(opts []Option) *options {
	o := &options{
		cfg:    config.Defaults(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithConfig applies every engine setting of cfg. Options given after it
// override individual settings.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithGuest supplies the script engine units are compiled and run with. The
// default is a goja engine using the engine's converter registry.
func WithGuest(g guest.Engine) Option {
	return func(o *options) {
		o.guest = g
	}
}

// WithLoader supplies the loader ExecuteScript, FindScript and importScript
// resolve paths with. A *script.Locators lets imports address several
// loaders by prefix.
func WithLoader(l script.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithLogger sets the logger. The engine logs nothing by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver attaches an observer for compile, cache and execution
// events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithConverters replaces the converter registry. The default registry
// holds the converters from convert.RegisterDefaults.
func WithConverters(r *convert.Registry) Option {
	return func(o *options) {
		o.converters = r
	}
}

// WithContributors registers scope contributors. This option is additive.
func WithContributors(cs ...scope.Contributor) Option {
	return func(o *options) {
		o.contributors = append(o.contributors, cs...)
	}
}

// WithCacheSize bounds each of the compiled-unit caches.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cfg.MaxCacheSize = n
	}
}

// WithOptimizationLevel sets the level scripts are first compiled at.
func WithOptimizationLevel(level int) Option {
	return func(o *options) {
		o.cfg.OptimizationLevel = level
	}
}

// WithOptimizationFloor sets the lowest level compile failover may reach.
// The guest engine's own floor still applies.
func WithOptimizationFloor(level int) Option {
	return func(o *options) {
		o.cfg.OptimizationFloor = level
	}
}

// WithFailover controls whether failed compilations are retried at lower
// optimization levels.
func WithFailover(enabled bool) Option {
	return func(o *options) {
		o.cfg.Failover = enabled
	}
}

// WithShareScopes controls whether executions run in children of shared,
// sealed scopes built once by Init.
func WithShareScopes(enabled bool) Option {
	return func(o *options) {
		o.cfg.ShareScopes = enabled
	}
}

// WithCompileScripts controls whether compiled units are cached.
func WithCompileScripts(enabled bool) Option {
	return func(o *options) {
		o.cfg.CompileScripts = enabled
	}
}

// WithDebugger starts the engine with a debugger attached.
func WithDebugger(attached bool) Option {
	return func(o *options) {
		o.cfg.Debugger = attached
	}
}

// WithLockedModel wraps adapted model values in delegates, so scripts that
// share a model object across goroutines see atomic reads and writes.
func WithLockedModel(enabled bool) Option {
	return func(o *options) {
		o.lockedModel = enabled
	}
}
