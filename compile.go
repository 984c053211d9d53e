package scriptenv

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/scriptenv/errz"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/script"
)

// caching reports whether compiled units may be cached right now.
func (e *Engine) caching() bool {
	return e.compile && !e.debugger.Load()
}

// cacheKey returns the key ref is cached under. Dynamic scripts are keyed
// by their content-hash name. Persistent scripts use their real path,
// preferring a filesystem path, then a store path, then a classpath path,
// and fall back to the name.
func cacheKey(ref *script.Reference) string {
	if ref.IsDynamic() {
		return ref.Name()
	}
	for _, kind := range []script.PathKind{script.PathFile, script.PathStore, script.PathClasspath} {
		if p, ok := ref.Path(kind); ok {
			return string(kind) + ":" + p
		}
	}
	return ref.Name()
}

// compiled returns the unit for ref, from a cache when possible.
func (e *Engine) compiled(ctx context.Context, ref *script.Reference) (guest.Unit, error) {
	c := e.caches.For(ref.IsDynamic())
	key := cacheKey(ref)
	cachable := e.caching() && (ref.IsDynamic() || ref.Cachable())
	var gen uint64
	if cachable {
		if unit, ok := c.Lookup(key); ok {
			e.observer.OnCacheHit(CacheEvent{Script: ref.Name(), Key: key, Dynamic: ref.IsDynamic()})
			return unit, nil
		}
		gen = c.Generation()
	}
	content, err := ref.Content(ctx)
	if err != nil {
		return nil, errz.Wrap(errz.Resolution, err).WithScript(ref.Name())
	}
	unit, err := e.compileSource(ref, script.RewriteImports(string(content)))
	if err != nil {
		return nil, err
	}
	if cachable && !c.StoreAt(gen, key, unit) {
		e.logger.Debug().Str("script", ref.Name()).Str("key", key).Msg("caches were reset during compilation, unit not cached")
	}
	return unit, nil
}

// compileSource compiles at the configured level and, with failover
// enabled, retries at each lower level down to the floor. Without caching
// the floor is used directly.
func (e *Engine) compileSource(ref *script.Reference, source string) (guest.Unit, error) {
	level := e.level
	if !e.caching() {
		level = e.floor
	}
	var attempts *multierror.Error
	var last error
	for {
		start := time.Now()
		unit, err := e.guest.Compile(source, ref.Name(), level)
		duration := time.Since(start)
		e.observer.OnCompile(CompileEvent{Script: ref.Name(), Level: level, Duration: duration, Err: err})
		if err == nil {
			e.logger.Debug().Str("script", ref.Name()).Int("level", level).Dur("duration", duration).Msg("script compiled")
			return unit, nil
		}
		attempts = multierror.Append(attempts, fmt.Errorf("level %d: %w", level, err))
		last = err
		if !e.failover || level <= e.floor {
			break
		}
		e.logger.Info().
			Str("script", ref.Name()).
			Int("level", level).
			Int("next_level", level-1).
			Err(err).
			Msg("compilation failed, retrying at a lower optimization level")
		level--
	}
	return nil, &errz.Error{
		Kind:     errz.Compile,
		Message:  last.Error(),
		Script:   ref.Name(),
		Cause:    last,
		Attempts: attempts,
	}
}
