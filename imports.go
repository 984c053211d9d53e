package scriptenv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/scriptenv/callchain"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/scope"
	"github.com/deepnoodle-ai/scriptenv/script"
)

// importScriptName is the binding import directives are rewritten to call.
const importScriptName = "importScript"

type importsKey struct{}

// imported records the scripts already imported into one scope.
type imported struct {
	mu   sync.Mutex
	keys map[string]bool
}

// first marks key as imported and reports whether it was new.
func (i *imported) first(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.keys[key] {
		return false
	}
	i.keys[key] = true
	return true
}

func importsOf(s *scope.Scope) *imported {
	return s.AttachOnce(importsKey{}, func() any {
		return &imported{keys: map[string]bool{}}
	}).(*imported)
}

// locatorPath maps an import onto a loader path. Classpath imports are
// absolute and addressed through the "classpath" loader; other imports are
// resolved relative to the importing script.
func locatorPath(current *script.Reference, kind, p string) string {
	if kind == string(script.PathClasspath) {
		return "classpath:" + script.Relative(nil, script.PathClasspath, "/"+p)
	}
	return script.Relative(current, script.PathKind(kind), p)
}

// importScript returns the importScript(kind, path, failOnMissing) function
// bound in every execution scope. The import runs in the same scope and
// continues the caller's call chain. Each script is imported into a scope
// at most once.
func (e *Engine) importScript(s *scope.Scope) guest.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("%s: expected (kind, path[, failOnMissing])", importScriptName)
		}
		kind, ok1 := args[0].(string)
		p, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: kind and path must be strings", importScriptName)
		}
		failOnMissing := true
		if len(args) > 2 {
			if b, ok := args[2].(bool); ok {
				failOnMissing = b
			}
		}
		var current *script.Reference
		if id, ok := callchain.FromContext(ctx); ok {
			current, _ = e.tracker.Current(id)
		}
		target := locatorPath(current, kind, p)
		ref, err := e.FindScript(ctx, target)
		if err != nil {
			if !failOnMissing && errors.Is(err, script.ErrNotFound) {
				e.logger.Debug().Str("script", target).Msg("optional import not found")
				return nil, nil
			}
			return nil, err
		}
		if !importsOf(s).first(cacheKey(ref)) {
			return nil, nil
		}
		e.logger.Debug().Str("script", ref.Name()).Msg("importing script")
		return e.ExecuteReferenceInScope(ctx, ref, s)
	}
}
