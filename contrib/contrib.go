// Package contrib holds scope contributors that give scripts access to
// host facilities: logging, JMESPath queries, identifiers and the process
// environment.
package contrib

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/deepnoodle-ai/scriptenv/adapt"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/scope"
	"github.com/deepnoodle-ai/scriptenv/script"
)

// Tracer reports the script executing on a call tree. *scriptenv.Engine
// implements it.
type Tracer interface {
	CurrentReference(ctx context.Context) (*script.Reference, bool)
}

// Standard returns the contributors every CLI execution scope gets.
func Standard(opts ...Option) []scope.Contributor {
	o := newOptions(opts)
	return []scope.Contributor{
		NewLog(o.logger, o.tracer),
		NewJMESPath(),
		NewUUID(),
		NewEnv(o.envPrefix),
	}
}

// Module binds a map of functions under a single name.
type Module struct {
	name    string
	trusted bool
	funcs   map[string]guest.Func
}

func (m *Module) Name() string { return m.name }

func (m *Module) Contribute(s *scope.Scope, trusted, _ bool) error {
	if m.trusted && !trusted {
		return nil
	}
	members := make(map[string]any, len(m.funcs))
	for k, fn := range m.funcs {
		members[k] = fn
	}
	return s.Set(m.name, members)
}

// Names returns the member names, sorted.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.funcs))
	for k := range m.funcs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func stringArg(fn string, args []any, i int) (string, error) {
	if len(args) <= i {
		return "", fmt.Errorf("%s: missing argument %d", fn, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string (got %T)", fn, i+1, args[i])
	}
	return s, nil
}

// plain converts v into the generic JSON-like shape: map[string]any,
// []any, float64, string, bool and nil. Adapted values are replaced by
// their backing objects first.
func plain(v any) any {
	v = adapt.Unwrap(v)
	switch v := v.(type) {
	case nil, string, bool, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = plain(e)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return plain(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = plain(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = plain(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
