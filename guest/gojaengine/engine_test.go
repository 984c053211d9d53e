package gojaengine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/scriptenv/adapt"
	"github.com/deepnoodle-ai/scriptenv/convert"
	"github.com/deepnoodle-ai/scriptenv/delegate"
	"github.com/deepnoodle-ai/scriptenv/guest"
	"github.com/deepnoodle-ai/scriptenv/scope"
)

func run(t *testing.T, e *Engine, s *scope.Scope, src string) any {
	t.Helper()
	unit, err := e.Compile(src, "test.js", LevelStrict)
	require.Nil(t, err)
	result, err := e.Execute(context.Background(), unit, s)
	require.Nil(t, err)
	return result
}

func TestLevels(t *testing.T) {
	e := New()
	floor, ceiling := e.Levels()
	require.Equal(t, -1, floor)
	require.Equal(t, 1, ceiling)
	require.Equal(t, "goja", e.Name())

	unit, err := e.Compile("1", "a.js", 7)
	require.Nil(t, err)
	require.Equal(t, LevelStrict, unit.Level())
	require.Equal(t, "a.js", unit.Path())

	unit, err = e.Compile("1", "a.js", -5)
	require.Nil(t, err)
	require.Equal(t, LevelNoSources, unit.Level())
}

func TestStrictRejectsWith(t *testing.T) {
	e := New()
	src := "var o = {a: 1}; with (o) { a }"
	_, err := e.Compile(src, "with.js", LevelStrict)
	require.Error(t, err)

	unit, err := e.Compile(src, "with.js", LevelSloppy)
	require.Nil(t, err)
	result, err := e.Execute(context.Background(), unit, scope.New(true, true))
	require.Nil(t, err)
	require.Equal(t, int64(1), result)
}

func TestSyntaxError(t *testing.T) {
	e := New()
	for _, level := range []int{LevelStrict, LevelSloppy, LevelNoSources} {
		_, err := e.Compile("var = ;", "bad.js", level)
		require.Error(t, err)
	}
}

func TestResultConversion(t *testing.T) {
	e := New()
	s := scope.New(true, true)
	require.Equal(t, int64(3), run(t, e, s, "1 + 2"))
	require.Equal(t, 1.5, run(t, e, s, "3 / 2"))
	require.Equal(t, "ab", run(t, e, s, "'a' + 'b'"))
	require.Nil(t, run(t, e, s, "undefined"))
	require.Equal(t, []any{int64(1), "x"}, run(t, e, s, "[1, 'x']"))
	require.Equal(t, map[string]any{"a": int64(1), "b": []any{true}}, run(t, e, s, "({a: 1, b: [true]})"))

	date := run(t, e, s, "new Date(86400000)")
	require.Equal(t, int64(86400000), date.(time.Time).UnixMilli())
}

func TestCyclicResult(t *testing.T) {
	e := New()
	result := run(t, e, scope.New(true, true), "var o = {}; o.self = o; o")
	m := result.(map[string]any)
	require.Contains(t, m, "self")
}

func TestBindingsAndGlobals(t *testing.T) {
	e := New()
	parent := scope.New(true, false)
	require.Nil(t, parent.Set("base", 10))
	s := parent.Child()
	require.Nil(t, s.Set("n", 5))

	require.Equal(t, int64(15), run(t, e, s, "var total = base + n; total"))
	v, ok := e.Global(s, "total")
	require.True(t, ok)
	require.Equal(t, int64(15), v)

	// A second unit in the same scope sees globals of the first.
	require.Equal(t, int64(16), run(t, e, s, "total + 1"))

	_, ok = e.Global(s, "missing")
	require.False(t, ok)

	// Without a runtime, globals come from the scope.
	fresh := scope.New(true, true)
	require.Nil(t, fresh.Set("x", "y"))
	v, ok = e.Global(fresh, "x")
	require.True(t, ok)
	require.Equal(t, "y", v)
}

func TestProxyBridge(t *testing.T) {
	reg := convert.NewDefaultRegistry()
	e := New(WithConverter(reg))
	s := scope.New(true, true)
	model := map[string]any{"name": "a", "tags": []string{"x", "y"}}
	proxy, err := adapt.Wrap(model, adapt.Capabilities{}, reg)
	require.Nil(t, err)
	require.Nil(t, s.Set("model", proxy))

	result := run(t, e, s, `
		model.name = model.name + "b";
		model.count = model.tags.length;
		model.tags[1] = "z";
		Object.keys(model).length`)
	require.Equal(t, int64(3), result)
	require.Equal(t, "ab", model["name"])
	require.Equal(t, int64(2), model["count"])
	require.Equal(t, []string{"x", "z"}, model["tags"])

	// Reading the proxy back gives the proxy itself.
	v, ok := e.Global(s, "model")
	require.True(t, ok)
	require.Same(t, proxy, v)
}

func TestPlainMapsAreConverted(t *testing.T) {
	reg := convert.NewDefaultRegistry()
	e := New(WithConverter(reg))
	s := scope.New(true, true)
	counts := map[string]any{"a": 1}
	require.Nil(t, s.Set("counts", counts))
	run(t, e, s, "counts.b = counts.a + 1")
	require.Equal(t, int64(2), counts["b"])
}

func TestHostFunc(t *testing.T) {
	e := New()
	s := scope.New(true, true)
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "outer")
	var seen any
	require.Nil(t, s.Set("greet", guest.Func(func(ctx context.Context, args ...any) (any, error) {
		seen = ctx.Value(ctxKey{})
		return "hello " + args[0].(string), nil
	})))
	require.Nil(t, s.Set("fail", guest.Func(func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("boom")
	})))

	unit, err := e.Compile("greet('bob')", "f.js", LevelStrict)
	require.Nil(t, err)
	result, err := e.Execute(ctx, unit, s)
	require.Nil(t, err)
	require.Equal(t, "hello bob", result)
	require.Equal(t, "outer", seen)

	unit, err = e.Compile("fail()", "f.js", LevelStrict)
	require.Nil(t, err)
	_, err = e.Execute(ctx, unit, s)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "boom"))
}

func TestNestedExecution(t *testing.T) {
	e := New()
	s := scope.New(true, true)
	inner, err := e.Compile("var innerRan = true; 41", "inner.js", LevelStrict)
	require.Nil(t, err)
	require.Nil(t, s.Set("runInner", guest.Func(func(ctx context.Context, args ...any) (any, error) {
		return e.Execute(ctx, inner, s)
	})))
	require.Equal(t, int64(42), run(t, e, s, "runInner() + 1"))
	v, ok := e.Global(s, "innerRan")
	require.True(t, ok)
	require.Equal(t, true, v)
}

func TestScriptFunctionsAreCallable(t *testing.T) {
	e := New()
	s := scope.New(true, true)
	result := run(t, e, s, "(function (a, b) { return a * b; })")
	fn, ok := result.(delegate.Callable)
	require.True(t, ok)
	product, err := fn.Call(context.Background(), nil, 6, 7)
	require.Nil(t, err)
	require.Equal(t, int64(42), product)
}

type counter struct {
	n int
}

func (c *counter) Call(ctx context.Context, this any, args ...any) (any, error) {
	c.n++
	return c.n, nil
}

func TestDelegateBridge(t *testing.T) {
	reg := convert.NewDefaultRegistry()
	e := New(WithConverter(reg))
	s := scope.New(true, true)
	items := []any{1, 2}
	proxy, err := adapt.Wrap(&items, adapt.Capabilities{}, reg)
	require.Nil(t, err)
	d := delegate.New(proxy)
	c := &counter{}
	require.Nil(t, s.Set("items", d))
	require.Nil(t, s.Set("tick", delegate.New(c)))

	result := run(t, e, s, "items[2] = items[0] + items[1]; tick(); tick()")
	require.Equal(t, int64(2), result)
	require.Equal(t, []any{1, 2, int64(3)}, items)
	v, _ := e.Global(s, "items")
	require.Same(t, d, v)
}

func TestCancellation(t *testing.T) {
	e := New()
	s := scope.New(true, true)
	unit, err := e.Compile("for (;;) {}", "loop.js", LevelStrict)
	require.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Execute(ctx, unit, s)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	// The runtime is usable again afterwards.
	require.Equal(t, int64(2), run(t, e, s, "1 + 1"))
}
