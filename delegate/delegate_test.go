package delegate

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/scriptenv/adapt"
)

// pair is an object whose "pair" property is stored in two fields. Writing
// it updates a, yields, then updates b, so an unsynchronized reader can
// observe a != b.
type pair struct {
	a, b   int
	method Callable
}

func (p *pair) Get(key string) (any, error) {
	switch key {
	case "a":
		return p.a, nil
	case "b":
		return p.b, nil
	case "check":
		return p.method, nil
	}
	return nil, adapt.ErrNoSuchKey
}

func (p *pair) Set(key string, value any) error {
	if key != "pair" {
		return adapt.ErrUnsupported
	}
	p.a = value.(int)
	runtime.Gosched()
	p.b = value.(int)
	return nil
}

func (p *pair) Has(key string) bool     { return key == "a" || key == "b" || key == "check" }
func (p *pair) Delete(key string) error { return adapt.ErrUnsupported }
func (p *pair) Keys() []string          { return []string{"a", "b", "check"} }

func TestOwnerLockPreventsTornReads(t *testing.T) {
	var torn, calls atomic.Int64
	p := &pair{}
	owner := New(p)
	p.method = CallableFunc(func(ctx context.Context, this any, args ...any) (any, error) {
		if this != any(p) {
			return nil, errors.New("method called with the wrong receiver")
		}
		calls.Add(1)
		a, err := owner.Get(ctx, "a")
		if err != nil {
			return nil, err
		}
		runtime.Gosched()
		b, err := owner.Get(ctx, "b")
		if err != nil {
			return nil, err
		}
		if a != b {
			torn.Add(1)
		}
		return nil, nil
	})

	method, err := owner.Get(context.Background(), "check")
	require.Nil(t, err)
	md, ok := method.(*Delegate)
	require.True(t, ok)
	require.Same(t, owner, md.Owner())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if err := owner.Set(context.Background(), "pair", w*1000+i); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if _, err := md.Call(context.Background(), nil); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(2000), calls.Load())
	require.Equal(t, int64(0), torn.Load())
}

func TestReentrantWrite(t *testing.T) {
	backing := map[string]any{"n": 1}
	proxy, err := adapt.Wrap(backing, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(proxy)

	ctx := context.Background()
	err = d.Write(ctx, func(ctx context.Context) error {
		require.Equal(t, 1, HeldLocks(ctx))
		v, err := d.Get(ctx, "n")
		if err != nil {
			return err
		}
		return d.Set(ctx, "n", v.(int)+1)
	})
	require.Nil(t, err)
	require.Equal(t, 2, backing["n"])
	require.Equal(t, 0, HeldLocks(ctx))
}

func TestWritersSharingAContextAreExclusive(t *testing.T) {
	backing := map[string]any{"n": 0}
	proxy, err := adapt.Wrap(backing, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(proxy)

	ctx := context.Background()
	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				err := d.Write(ctx, func(ctx context.Context) error {
					n := active.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					defer active.Add(-1)
					v, err := d.Get(ctx, "n")
					if err != nil {
						return err
					}
					runtime.Gosched()
					return d.Set(ctx, "n", v.(int)+1)
				})
				require.Nil(t, err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), peak.Load())
	require.Equal(t, 400, backing["n"])
}

func TestDetachedScopeReacquiresLocks(t *testing.T) {
	proxy, err := adapt.Wrap(map[string]any{}, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(proxy)

	err = d.Write(context.Background(), func(ctx context.Context) error {
		require.Equal(t, 1, HeldLocks(ctx))
		detachedCtx := DetachLockScope(ctx)
		require.Equal(t, 0, HeldLocks(detachedCtx))

		acquired := make(chan struct{})
		go func() {
			defer close(acquired)
			_ = d.Set(detachedCtx, "x", 1)
		}()
		select {
		case <-acquired:
			t.Fatal("detached goroutine wrote while the lock was held")
		case <-time.After(20 * time.Millisecond):
		}
		return nil
	})
	require.Nil(t, err)
	require.Eventually(t, func() bool {
		v, err := d.Get(context.Background(), "x")
		return err == nil && v == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStaleContextReacquiresLocks(t *testing.T) {
	proxy, err := adapt.Wrap(map[string]any{}, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(proxy)

	var inner context.Context
	require.Nil(t, d.Write(context.Background(), func(ctx context.Context) error {
		inner = ctx
		return nil
	}))
	require.Equal(t, 0, HeldLocks(inner))

	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		_ = d.Write(context.Background(), func(ctx context.Context) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Set(inner, "x", 1)
	}()
	select {
	case <-done:
		t.Fatal("write through a stale context skipped the lock")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestLockUpgradeFails(t *testing.T) {
	proxy, err := adapt.Wrap(map[string]any{}, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(proxy)

	err = d.Read(context.Background(), func(ctx context.Context) error {
		require.True(t, d.Has(ctx, "missing") == false)
		return d.Set(ctx, "x", 1)
	})
	require.True(t, errors.Is(err, ErrLockUpgrade))
	require.Nil(t, d.Set(context.Background(), "x", 1))
}

func TestChildDelegatesAreCached(t *testing.T) {
	backing := map[string]any{
		"child": map[string]any{"leaf": 1},
		"list":  []any{1, 2},
		"name":  "plain",
	}
	conv := identityConverter{}
	proxy, err := adapt.Wrap(backing, adapt.Capabilities{}, conv)
	require.Nil(t, err)
	d := New(proxy)
	ctx := context.Background()

	first, err := d.Get(ctx, "child")
	require.Nil(t, err)
	second, err := d.Get(ctx, "child")
	require.Nil(t, err)
	require.Same(t, first, second)
	require.Same(t, d, first.(*Delegate).Owner())

	leaf, err := first.(*Delegate).Get(ctx, "leaf")
	require.Nil(t, err)
	require.Equal(t, 1, leaf)

	name, err := d.Get(ctx, "name")
	require.Nil(t, err)
	require.Equal(t, "plain", name)

	list, err := d.Get(ctx, "list")
	require.Nil(t, err)
	ld := list.(*Delegate)
	require.Equal(t, 2, ld.Len(ctx))
	v, err := ld.GetIndex(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, 2, v)
	require.Nil(t, ld.SetIndex(ctx, 0, 10))
	require.Equal(t, 10, backing["list"].([]any)[0])

	// Setting a delegate stores its target.
	require.Nil(t, d.Set(ctx, "copy", first))
	require.IsType(t, map[string]any{}, backing["copy"])
	require.IsType(t, map[string]any{}, d.Backing())
}

type identityConverter struct{}

func (identityConverter) ConvertForGuest(v any, _ reflect.Type) (any, error) {
	if adapt.CanWrap(v) {
		return adapt.Wrap(v, adapt.Capabilities{}, identityConverter{})
	}
	return v, nil
}

func (identityConverter) ConvertForHost(v any, _ reflect.Type) (any, error) {
	return adapt.Unwrap(v), nil
}

func TestNotCallable(t *testing.T) {
	d := New(&pair{})
	_, err := d.Call(context.Background(), nil)
	require.True(t, errors.Is(err, ErrNotCallable))
	_, err = d.Construct(context.Background())
	require.True(t, errors.Is(err, ErrNotCallable))

	_, err = New(42).Get(context.Background(), "x")
	require.True(t, errors.Is(err, adapt.ErrUnsupported))
	require.Equal(t, 0, New(42).Len(context.Background()))
}

type panicky struct {
	pair
	armed bool
}

func (p *panicky) Set(key string, value any) error {
	if p.armed {
		p.armed = false
		panic("boom")
	}
	return p.pair.Set(key, value)
}

func TestLockReleasedOnPanic(t *testing.T) {
	d := New(&panicky{armed: true})
	func() {
		defer func() { require.NotNil(t, recover()) }()
		_ = d.Set(context.Background(), "pair", 1)
	}()

	done := make(chan error, 1)
	go func() { done <- d.Set(context.Background(), "pair", 2) }()
	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delegate lock leaked after panic")
	}
}

type constructible struct {
	proto any
}

func (c *constructible) Construct(ctx context.Context, args ...any) (any, error) {
	return map[string]any{"args": len(args)}, nil
}

func (c *constructible) Prototype() any { return c.proto }
func (c *constructible) Parent() any    { return nil }

func TestConstructAndLinkage(t *testing.T) {
	proto, err := adapt.Wrap(map[string]any{"kind": "base"}, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(&constructible{proto: proto})
	ctx := context.Background()

	v, err := d.Construct(ctx, 1, 2)
	require.Nil(t, err)
	require.Equal(t, map[string]any{"args": 2}, v)

	p, ok := d.Prototype(ctx)
	require.True(t, ok)
	kind, err := p.(*Delegate).Get(ctx, "kind")
	require.Nil(t, err)
	require.Equal(t, "base", kind)

	parent, ok := d.Parent(ctx)
	require.True(t, ok)
	require.Nil(t, parent)

	_, ok = New(&pair{}).Prototype(ctx)
	require.False(t, ok)
}

func TestViewSurfaces(t *testing.T) {
	backing := map[string]any{"a": 1}
	proxy, err := adapt.Wrap(backing, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	d := New(proxy)
	require.Same(t, d, New(d))

	var obj adapt.Object = d.In(context.Background())
	var seq adapt.Sequence = d.In(context.Background())
	require.Nil(t, obj.Set("b", 2))
	require.Equal(t, []string{"a", "b"}, obj.Keys())
	require.Equal(t, 2, seq.Len())
	v, err := seq.GetIndex(1)
	require.Nil(t, err)
	require.Equal(t, 2, v)
	require.Nil(t, obj.Delete("a"))
	require.False(t, obj.Has("a"))
	require.Equal(t, backing, adapt.Unwrap(d.In(context.Background())))
}

func TestPoolSharesDelegatesByBacking(t *testing.T) {
	backing := map[string]any{}
	var pool Pool

	first, err := adapt.Wrap(backing, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	second, err := adapt.Wrap(backing, adapt.Capabilities{}, nil)
	require.Nil(t, err)
	require.NotSame(t, first, second)

	a, releaseA := pool.Acquire(first)
	b, releaseB := pool.Acquire(second)
	require.Same(t, a, b)
	require.Equal(t, 1, pool.Len())

	other, releaseOther := pool.Acquire(map[string]any{})
	require.NotSame(t, a, other)
	require.Equal(t, 2, pool.Len())

	releaseA()
	releaseA()
	require.Equal(t, 2, pool.Len())
	releaseB()
	releaseOther()
	require.Equal(t, 0, pool.Len())

	d, release := pool.Acquire(a)
	require.Same(t, a, d)
	release()
	require.Equal(t, 0, pool.Len())
}
