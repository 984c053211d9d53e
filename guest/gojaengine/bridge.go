package gojaengine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/deepnoodle-ai/scriptenv/adapt"
	"github.com/deepnoodle-ai/scriptenv/delegate"
	"github.com/deepnoodle-ai/scriptenv/guest"
)

// toGuest exposes a host value to the runtime. Adapted collections become
// goja dynamic objects and arrays, so reads and writes go straight through
// to the backing host value.
func (sess *session) toGuest(v any) goja.Value {
	if conv := sess.e.conv; conv != nil {
		if converted, err := conv.ConvertForGuest(v, nil); err == nil {
			v = converted
		}
	}
	rt := sess.rt
	switch v := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return v
	case guest.Func:
		return rt.ToValue(func(call goja.FunctionCall) goja.Value {
			result, err := v(sess.ctx, adapt.UnwrapAll(sess.args(call))...)
			if err != nil {
				panic(rt.NewGoError(err))
			}
			return sess.toGuest(result)
		})
	case *delegate.View:
		return sess.wrapDelegate(v.Delegate())
	case *delegate.Delegate:
		return sess.wrapDelegate(v)
	case *adapt.Proxy:
		if v.Shape() == adapt.ShapeList {
			return rt.NewDynamicArray(&arrayBridge{sess: sess, seq: v, target: v})
		}
		return rt.NewDynamicObject(&objectBridge{sess: sess, obj: v, target: v})
	case delegate.Callable:
		return sess.function(func(ctx context.Context, this any, args []any) (any, error) {
			return v.Call(ctx, this, args...)
		})
	case time.Time:
		date, err := rt.New(rt.Get("Date"), rt.ToValue(v.UnixMilli()))
		if err != nil {
			return rt.ToValue(v)
		}
		return date
	case adapt.Object:
		return rt.NewDynamicObject(&objectBridge{sess: sess, obj: v, target: v})
	case adapt.Sequence:
		return rt.NewDynamicArray(&arrayBridge{sess: sess, seq: v, target: v})
	default:
		return rt.ToValue(v)
	}
}

func (sess *session) args(call goja.FunctionCall) []any {
	args := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = sess.toHost(a)
	}
	return args
}

func (sess *session) function(fn func(ctx context.Context, this any, args []any) (any, error)) goja.Value {
	rt := sess.rt
	return rt.ToValue(func(call goja.FunctionCall) goja.Value {
		var this any
		if call.This != nil && !call.This.SameAs(rt.GlobalObject()) {
			this = sess.toHost(call.This)
		}
		result, err := fn(sess.ctx, this, sess.args(call))
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return sess.toGuest(result)
	})
}

func (sess *session) wrapDelegate(d *delegate.Delegate) goja.Value {
	view := &liveView{sess: sess, d: d}
	switch target := d.Target().(type) {
	case *adapt.Proxy:
		if target.Shape() == adapt.ShapeList {
			return sess.rt.NewDynamicArray(&arrayBridge{sess: sess, seq: view, target: d})
		}
		return sess.rt.NewDynamicObject(&objectBridge{sess: sess, obj: view, target: d})
	case adapt.Object:
		return sess.rt.NewDynamicObject(&objectBridge{sess: sess, obj: view, target: d})
	case adapt.Sequence:
		return sess.rt.NewDynamicArray(&arrayBridge{sess: sess, seq: view, target: d})
	case delegate.Callable:
		return sess.function(func(ctx context.Context, this any, args []any) (any, error) {
			return d.Call(ctx, this, args...)
		})
	}
	return sess.rt.ToValue(d.Target())
}

// liveView runs delegate operations under the context of whichever
// execution is current when the script touches the object.
type liveView struct {
	sess *session
	d    *delegate.Delegate
}

func (v *liveView) Get(key string) (any, error)     { return v.d.Get(v.sess.ctx, key) }
func (v *liveView) Set(key string, value any) error { return v.d.Set(v.sess.ctx, key, value) }
func (v *liveView) Has(key string) bool             { return v.d.Has(v.sess.ctx, key) }
func (v *liveView) Delete(key string) error         { return v.d.Delete(v.sess.ctx, key) }
func (v *liveView) Keys() []string                  { return v.d.Keys(v.sess.ctx) }
func (v *liveView) Len() int                        { return v.d.Len(v.sess.ctx) }
func (v *liveView) GetIndex(i int) (any, error)     { return v.d.GetIndex(v.sess.ctx, i) }
func (v *liveView) SetIndex(i int, value any) error { return v.d.SetIndex(v.sess.ctx, i, value) }

// objectBridge implements goja.DynamicObject over an adapt.Object.
type objectBridge struct {
	sess   *session
	obj    adapt.Object
	target any
}

func (b *objectBridge) Get(key string) goja.Value {
	v, err := b.obj.Get(key)
	if err != nil {
		if errors.Is(err, adapt.ErrNoSuchKey) {
			return nil
		}
		panic(b.sess.rt.NewGoError(err))
	}
	return b.sess.toGuest(v)
}

func (b *objectBridge) Set(key string, val goja.Value) bool {
	return b.obj.Set(key, b.sess.toHost(val)) == nil
}

func (b *objectBridge) Has(key string) bool {
	return b.obj.Has(key)
}

func (b *objectBridge) Delete(key string) bool {
	return b.obj.Delete(key) == nil
}

func (b *objectBridge) Keys() []string {
	return b.obj.Keys()
}

// arrayBridge implements goja.DynamicArray over an adapt.Sequence.
type arrayBridge struct {
	sess   *session
	seq    adapt.Sequence
	target any
}

func (b *arrayBridge) Len() int {
	return b.seq.Len()
}

func (b *arrayBridge) Get(idx int) goja.Value {
	v, err := b.seq.GetIndex(idx)
	if err != nil {
		if errors.Is(err, adapt.ErrIndexOutOfRange) {
			return nil
		}
		panic(b.sess.rt.NewGoError(err))
	}
	return b.sess.toGuest(v)
}

func (b *arrayBridge) Set(idx int, val goja.Value) bool {
	return b.seq.SetIndex(idx, b.sess.toHost(val)) == nil
}

// SetLen only accepts the current length; growth happens through Set at
// index Len for backings that can append.
func (b *arrayBridge) SetLen(n int) bool {
	return n == b.seq.Len()
}

// toHost converts a runtime value to a guest-neutral Go value. Bridged
// objects give back what they bridge; other objects are copied into maps
// and slices, and functions become delegate.Callable.
func (sess *session) toHost(v goja.Value) any {
	return sess.export(v, map[*goja.Object]any{})
}

func (sess *session) export(v goja.Value, seen map[*goja.Object]any) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}
	if prev, ok := seen[obj]; ok {
		return prev
	}
	exported := obj.Export()
	switch b := exported.(type) {
	case *objectBridge:
		return b.target
	case *arrayBridge:
		return b.target
	}
	if fn, ok := goja.AssertFunction(obj); ok {
		return sess.callable(fn)
	}
	switch obj.ClassName() {
	case "Date":
		if t, ok := exported.(time.Time); ok {
			return t
		}
	case "Array":
		n := int(obj.Get("length").ToInteger())
		out := make([]any, n)
		seen[obj] = out
		for i := range out {
			out[i] = sess.export(obj.Get(strconv.Itoa(i)), seen)
		}
		return out
	}
	if _, plain := exported.(map[string]any); !plain {
		return exported
	}
	out := map[string]any{}
	seen[obj] = out
	for _, key := range obj.Keys() {
		out[key] = sess.export(obj.Get(key), seen)
	}
	return out
}

// callable lets the host invoke a script function. Invocations from outside
// a running execution take the session lock.
func (sess *session) callable(fn goja.Callable) delegate.CallableFunc {
	return func(ctx context.Context, this any, args ...any) (any, error) {
		_, leave, _ := sess.enter(ctx)
		defer leave()
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = sess.toGuest(a)
		}
		var jsThis goja.Value = goja.Undefined()
		if this != nil {
			jsThis = sess.toGuest(this)
		}
		result, err := fn(jsThis, jsArgs...)
		if err != nil {
			return nil, err
		}
		return sess.toHost(result), nil
	}
}
