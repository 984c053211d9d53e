// Package delegate guards guest-visible objects with reader/writer locks.
//
// A Delegate wraps one object, usually an adapt.Proxy or a guest function,
// and serializes access to it: reads share the lock, writes and invocations
// take it exclusively. A delegate may be linked to an owner, the object it
// was read from. Invoking such a delegate also takes the owner's write lock,
// so a method call is atomic with respect to direct writes on its owner.
// Locks are always taken own first, owner second.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/deepnoodle-ai/scriptenv/adapt"
)

var (
	// ErrLockUpgrade is returned when a call tree holding a delegate's read
	// lock attempts to write to it.
	ErrLockUpgrade = errors.New("cannot upgrade a read lock to a write lock")

	// ErrNotCallable is returned when invoking a delegate whose target is not
	// a function.
	ErrNotCallable = errors.New("value is not callable")
)

// Callable is a function that can be invoked from the host.
type Callable interface {
	Call(ctx context.Context, this any, args ...any) (any, error)
}

// CallableFunc adapts a function to the Callable interface.
type CallableFunc func(ctx context.Context, this any, args ...any) (any, error)

func (f CallableFunc) Call(ctx context.Context, this any, args ...any) (any, error) {
	return f(ctx, this, args...)
}

// Constructor is a function that can be invoked with constructor semantics.
type Constructor interface {
	Construct(ctx context.Context, args ...any) (any, error)
}

// Prototyped is implemented by objects that expose their prototype.
type Prototyped interface {
	Prototype() any
}

// Parented is implemented by objects that expose their parent scope.
type Parented interface {
	Parent() any
}

// Delegate is a locked view of one guest-visible object.
type Delegate struct {
	state  sync.RWMutex
	owner  *Delegate
	target any

	mu       sync.Mutex
	children map[any]*Delegate
}

// New returns a delegate for target with no owner. Delegates are never
// nested: passing a *Delegate returns it.
func New(target any) *Delegate {
	if d, ok := target.(*Delegate); ok {
		return d
	}
	return &Delegate{target: target, children: map[any]*Delegate{}}
}

// Owner returns the owning delegate, or nil.
func (d *Delegate) Owner() *Delegate {
	return d.owner
}

// Target returns the wrapped object.
func (d *Delegate) Target() any {
	return d.target
}

// Backing returns the host object underneath the target, so delegates carry
// the same identity marker as the proxies they wrap.
func (d *Delegate) Backing() any {
	return adapt.Unwrap(d.target)
}

// lock acquires the delegate's lock for the call tree of ctx. The returned
// context must be used for nested operations.
func (d *Delegate) lock(ctx context.Context, mode lockMode) (context.Context, func(), error) {
	if m, ok := held(ctx, d); ok {
		if mode == writeMode && m == readMode {
			return ctx, nil, ErrLockUpgrade
		}
		return ctx, func() {}, nil
	}
	if mode == writeMode {
		d.state.Lock()
	} else {
		d.state.RLock()
	}
	ctx, frame := pushFrame(ctx, d, mode)
	return ctx, func() {
		frame.released.Store(true)
		if mode == writeMode {
			d.state.Unlock()
		} else {
			d.state.RUnlock()
		}
	}, nil
}

// Read runs fn while holding the read lock. Operations fn performs with the
// context it is given do not re-acquire the lock.
func (d *Delegate) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, release, err := d.lock(ctx, readMode)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Write runs fn while holding the write lock, making compound updates atomic.
func (d *Delegate) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, release, err := d.lock(ctx, writeMode)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// child returns the delegate for a value read through d. Objects and
// functions get a delegate owned by d. The delegate is cached by the
// identity of the backing object, so repeated reads of the same value share
// one lock even though each read yields a fresh proxy. Other values are
// returned as is.
func (d *Delegate) child(v any) any {
	switch v.(type) {
	case *Delegate:
		return v
	case adapt.Object, adapt.Sequence, Callable, Constructor:
	default:
		return v
	}
	key, ok := identityOf(v)
	if !ok {
		return &Delegate{target: v, owner: d, children: map[any]*Delegate{}}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.children[key]; ok {
		return c
	}
	c := &Delegate{target: v, owner: d, children: map[any]*Delegate{}}
	d.children[key] = c
	return c
}

type identity struct {
	t reflect.Type
	p uintptr
}

// identityOf returns a map key for the object underneath v. Functions have
// no usable identity: closures of one literal share a code pointer.
func identityOf(v any) (any, bool) {
	rv := reflect.ValueOf(adapt.Unwrap(v))
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Chan, reflect.UnsafePointer:
		return identity{t: rv.Type(), p: rv.Pointer()}, true
	case reflect.Func, reflect.Invalid:
		return nil, false
	}
	if rv.Type().Comparable() {
		return v, true
	}
	return nil, false
}

func (d *Delegate) object() (adapt.Object, error) {
	if o, ok := d.target.(adapt.Object); ok {
		return o, nil
	}
	return nil, fmt.Errorf("%T is not an object: %w", d.target, adapt.ErrUnsupported)
}

func (d *Delegate) sequence() (adapt.Sequence, error) {
	if s, ok := d.target.(adapt.Sequence); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%T is not a sequence: %w", d.target, adapt.ErrUnsupported)
}

func unwrapDelegate(v any) any {
	if d, ok := v.(*Delegate); ok {
		return d.target
	}
	return v
}

func (d *Delegate) Get(ctx context.Context, key string) (any, error) {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return nil, err
	}
	defer release()
	o, err := d.object()
	if err != nil {
		return nil, err
	}
	v, err := o.Get(key)
	if err != nil {
		return nil, err
	}
	return d.child(v), nil
}

func (d *Delegate) Has(ctx context.Context, key string) bool {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return false
	}
	defer release()
	o, err := d.object()
	return err == nil && o.Has(key)
}

func (d *Delegate) Keys(ctx context.Context) []string {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return nil
	}
	defer release()
	if o, err := d.object(); err == nil {
		return o.Keys()
	}
	return nil
}

func (d *Delegate) Len(ctx context.Context) int {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return 0
	}
	defer release()
	if s, err := d.sequence(); err == nil {
		return s.Len()
	}
	return 0
}

func (d *Delegate) GetIndex(ctx context.Context, i int) (any, error) {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return nil, err
	}
	defer release()
	s, err := d.sequence()
	if err != nil {
		return nil, err
	}
	v, err := s.GetIndex(i)
	if err != nil {
		return nil, err
	}
	return d.child(v), nil
}

// Prototype returns the prototype of the target, if it exposes one.
func (d *Delegate) Prototype(ctx context.Context) (any, bool) {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return nil, false
	}
	defer release()
	if p, ok := d.target.(Prototyped); ok {
		return d.child(p.Prototype()), true
	}
	return nil, false
}

// Parent returns the parent scope of the target, if it exposes one.
func (d *Delegate) Parent(ctx context.Context) (any, bool) {
	_, release, err := d.lock(ctx, readMode)
	if err != nil {
		return nil, false
	}
	defer release()
	if p, ok := d.target.(Parented); ok {
		return d.child(p.Parent()), true
	}
	return nil, false
}

func (d *Delegate) Set(ctx context.Context, key string, value any) error {
	_, release, err := d.lock(ctx, writeMode)
	if err != nil {
		return err
	}
	defer release()
	o, err := d.object()
	if err != nil {
		return err
	}
	return o.Set(key, unwrapDelegate(value))
}

func (d *Delegate) Delete(ctx context.Context, key string) error {
	_, release, err := d.lock(ctx, writeMode)
	if err != nil {
		return err
	}
	defer release()
	o, err := d.object()
	if err != nil {
		return err
	}
	return o.Delete(key)
}

func (d *Delegate) SetIndex(ctx context.Context, i int, value any) error {
	_, release, err := d.lock(ctx, writeMode)
	if err != nil {
		return err
	}
	defer release()
	s, err := d.sequence()
	if err != nil {
		return err
	}
	return s.SetIndex(i, unwrapDelegate(value))
}

// invoke takes the delegate's write lock, then its owner's, and runs fn
// with a context that records both.
func (d *Delegate) invoke(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, release, err := d.lock(ctx, writeMode)
	if err != nil {
		return nil, err
	}
	defer release()
	if d.owner != nil {
		var releaseOwner func()
		ctx, releaseOwner, err = d.owner.lock(ctx, writeMode)
		if err != nil {
			return nil, err
		}
		defer releaseOwner()
	}
	return fn(ctx)
}

// Call invokes the target with the given receiver. A nil this means the
// owner's target.
func (d *Delegate) Call(ctx context.Context, this any, args ...any) (any, error) {
	c, ok := d.target.(Callable)
	if !ok {
		return nil, fmt.Errorf("call %T: %w", d.target, ErrNotCallable)
	}
	if this == nil && d.owner != nil {
		this = d.owner.target
	}
	return d.invoke(ctx, func(ctx context.Context) (any, error) {
		return c.Call(ctx, unwrapDelegate(this), unwrapArgs(args)...)
	})
}

// Construct invokes the target as a constructor.
func (d *Delegate) Construct(ctx context.Context, args ...any) (any, error) {
	c, ok := d.target.(Constructor)
	if !ok {
		return nil, fmt.Errorf("construct %T: %w", d.target, ErrNotCallable)
	}
	return d.invoke(ctx, func(ctx context.Context) (any, error) {
		return c.Construct(ctx, unwrapArgs(args)...)
	})
}

func unwrapArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = unwrapDelegate(a)
	}
	return out
}

// In binds the delegate to a context, returning a view that implements
// adapt.Object and adapt.Sequence.
func (d *Delegate) In(ctx context.Context) *View {
	return &View{d: d, ctx: ctx}
}

// View is a delegate bound to the context of one call tree.
type View struct {
	d   *Delegate
	ctx context.Context
}

func (v *View) Delegate() *Delegate                     { return v.d }
func (v *View) Backing() any                            { return v.d.Backing() }
func (v *View) Get(key string) (any, error)             { return v.d.Get(v.ctx, key) }
func (v *View) Set(key string, value any) error         { return v.d.Set(v.ctx, key, value) }
func (v *View) Has(key string) bool                     { return v.d.Has(v.ctx, key) }
func (v *View) Delete(key string) error                 { return v.d.Delete(v.ctx, key) }
func (v *View) Keys() []string                          { return v.d.Keys(v.ctx) }
func (v *View) Len() int                                { return v.d.Len(v.ctx) }
func (v *View) GetIndex(i int) (any, error)             { return v.d.GetIndex(v.ctx, i) }
func (v *View) SetIndex(i int, value any) error         { return v.d.SetIndex(v.ctx, i, value) }
func (v *View) Call(this any, args ...any) (any, error) { return v.d.Call(v.ctx, this, args...) }
