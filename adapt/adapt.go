// Package adapt exposes host collections to scripts without copying them.
//
// Wrap builds a Proxy around a host map, slice, array or KeyValue value.
// Every access runs through a fixed chain of stages, outermost first:
//
//  1. identity: answers Backing so the original object can always be recovered
//  2. length: synthesizes a "length" property from the backing collection
//  3. sequence view: index access on key-value backings, by sorted key
//  4. keyed view: key access on sequence backings, by decimal index
//  5. conversion: values are converted lazily as they cross the proxy
//  6. backing: reflective access to the host value itself
//
// The order is fixed. Each stage relies on the ones after it, e.g. the
// length stage asks the rest of the chain whether the backing has a native
// "length" key.
package adapt

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrIndexOutOfRange is returned for index access outside [0, Len).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrNoSuchKey is returned for key access to an absent key.
	ErrNoSuchKey = errors.New("no such key")

	// ErrUnsupported is returned when the backing value cannot perform an
	// operation, or cannot be adapted at all.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrAlreadyAdapted is returned by Wrap for adapted values that are not
	// proxies.
	ErrAlreadyAdapted = errors.New("value is already adapted")
)

// Object is the keyed capability surface scripts see.
type Object interface {
	Get(key string) (any, error)
	Set(key string, value any) error
	Has(key string) bool
	Delete(key string) error
	Keys() []string
}

// Sequence is the indexed capability surface scripts see.
type Sequence interface {
	Len() int
	GetIndex(i int) (any, error)
	SetIndex(i int, value any) error
}

// Adapted is implemented by values that carry the identity marker. Backing
// returns the host object underneath.
type Adapted interface {
	Backing() any
}

// KeyValue may be implemented by host types that are not Go maps but should
// be exposed as keyed objects.
type KeyValue interface {
	Lookup(key string) (any, bool)
	Store(key string, value any) error
	Remove(key string) error
	Keys() []string
}

// ValueConverter converts values crossing the proxy. A nil expected type
// means any type is acceptable.
type ValueConverter interface {
	ConvertForGuest(value any, expected reflect.Type) (any, error)
	ConvertForHost(value any, expected reflect.Type) (any, error)
}

// Capabilities tune the stages of a proxy.
type Capabilities struct {
	// ForceLength makes the synthesized length win over a native "length"
	// key of a key-value backing.
	ForceLength bool

	// KeepStrings passes string values through without conversion.
	KeepStrings bool
}

// Shape is the native shape of a backing value.
type Shape int

const (
	// ShapeMap is a key-value backing.
	ShapeMap Shape = iota
	// ShapeList is a sequence backing.
	ShapeList
)

func (s Shape) String() string {
	if s == ShapeList {
		return "list"
	}
	return "map"
}

// Proxy is a guest-visible view over a host collection. It implements
// Object, Sequence and Adapted. A Proxy does no locking of its own; wrap it
// in a delegate to share it between concurrent scripts.
type Proxy struct {
	target   any
	shape    Shape
	elemType reflect.Type
	caps     Capabilities
	chain    []Interceptor
}

// CanWrap reports whether v is a value Adapt accepts.
func CanWrap(v any) bool {
	if _, ok := v.(Adapted); ok {
		return true
	}
	_, _, err := inspect(v)
	return err == nil
}

// Adapt returns host as an adapted value. Values that already carry the
// identity marker, proxies and delegates alike, are returned unchanged;
// anything else is wrapped in a proxy.
func Adapt(host any, caps Capabilities, conv ValueConverter) (Adapted, error) {
	if a, ok := host.(Adapted); ok {
		return a, nil
	}
	p, err := Wrap(host, caps, conv)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Wrap returns a proxy over host. Wrapping a proxy returns it unchanged.
// Other adapted values cannot be expressed as a proxy and fail with
// ErrAlreadyAdapted; use Adapt to accept them as they are.
func Wrap(host any, caps Capabilities, conv ValueConverter) (*Proxy, error) {
	if p, ok := host.(*Proxy); ok {
		return p, nil
	}
	if a, ok := host.(Adapted); ok {
		return nil, fmt.Errorf("wrap %T over %T: %w", host, a.Backing(), ErrAlreadyAdapted)
	}
	shape, elemType, err := inspect(host)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		target:   host,
		shape:    shape,
		elemType: elemType,
		caps:     caps,
		chain:    Stages(caps, conv),
	}, nil
}

// Unwrap returns the backing object of an adapted value, or v itself.
func Unwrap(v any) any {
	if a, ok := v.(Adapted); ok {
		return a.Backing()
	}
	return v
}

// UnwrapAll replaces adapted values in args with their backing objects, in
// place, and returns args. It is used to correct arguments before they are
// passed to host functions.
func UnwrapAll(args []any) []any {
	for i, arg := range args {
		args[i] = Unwrap(arg)
	}
	return args
}

func inspect(v any) (Shape, reflect.Type, error) {
	if _, ok := v.(KeyValue); ok {
		return ShapeMap, nil, nil
	}
	if v == nil {
		return 0, nil, fmt.Errorf("wrap nil: %w", ErrUnsupported)
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return 0, nil, fmt.Errorf("wrap %s: map keys must be strings: %w", t, ErrUnsupported)
		}
		return ShapeMap, t.Elem(), nil
	case reflect.Slice, reflect.Array:
		return ShapeList, t.Elem(), nil
	case reflect.Ptr:
		if reflect.ValueOf(v).IsNil() {
			return 0, nil, fmt.Errorf("wrap nil %s: %w", t, ErrUnsupported)
		}
		switch t.Elem().Kind() {
		case reflect.Slice, reflect.Array:
			return ShapeList, t.Elem().Elem(), nil
		}
	}
	return 0, nil, fmt.Errorf("wrap %s: %w", t, ErrUnsupported)
}

// Shape returns the native shape of the backing value.
func (p *Proxy) Shape() Shape {
	return p.shape
}

// Capabilities returns the capabilities the proxy was built with.
func (p *Proxy) Capabilities() Capabilities {
	return p.caps
}

// ElemType returns the element type of the backing collection, or nil if
// it accepts any value.
func (p *Proxy) ElemType() reflect.Type {
	return p.elemType
}

func (p *Proxy) invoke(inv *Invocation) (any, error) {
	inv.proxy = p
	inv.Target = p.target
	return inv.Proceed()
}

// Backing implements Adapted.
func (p *Proxy) Backing() any {
	v, _ := p.invoke(&Invocation{Op: OpBacking})
	return v
}

func (p *Proxy) Get(key string) (any, error) {
	return p.invoke(&Invocation{Op: OpGet, Key: key})
}

func (p *Proxy) Set(key string, value any) error {
	_, err := p.invoke(&Invocation{Op: OpSet, Key: key, Value: value})
	return err
}

func (p *Proxy) Has(key string) bool {
	v, err := p.invoke(&Invocation{Op: OpHas, Key: key})
	b, _ := v.(bool)
	return err == nil && b
}

func (p *Proxy) Delete(key string) error {
	_, err := p.invoke(&Invocation{Op: OpDelete, Key: key})
	return err
}

func (p *Proxy) Keys() []string {
	v, _ := p.invoke(&Invocation{Op: OpKeys})
	keys, _ := v.([]string)
	return keys
}

func (p *Proxy) Len() int {
	v, _ := p.invoke(&Invocation{Op: OpLen})
	n, _ := v.(int)
	return n
}

func (p *Proxy) GetIndex(i int) (any, error) {
	return p.invoke(&Invocation{Op: OpGetIndex, Index: i})
}

func (p *Proxy) SetIndex(i int, value any) error {
	_, err := p.invoke(&Invocation{Op: OpSetIndex, Index: i, Value: value})
	return err
}

func (p *Proxy) String() string {
	return fmt.Sprintf("adapt.Proxy(%s %T)", p.shape, p.target)
}
