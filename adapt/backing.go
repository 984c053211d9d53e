package adapt

import (
	"fmt"
	"reflect"
	"sort"
)

// backingStage is the innermost stage. It performs the operation on the host
// value through reflection, or through KeyValue.
type backingStage struct{}

func (backingStage) Name() string { return "backing" }

func (backingStage) Intercept(inv *Invocation) (any, error) {
	if kv, ok := inv.Target.(KeyValue); ok {
		return keyValueOp(kv, inv)
	}
	rv := reflect.ValueOf(inv.Target)
	switch rv.Kind() {
	case reflect.Map:
		return mapOp(rv, inv)
	case reflect.Ptr:
		return sequenceOp(rv.Elem(), rv, inv)
	default:
		return sequenceOp(rv, reflect.Value{}, inv)
	}
}

func keyValueOp(kv KeyValue, inv *Invocation) (any, error) {
	switch inv.Op {
	case OpGet:
		v, ok := kv.Lookup(inv.Key)
		if !ok {
			return nil, fmt.Errorf("key %q: %w", inv.Key, ErrNoSuchKey)
		}
		return v, nil
	case OpSet:
		return nil, kv.Store(inv.Key, Unwrap(inv.Value))
	case OpHas:
		_, ok := kv.Lookup(inv.Key)
		return ok, nil
	case OpDelete:
		return nil, kv.Remove(inv.Key)
	case OpKeys:
		return kv.Keys(), nil
	case OpLen:
		return len(kv.Keys()), nil
	}
	return nil, fmt.Errorf("%s on %T: %w", inv.Op, kv, ErrUnsupported)
}

func mapOp(rv reflect.Value, inv *Invocation) (any, error) {
	switch inv.Op {
	case OpGet:
		v := rv.MapIndex(reflect.ValueOf(inv.Key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, fmt.Errorf("key %q: %w", inv.Key, ErrNoSuchKey)
		}
		return v.Interface(), nil
	case OpHas:
		return rv.MapIndex(reflect.ValueOf(inv.Key).Convert(rv.Type().Key())).IsValid(), nil
	case OpSet:
		if rv.IsNil() {
			return nil, fmt.Errorf("set %q on a nil map: %w", inv.Key, ErrUnsupported)
		}
		v, err := assignable(inv.Value, rv.Type().Elem())
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", inv.Key, err)
		}
		rv.SetMapIndex(reflect.ValueOf(inv.Key).Convert(rv.Type().Key()), v)
		return nil, nil
	case OpDelete:
		if !rv.IsNil() {
			rv.SetMapIndex(reflect.ValueOf(inv.Key).Convert(rv.Type().Key()), reflect.Value{})
		}
		return nil, nil
	case OpKeys:
		keys := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			keys = append(keys, iter.Key().String())
		}
		sort.Strings(keys)
		return keys, nil
	case OpLen:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("%s on %s: %w", inv.Op, rv.Type(), ErrUnsupported)
}

// sequenceOp handles slices and arrays. ptr is set when the backing was
// passed by pointer, which allows appending to slices and writing arrays.
func sequenceOp(rv, ptr reflect.Value, inv *Invocation) (any, error) {
	n := rv.Len()
	switch inv.Op {
	case OpLen:
		return n, nil
	case OpGetIndex:
		if inv.Index < 0 || inv.Index >= n {
			return nil, fmt.Errorf("index %d (len %d): %w", inv.Index, n, ErrIndexOutOfRange)
		}
		return rv.Index(inv.Index).Interface(), nil
	case OpSetIndex:
		v, err := assignable(inv.Value, rv.Type().Elem())
		if err != nil {
			return nil, fmt.Errorf("set index %d: %w", inv.Index, err)
		}
		if inv.Index == n && ptr.IsValid() && rv.Kind() == reflect.Slice {
			rv.Set(reflect.Append(rv, v))
			return nil, nil
		}
		if inv.Index < 0 || inv.Index >= n {
			return nil, fmt.Errorf("index %d (len %d): %w", inv.Index, n, ErrIndexOutOfRange)
		}
		elem := rv.Index(inv.Index)
		if !elem.CanSet() {
			return nil, fmt.Errorf("set index %d on %s: %w", inv.Index, rv.Type(), ErrUnsupported)
		}
		elem.Set(v)
		return nil, nil
	}
	return nil, fmt.Errorf("%s on %s: %w", inv.Op, rv.Type(), ErrUnsupported)
}

func assignable(value any, t reflect.Type) (reflect.Value, error) {
	value = Unwrap(value)
	if value == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(t.Kind()) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot assign %s to %s: %w", v.Type(), t, ErrUnsupported)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
