package convert

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/deepnoodle-ai/scriptenv/adapt"
)

var (
	errorInterface = reflect.TypeOf((*error)(nil)).Elem()
	adaptedType    = reflect.TypeOf((*adapt.Adapted)(nil)).Elem()
	keyValueType   = reflect.TypeOf((*adapt.KeyValue)(nil)).Elem()
	timeType       = reflect.TypeOf(time.Time{})
	bytesType      = reflect.TypeOf([]byte(nil))
)

// NewDefaultRegistry returns a registry with the default converters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterDefaults(r, adapt.Capabilities{})
	return r
}

// RegisterDefaults registers the default converters, in order:
//
//   - adapted values pass through to scripts and unwrap for the host (Highest)
//   - scalars and times pass through unchanged (Medium)
//   - host maps and slices become adapt proxies for scripts (Low)
//   - script values are coerced by kind to the expected host type (Medium)
//   - anything else passes through if the receiver accepts it (Low)
//
// The catch-all is registered last so it loses every tie.
func RegisterDefaults(r *Registry, caps adapt.Capabilities) {
	r.Register(nil, adaptedConverter{})
	r.Register(nil, scalarConverter{})
	r.Register(nil, facadeConverter{caps: caps})
	r.Register(nil, coercionConverter{})
	r.Register(nil, passthroughConverter{})
}

func accepts(valueType, expected reflect.Type) bool {
	return expected == nil || valueType.AssignableTo(expected)
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

func isScalar(t reflect.Type) bool {
	if t == timeType || t == bytesType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String:
		return true
	}
	return isNumeric(t.Kind())
}

// adaptedConverter keeps adapted values from being wrapped twice and recovers
// their backing objects on the way back to the host.
type adaptedConverter struct{}

func (adaptedConverter) Confidence(dir Direction, valueType, expected reflect.Type) Confidence {
	if valueType.Implements(adaptedType) {
		return Highest
	}
	return Lowest
}

func (adaptedConverter) CanConvert(dir Direction, value any, expected reflect.Type) bool {
	if dir == ToGuest || expected == nil {
		return true
	}
	if reflect.TypeOf(value).AssignableTo(expected) {
		return true
	}
	backing := adapt.Unwrap(value)
	return backing != nil && reflect.TypeOf(backing).AssignableTo(expected)
}

func (adaptedConverter) Convert(dir Direction, value any, expected reflect.Type, _ Delegate) (any, error) {
	if dir == ToGuest {
		return value, nil
	}
	if expected != nil && reflect.TypeOf(value).AssignableTo(expected) && expected.Kind() == reflect.Interface && expected.NumMethod() > 0 {
		return value, nil
	}
	return adapt.Unwrap(value), nil
}

type scalarConverter struct{}

func (scalarConverter) Confidence(dir Direction, valueType, expected reflect.Type) Confidence {
	if isScalar(valueType) && accepts(valueType, expected) {
		return Medium
	}
	return Lowest
}

func (scalarConverter) CanConvert(Direction, any, reflect.Type) bool {
	return true
}

func (scalarConverter) Convert(_ Direction, value any, _ reflect.Type, _ Delegate) (any, error) {
	return value, nil
}

// facadeConverter exposes host collections to scripts through an adapt
// proxy instead of copying them.
type facadeConverter struct {
	caps adapt.Capabilities
}

func (facadeConverter) Confidence(dir Direction, valueType, expected reflect.Type) Confidence {
	if dir != ToGuest || valueType == bytesType {
		return Lowest
	}
	if valueType.Implements(keyValueType) {
		return Low
	}
	switch valueType.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return Low
	case reflect.Ptr:
		switch valueType.Elem().Kind() {
		case reflect.Slice, reflect.Array:
			return Low
		}
	}
	return Lowest
}

func (facadeConverter) CanConvert(_ Direction, value any, _ reflect.Type) bool {
	return adapt.CanWrap(value)
}

func (c facadeConverter) Convert(_ Direction, value any, _ reflect.Type, delegate Delegate) (any, error) {
	return adapt.Adapt(value, c.caps, delegate)
}

type passthroughConverter struct{}

func (passthroughConverter) Confidence(Direction, reflect.Type, reflect.Type) Confidence {
	return Low
}

func (passthroughConverter) CanConvert(_ Direction, value any, expected reflect.Type) bool {
	return accepts(reflect.TypeOf(value), expected)
}

func (passthroughConverter) Convert(_ Direction, value any, _ reflect.Type, _ Delegate) (any, error) {
	return value, nil
}

// coercionConverter converts script values to the host type a receiver
// expects, by kind.
type coercionConverter struct{}

func (coercionConverter) Confidence(dir Direction, valueType, expected reflect.Type) Confidence {
	if dir != ToHost || expected == nil || valueType.AssignableTo(expected) {
		return Lowest
	}
	return Medium
}

func (coercionConverter) CanConvert(_ Direction, value any, expected reflect.Type) bool {
	value = adapt.Unwrap(value)
	if value == nil {
		return true
	}
	return canCoerce(reflect.TypeOf(value), expected)
}

func (coercionConverter) Convert(_ Direction, value any, expected reflect.Type, delegate Delegate) (any, error) {
	return coerce(value, expected, delegate)
}

func canCoerce(from, to reflect.Type) bool {
	if from.AssignableTo(to) {
		return true
	}
	if to == timeType {
		return from.Kind() == reflect.String || isNumeric(from.Kind())
	}
	switch to.Kind() {
	case reflect.Bool:
		return from.Kind() == reflect.Bool
	case reflect.String:
		return from.Kind() == reflect.String
	case reflect.Slice:
		if to.Elem().Kind() == reflect.Uint8 && from.Kind() == reflect.String {
			return true
		}
		return from.Kind() == reflect.Slice || from.Kind() == reflect.Array
	case reflect.Array:
		return from.Kind() == reflect.Slice || from.Kind() == reflect.Array
	case reflect.Map:
		return from.Kind() == reflect.Map && from.Key().Kind() == reflect.String && to.Key().Kind() == reflect.String
	case reflect.Ptr:
		return canCoerce(from, to.Elem())
	case reflect.Interface:
		return from.Implements(to) || (to.Implements(errorInterface) && from.Kind() == reflect.String)
	}
	return isNumeric(to.Kind()) && isNumeric(from.Kind())
}

func coerce(value any, target reflect.Type, d Delegate) (any, error) {
	value = adapt.Unwrap(value)
	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target) {
		return value, nil
	}
	if target == timeType {
		return toTime(rv)
	}
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if !isNumeric(rv.Kind()) {
			return nil, fmt.Errorf("type error: expected number, got %s", rv.Type())
		}
		return rv.Convert(target).Interface(), nil
	case reflect.Bool:
		if rv.Kind() != reflect.Bool {
			return nil, fmt.Errorf("type error: expected bool, got %s", rv.Type())
		}
		return rv.Convert(target).Interface(), nil
	case reflect.String:
		if rv.Kind() != reflect.String {
			return nil, fmt.Errorf("type error: expected string, got %s", rv.Type())
		}
		return rv.Convert(target).Interface(), nil
	case reflect.Slice:
		return toSlice(rv, target, d)
	case reflect.Array:
		return toArray(rv, target, d)
	case reflect.Map:
		return toMap(rv, target, d)
	case reflect.Ptr:
		elem, err := coerce(value, target.Elem(), d)
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(elem))
		return ptr.Interface(), nil
	case reflect.Interface:
		if target.Implements(errorInterface) && rv.Kind() == reflect.String {
			return errors.New(rv.String()), nil
		}
	}
	return nil, fmt.Errorf("unsupported target type: %s (kind: %s)", target, target.Kind())
}

// element converts a nested value through the registry so registered
// converters see it too.
func element(v any, target reflect.Type, d Delegate) (reflect.Value, error) {
	converted, err := d.ConvertForHost(v, target)
	if err != nil {
		return reflect.Value{}, err
	}
	if converted == nil {
		return reflect.Zero(target), nil
	}
	cv := reflect.ValueOf(converted)
	if !cv.Type().AssignableTo(target) {
		return reflect.Value{}, fmt.Errorf("type error: expected %s, got %s", target, cv.Type())
	}
	return cv, nil
}

func toSlice(rv reflect.Value, target reflect.Type, d Delegate) (any, error) {
	if target.Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.String {
		return reflect.ValueOf([]byte(rv.String())).Convert(target).Interface(), nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("type error: expected a list, got %s", rv.Type())
	}
	count := rv.Len()
	slice := reflect.MakeSlice(target, 0, count)
	for i := 0; i < count; i++ {
		elem, err := element(rv.Index(i).Interface(), target.Elem(), d)
		if err != nil {
			return nil, fmt.Errorf("failed to convert slice element %d: %w", i, err)
		}
		slice = reflect.Append(slice, elem)
	}
	return slice.Interface(), nil
}

func toArray(rv reflect.Value, target reflect.Type, d Delegate) (any, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("type error: expected a list, got %s", rv.Type())
	}
	array := reflect.New(target).Elem()
	for i := 0; i < rv.Len() && i < target.Len(); i++ {
		elem, err := element(rv.Index(i).Interface(), target.Elem(), d)
		if err != nil {
			return nil, fmt.Errorf("failed to convert array element %d: %w", i, err)
		}
		array.Index(i).Set(elem)
	}
	return array.Interface(), nil
}

func toMap(rv reflect.Value, target reflect.Type, d Delegate) (any, error) {
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("type error: expected a map, got %s", rv.Type())
	}
	if target.Key().Kind() != reflect.String {
		return nil, fmt.Errorf("unsupported map key type: %s", target.Key())
	}
	result := reflect.MakeMapWithSize(target, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		elem, err := element(iter.Value().Interface(), target.Elem(), d)
		if err != nil {
			return nil, fmt.Errorf("failed to convert map value for key %q: %w", key, err)
		}
		result.SetMapIndex(reflect.ValueOf(key).Convert(target.Key()), elem)
	}
	return result.Interface(), nil
}

// toTime accepts RFC 3339 strings and numbers of milliseconds since the
// epoch, the representation scripts use for dates.
func toTime(rv reflect.Value) (any, error) {
	switch {
	case rv.Kind() == reflect.String:
		return time.Parse(time.RFC3339, rv.String())
	case isNumeric(rv.Kind()):
		ms := rv.Convert(reflect.TypeOf(int64(0))).Int()
		return time.UnixMilli(ms).UTC(), nil
	}
	return nil, fmt.Errorf("type error: expected time, got %s", rv.Type())
}
