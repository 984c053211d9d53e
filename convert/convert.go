// Package convert moves values across the host/guest boundary.
//
// A Registry holds converters keyed by the host type they handle. To convert
// a value, every converter registered for its type (plus every converter
// registered for all types) reports a Confidence. Candidates above Lowest are
// tried best first, with ties broken by registration order, and the first
// whose CanConvert accepts the actual value performs the conversion.
package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrNoApplicableConverter is returned when no registered converter accepts
// a value.
var ErrNoApplicableConverter = errors.New("no applicable converter")

// Confidence is how well a converter handles a pair of types.
type Confidence int

const (
	// Lowest means the converter does not apply.
	Lowest Confidence = iota
	Low
	Medium
	// Highest means an exact, unambiguous match.
	Highest
)

func (c Confidence) String() string {
	switch c {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case Highest:
		return "highest"
	default:
		return fmt.Sprintf("confidence(%d)", int(c))
	}
}

// Direction is the direction of a conversion.
type Direction int

const (
	// ToGuest converts host values for use by scripts.
	ToGuest Direction = iota
	// ToHost converts script values for use by the host.
	ToHost
)

func (d Direction) String() string {
	if d == ToHost {
		return "host"
	}
	return "guest"
}

// Converter converts values of one or more types.
//
// Confidence is a coarse type-level score; valueType is the dynamic type of
// the value and expected the type the receiver wants, nil meaning any.
// CanConvert is the precise value-level gate. Convert may use delegate for
// nested values.
type Converter interface {
	Confidence(dir Direction, valueType, expected reflect.Type) Confidence
	CanConvert(dir Direction, value any, expected reflect.Type) bool
	Convert(dir Direction, value any, expected reflect.Type, delegate Delegate) (any, error)
}

// Delegate performs nested conversions on behalf of a converter.
type Delegate interface {
	ConvertForGuest(value any, expected reflect.Type) (any, error)
	ConvertForHost(value any, expected reflect.Type) (any, error)
}

type registration struct {
	converter Converter
	seq       int
}

// Registry dispatches conversions to registered converters. It is safe for
// concurrent use; registration is expected to happen at startup.
type Registry struct {
	mu       sync.RWMutex
	byType   map[reflect.Type][]registration
	anyType  []registration
	sequence int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: map[reflect.Type][]registration{}}
}

// Register adds a converter for values of type t. A nil t registers the
// converter for values of every type.
func (r *Registry) Register(t reflect.Type, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := registration{converter: c, seq: r.sequence}
	r.sequence++
	if t == nil {
		r.anyType = append(r.anyType, reg)
		return
	}
	r.byType[t] = append(r.byType[t], reg)
}

type candidate struct {
	registration
	confidence Confidence
}

// Candidates returns the converters applicable to a value of type
// valueType, best first.
func (r *Registry) Candidates(dir Direction, valueType, expected reflect.Type) []Converter {
	ranked := r.rank(dir, valueType, expected)
	result := make([]Converter, 0, len(ranked))
	for _, c := range ranked {
		result = append(result, c.converter)
	}
	return result
}

func (r *Registry) rank(dir Direction, valueType, expected reflect.Type) []candidate {
	r.mu.RLock()
	regs := make([]registration, 0, len(r.byType[valueType])+len(r.anyType))
	regs = append(regs, r.byType[valueType]...)
	regs = append(regs, r.anyType...)
	r.mu.RUnlock()

	// Merge both lists back into registration order.
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	var ranked []candidate
	for _, reg := range regs {
		conf := reg.converter.Confidence(dir, valueType, expected)
		if conf > Lowest {
			ranked = append(ranked, candidate{registration: reg, confidence: conf})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].confidence > ranked[j].confidence
	})
	return ranked
}

// Convert converts value in the given direction. A nil value converts to nil
// without consulting any converter.
func (r *Registry) Convert(dir Direction, value any, expected reflect.Type) (any, error) {
	if value == nil {
		return nil, nil
	}
	valueType := reflect.TypeOf(value)
	for _, c := range r.rank(dir, valueType, expected) {
		if !c.converter.CanConvert(dir, value, expected) {
			continue
		}
		return c.converter.Convert(dir, value, expected, r)
	}
	if expected != nil {
		return nil, fmt.Errorf("convert %s for %s as %s: %w", valueType, dir, expected, ErrNoApplicableConverter)
	}
	return nil, fmt.Errorf("convert %s for %s: %w", valueType, dir, ErrNoApplicableConverter)
}

// ConvertForGuest converts a host value for use by scripts.
func (r *Registry) ConvertForGuest(value any, expected reflect.Type) (any, error) {
	return r.Convert(ToGuest, value, expected)
}

// ConvertForHost converts a script value for use by the host.
func (r *Registry) ConvertForHost(value any, expected reflect.Type) (any, error) {
	return r.Convert(ToHost, value, expected)
}

// Func builds a Converter from functions. Nil functions default to: no
// confidence, always convertible, and identity conversion.
type Func struct {
	ConfidenceFunc func(dir Direction, valueType, expected reflect.Type) Confidence
	CanConvertFunc func(dir Direction, value any, expected reflect.Type) bool
	ConvertFunc    func(dir Direction, value any, expected reflect.Type, delegate Delegate) (any, error)
}

func (f Func) Confidence(dir Direction, valueType, expected reflect.Type) Confidence {
	if f.ConfidenceFunc == nil {
		return Lowest
	}
	return f.ConfidenceFunc(dir, valueType, expected)
}

func (f Func) CanConvert(dir Direction, value any, expected reflect.Type) bool {
	if f.CanConvertFunc == nil {
		return true
	}
	return f.CanConvertFunc(dir, value, expected)
}

func (f Func) Convert(dir Direction, value any, expected reflect.Type, delegate Delegate) (any, error) {
	if f.ConvertFunc == nil {
		return value, nil
	}
	return f.ConvertFunc(dir, value, expected, delegate)
}
