package adapt

import (
	"fmt"
	"sort"
	"strconv"
)

// Op is the operation an invocation performs.
type Op int

const (
	OpGet Op = iota
	OpGetIndex
	OpSet
	OpSetIndex
	OpHas
	OpDelete
	OpKeys
	OpLen
	OpBacking
)

var opNames = map[Op]string{
	OpGet:      "get",
	OpGetIndex: "getIndex",
	OpSet:      "set",
	OpSetIndex: "setIndex",
	OpHas:      "has",
	OpDelete:   "delete",
	OpKeys:     "keys",
	OpLen:      "len",
	OpBacking:  "backing",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Invocation is one operation travelling down a proxy's chain.
type Invocation struct {
	Op     Op
	Key    string
	Index  int
	Value  any
	Target any

	proxy *Proxy
	pos   int
}

// Shape returns the shape of the proxy being invoked.
func (inv *Invocation) Shape() Shape {
	return inv.proxy.shape
}

// Proceed passes the invocation to the next stage.
func (inv *Invocation) Proceed() (any, error) {
	chain := inv.proxy.chain
	if inv.pos >= len(chain) {
		return nil, fmt.Errorf("%s: %w", inv.Op, ErrUnsupported)
	}
	next := chain[inv.pos]
	inv.pos++
	return next.Intercept(inv)
}

// fork starts a different operation at the current position, so it is seen
// only by the stages after the caller.
func (inv *Invocation) fork(op Op) *Invocation {
	return &Invocation{Op: op, Target: inv.Target, proxy: inv.proxy, pos: inv.pos}
}

func (inv *Invocation) length() int {
	v, _ := inv.fork(OpLen).Proceed()
	n, _ := v.(int)
	return n
}

func (inv *Invocation) keys() []string {
	v, _ := inv.fork(OpKeys).Proceed()
	keys, _ := v.([]string)
	return keys
}

// Interceptor is one stage of a proxy.
type Interceptor interface {
	Name() string
	Intercept(inv *Invocation) (any, error)
}

// Stages returns the stages of a proxy, outermost first.
func Stages(caps Capabilities, conv ValueConverter) []Interceptor {
	return []Interceptor{
		identityStage{},
		lengthStage{force: caps.ForceLength},
		sequenceViewStage{},
		keyedViewStage{},
		conversionStage{conv: conv, keepStrings: caps.KeepStrings},
		backingStage{},
	}
}

// StageNames returns the names of the proxy's stages, outermost first.
func (p *Proxy) StageNames() []string {
	names := make([]string, 0, len(p.chain))
	for _, s := range p.chain {
		names = append(names, s.Name())
	}
	return names
}

type identityStage struct{}

func (identityStage) Name() string { return "identity" }

func (identityStage) Intercept(inv *Invocation) (any, error) {
	if inv.Op == OpBacking {
		return inv.Target, nil
	}
	return inv.Proceed()
}

const lengthKey = "length"

type lengthStage struct {
	force bool
}

func (lengthStage) Name() string { return "length" }

func (s lengthStage) Intercept(inv *Invocation) (any, error) {
	if inv.Key != lengthKey {
		return inv.Proceed()
	}
	switch inv.Op {
	case OpGet, OpHas, OpSet, OpDelete:
	default:
		return inv.Proceed()
	}
	if inv.Shape() == ShapeMap && !s.force {
		native, _ := inv.fork(OpHas).withKey(lengthKey).Proceed()
		if b, _ := native.(bool); b || inv.Op == OpSet {
			return inv.Proceed()
		}
	}
	switch inv.Op {
	case OpGet:
		return inv.length(), nil
	case OpHas:
		return true, nil
	default:
		return nil, fmt.Errorf("%s %q: length is read-only: %w", inv.Op, lengthKey, ErrUnsupported)
	}
}

func (inv *Invocation) withKey(key string) *Invocation {
	inv.Key = key
	return inv
}

// sequenceViewStage lets key-value backings be indexed. Index i addresses
// the i-th key in sorted order.
type sequenceViewStage struct{}

func (sequenceViewStage) Name() string { return "sequenceView" }

func (sequenceViewStage) Intercept(inv *Invocation) (any, error) {
	if inv.Shape() != ShapeMap {
		return inv.Proceed()
	}
	switch inv.Op {
	case OpGetIndex, OpSetIndex:
	default:
		return inv.Proceed()
	}
	keys := inv.keys()
	sort.Strings(keys)
	if inv.Index < 0 || inv.Index >= len(keys) {
		return nil, fmt.Errorf("index %d (len %d): %w", inv.Index, len(keys), ErrIndexOutOfRange)
	}
	if inv.Op == OpGetIndex {
		return inv.fork(OpGet).withKey(keys[inv.Index]).Proceed()
	}
	next := inv.fork(OpSet).withKey(keys[inv.Index])
	next.Value = inv.Value
	return next.Proceed()
}

// keyedViewStage lets sequence backings be addressed by decimal index keys,
// the way guest arrays are.
type keyedViewStage struct{}

func (keyedViewStage) Name() string { return "keyedView" }

func indexKey(key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || strconv.Itoa(i) != key {
		return 0, false
	}
	return i, true
}

func (keyedViewStage) Intercept(inv *Invocation) (any, error) {
	if inv.Shape() != ShapeList {
		return inv.Proceed()
	}
	switch inv.Op {
	case OpKeys:
		n := inv.length()
		keys := make([]string, n)
		for i := range keys {
			keys[i] = strconv.Itoa(i)
		}
		return keys, nil
	case OpHas:
		i, ok := indexKey(inv.Key)
		return ok && i < inv.length(), nil
	case OpGet:
		i, ok := indexKey(inv.Key)
		if !ok || i >= inv.length() {
			return nil, fmt.Errorf("key %q: %w", inv.Key, ErrNoSuchKey)
		}
		next := inv.fork(OpGetIndex)
		next.Index = i
		return next.Proceed()
	case OpSet:
		i, ok := indexKey(inv.Key)
		if !ok {
			return nil, fmt.Errorf("key %q: %w", inv.Key, ErrNoSuchKey)
		}
		next := inv.fork(OpSetIndex)
		next.Index = i
		next.Value = inv.Value
		return next.Proceed()
	case OpDelete:
		return nil, fmt.Errorf("delete from a sequence: %w", ErrUnsupported)
	}
	return inv.Proceed()
}

type conversionStage struct {
	conv        ValueConverter
	keepStrings bool
}

func (conversionStage) Name() string { return "conversion" }

func (s conversionStage) Intercept(inv *Invocation) (any, error) {
	if s.conv == nil {
		return inv.Proceed()
	}
	switch inv.Op {
	case OpSet, OpSetIndex:
		if _, isString := inv.Value.(string); !(isString && s.keepStrings) && inv.Value != nil {
			v, err := s.conv.ConvertForHost(inv.Value, inv.proxy.elemType)
			if err != nil {
				return nil, err
			}
			inv.Value = v
		}
		return inv.Proceed()
	case OpGet, OpGetIndex:
		v, err := inv.Proceed()
		if err != nil || v == nil {
			return v, err
		}
		if _, isString := v.(string); isString && s.keepStrings {
			return v, nil
		}
		return s.conv.ConvertForGuest(v, nil)
	}
	return inv.Proceed()
}
