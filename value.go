package booker

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Node is the document's value type: nil (only ever meaning "no value was
// found", never a stored value), bool, int64, float64, string, *List,
// *Map, or Null (a stored JSON null).
type Node = any

// nullValue is the document's representation of a stored JSON null. It is
// distinct from a Go nil interface value, which AddCommand's public API
// treats as "delete this path" rather than "store a null here".
type nullValue struct{}

// Null is the document value corresponding to a stored JSON null.
var Null Node = nullValue{}

func isNull(v Node) bool {
	_, ok := v.(nullValue)
	return ok
}

// Map is one level of the document tree: a concurrently readable,
// concurrently mutable string-keyed map. Reads never block on writers, per
// the concurrency model in spec.md §5 — it is a thin, domain-typed wrapper
// around sync.Map, which is the standard library's own answer to "atomic
// map insertion/removal with a weakly-consistent iterator".
type Map struct {
	m sync.Map // string -> Node
}

// NewMap returns an empty Map.
func NewMap() *Map { return &Map{} }

// Get returns the value stored at key, and whether it was present.
func (m *Map) Get(key string) (Node, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return nil, false
	}
	return v, true
}

// Set stores v at key, creating or overwriting as needed.
func (m *Map) Set(key string, v Node) { m.m.Store(key, v) }

// Delete removes key. Deleting a missing key is a no-op.
func (m *Map) Delete(key string) { m.m.Delete(key) }

// Range calls fn for every key/value pair in an unspecified, weakly
// consistent order, stopping early if fn returns false.
func (m *Map) Range(fn func(key string, v Node) bool) {
	m.m.Range(func(k, v any) bool {
		return fn(k.(string), v)
	})
}

// Len returns the number of entries currently in the map.
func (m *Map) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Keys returns a sorted snapshot of the map's keys, for deterministic
// iteration (JSON serialization, tests, CLI output).
func (m *Map) Keys() []string {
	keys := make([]string, 0, m.Len())
	m.Range(func(k string, _ Node) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// List is a copy-on-write list node: readers observe a consistent snapshot
// of the underlying slice even while a writer is in the middle of
// replacing it, per spec.md §9's "copy-on-write vector" guidance.
type List struct {
	v atomic.Pointer[[]Node]
}

// NewList returns an empty List.
func NewList() *List {
	l := &List{}
	empty := []Node{}
	l.v.Store(&empty)
	return l
}

// Snapshot returns the list's current backing slice. The caller must treat
// it as immutable.
func (l *List) Snapshot() []Node {
	p := l.v.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the list's current length.
func (l *List) Len() int { return len(l.Snapshot()) }

// Get returns the element at index i, and whether i was in range.
func (l *List) Get(i int) (Node, bool) {
	s := l.Snapshot()
	if i < 0 || i >= len(s) {
		return nil, false
	}
	return s[i], true
}

// Append adds v to the end of the list.
func (l *List) Append(v Node) {
	for {
		old := l.v.Load()
		cur := *old
		next := make([]Node, len(cur)+1)
		copy(next, cur)
		next[len(cur)] = v
		if l.v.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Set replaces the element at index i. i must be within [0, len]; i == len
// appends, matching spec.md §4.A's "ListIndex(i) where i == len appends"
// tie-break. i > len is an error.
func (l *List) Set(i int, v Node) error {
	for {
		old := l.v.Load()
		cur := *old
		if i < 0 || i > len(cur) {
			return fmt.Errorf("list index %d out of range (len %d)", i, len(cur))
		}
		var next []Node
		if i == len(cur) {
			next = make([]Node, len(cur)+1)
			copy(next, cur)
			next[i] = v
		} else {
			next = make([]Node, len(cur))
			copy(next, cur)
			next[i] = v
		}
		if l.v.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// DeleteAt removes the element at index i. Out-of-range is a no-op,
// matching delete-on-missing-key semantics for maps.
func (l *List) DeleteAt(i int) {
	for {
		old := l.v.Load()
		cur := *old
		if i < 0 || i >= len(cur) {
			return
		}
		next := make([]Node, len(cur)-1)
		copy(next, cur[:i])
		copy(next[i:], cur[i+1:])
		if l.v.CompareAndSwap(old, &next) {
			return
		}
	}
}

// UnsupportedValueError is returned by the snapshot writer when a node in
// the document tree is not one of Node's legal variants.
type UnsupportedValueError struct {
	Value Node
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("unsupported document value of type %T", e.Value)
}

// deepCopyMap converts a plain, JSON-decoded value (map[string]any,
// []any, int64/float64, string, bool, nil) into the document's concurrent
// Map/List representation. A bare Go nil is read back as Null (a stored
// JSON null), never as a deletion — deletion only exists as a runtime
// AddCommand operation, never as a value living inside the tree.
func deepCopyMap(src map[string]any) *Map {
	m := NewMap()
	for k, v := range src {
		m.Set(k, deepCopyValue(v))
	}
	return m
}

func deepCopyValue(v any) Node {
	switch x := v.(type) {
	case nil:
		return Null
	case map[string]any:
		return deepCopyMap(x)
	case []any:
		l := NewList()
		for _, item := range x {
			l.Append(deepCopyValue(item))
		}
		return l
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64, float64, string, bool:
		return x
	case nullValue:
		return Null
	default:
		return v
	}
}

// toPlain recursively converts a document Node into plain Go values
// (map[string]any, []any, int64, float64, string, bool, nil) suitable for
// JSON encoding. It returns UnsupportedValueError for anything else.
func toPlain(n Node) (any, error) {
	switch x := n.(type) {
	case nil:
		return nil, nil
	case nullValue:
		return nil, nil
	case bool, int64, float64, string:
		return x, nil
	case *Map:
		out := make(map[string]any, x.Len())
		var err error
		x.Range(func(k string, v Node) bool {
			pv, e := toPlain(v)
			if e != nil {
				err = e
				return false
			}
			out[k] = pv
			return true
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	case *List:
		items := x.Snapshot()
		out := make([]any, len(items))
		for i, item := range items {
			pv, err := toPlain(item)
			if err != nil {
				return nil, err
			}
			out[i] = pv
		}
		return out, nil
	default:
		return nil, &UnsupportedValueError{Value: n}
	}
}
