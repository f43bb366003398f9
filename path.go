package booker

import (
	"strconv"
	"strings"
)

// directiveKind enumerates the ways a single path component can address a
// position inside the document tree.
type directiveKind int

const (
	dirMapKey directiveKind = iota
	dirListIndex
	dirListLast
	dirListInsert
)

// directive is one step of a parsed path: either navigation into a
// container, or (for the last directive) the mutation itself.
type directive struct {
	kind directiveKind
	key  string // dirMapKey
	idx  int    // dirListIndex
	add  bool   // numeric-add variant, trailing "+"
}

// parsePath parses a document path per the grammar in spec.md §4.A:
// dot-separated components, backslash-escaped literal dots and escape
// characters, and an optional trailing unescaped "." (list-insert) or "+"
// (numeric add) operator on the final character.
//
// The empty path addresses the document root.
func parsePath(path string) ([]directive, error) {
	if path == "" {
		return nil, nil
	}

	var comps []string
	var cur []byte
	lastWasEscaped := false
	n := len(path)
	for i := 0; i < n; {
		c := path[i]
		switch {
		case c == '\\':
			if i+1 >= n {
				return nil, invalidPathf(path, "path cannot end in a bare escape character")
			}
			cur = append(cur, path[i+1])
			lastWasEscaped = true
			i += 2
		case c == '.':
			comps = append(comps, string(cur))
			cur = cur[:0]
			lastWasEscaped = false
			i++
		default:
			cur = append(cur, c)
			lastWasEscaped = false
			i++
		}
	}

	trailingInsert := false
	trailingAdd := false
	if len(cur) == 0 {
		// The path ended with an unescaped '.': list-insert at the last
		// named location.
		trailingInsert = true
	} else if !lastWasEscaped && cur[len(cur)-1] == '+' {
		trailingAdd = true
		cur = cur[:len(cur)-1]
		if len(cur) == 0 {
			return nil, invalidPathf(path, "a path component cannot consist solely of the \"+\" operator")
		}
	}
	if !trailingInsert {
		comps = append(comps, string(cur))
	}

	dirs := make([]directive, 0, len(comps)+1)
	for i, c := range comps {
		text := strings.TrimSpace(c)
		add := trailingAdd && i == len(comps)-1
		d, err := classifyComponent(path, text, add)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	if trailingInsert {
		dirs = append(dirs, directive{kind: dirListInsert})
	}
	return dirs, nil
}

// classifyComponent turns trimmed component text into a directive: an
// integer (other than -1) addresses a list by index, -1 addresses a
// list's last element, and anything else addresses a map key.
func classifyComponent(path, text string, add bool) (directive, error) {
	if i, ok := parseComponentInt(text); ok {
		if i == -1 {
			return directive{kind: dirListLast, add: add}, nil
		}
		if i < -1 {
			return directive{}, invalidPathf(path, "list index %d is out of range", i)
		}
		return directive{kind: dirListIndex, idx: i, add: add}, nil
	}
	return directive{kind: dirMapKey, key: text, add: add}, nil
}

func parseComponentInt(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	if text[0] == '+' {
		return 0, false
	}
	i, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return i, true
}

// applyDirectives navigates dirs against root and performs the mutation
// named by the last directive. If dirs is empty, value must be a *Map and
// applyDirectives returns it as a replacement root; callers must swap
// their root reference with the returned value in that case.
func applyDirectives(root *Map, dirs []directive, value Node, isDelete bool) (*Map, error) {
	if len(dirs) == 0 {
		if isDelete {
			return nil, invalidPathf("", "cannot delete the document root")
		}
		newRoot, ok := value.(*Map)
		if !ok {
			return nil, invalidPathf("", "replacing the document root requires a map value")
		}
		return newRoot, nil
	}

	var current Node = root
	for i := 0; i < len(dirs)-1; i++ {
		d := dirs[i]
		child, exists, err := getChild(current, d)
		if err != nil {
			return nil, err
		}
		if !exists {
			created, err := newContainerFor(dirs[i+1])
			if err != nil {
				return nil, err
			}
			if err := setChild(current, d, created); err != nil {
				return nil, err
			}
			child = created
		}
		current = child
	}

	last := dirs[len(dirs)-1]
	return nil, applyFinal(current, last, value, isDelete)
}

// getChild looks up the position named by d within parent, without
// creating anything.
func getChild(parent Node, d directive) (Node, bool, error) {
	switch d.kind {
	case dirMapKey:
		m, ok := parent.(*Map)
		if !ok {
			return nil, false, invalidPathf("", "expected a map at this path")
		}
		v, ok := m.Get(d.key)
		return v, ok, nil
	case dirListIndex:
		l, ok := parent.(*List)
		if !ok {
			return nil, false, invalidPathf("", "expected a list at this path")
		}
		v, ok := l.Get(d.idx)
		return v, ok, nil
	case dirListLast:
		l, ok := parent.(*List)
		if !ok {
			return nil, false, invalidPathf("", "expected a list at this path")
		}
		n := l.Len()
		if n == 0 {
			return nil, false, nil
		}
		v, ok := l.Get(n - 1)
		return v, ok, nil
	default:
		return nil, false, invalidPathf("", "list-insert may only be the final path component")
	}
}

// setChild stores a freshly created container at the position named by d
// within parent, used while filling in missing intermediate nodes.
func setChild(parent Node, d directive, v Node) error {
	switch d.kind {
	case dirMapKey:
		m, ok := parent.(*Map)
		if !ok {
			return invalidPathf("", "expected a map at this path")
		}
		m.Set(d.key, v)
		return nil
	case dirListIndex:
		l, ok := parent.(*List)
		if !ok {
			return invalidPathf("", "expected a list at this path")
		}
		return l.Set(d.idx, v)
	case dirListLast:
		l, ok := parent.(*List)
		if !ok {
			return invalidPathf("", "expected a list at this path")
		}
		// Only reachable when the list was empty: last-index of an empty
		// list is index 0, i.e. append.
		l.Append(v)
		return nil
	default:
		return invalidPathf("", "list-insert may only be the final path component")
	}
}

// newContainerFor returns the empty container a directive needs to
// navigate into: a map for MapKey steps, a list for everything else.
func newContainerFor(d directive) (Node, error) {
	if d.kind == dirMapKey {
		return NewMap(), nil
	}
	return NewList(), nil
}

// applyFinal performs the mutation or deletion named by the last
// directive of a path against its already-navigated parent container.
func applyFinal(parent Node, last directive, value Node, isDelete bool) error {
	switch last.kind {
	case dirMapKey:
		m, ok := parent.(*Map)
		if !ok {
			return invalidPathf("", "expected a map at this path")
		}
		if isDelete {
			m.Delete(last.key)
			return nil
		}
		if last.add {
			existing, ok := m.Get(last.key)
			if !ok {
				m.Set(last.key, value)
				return nil
			}
			sum, err := numericAdd(existing, value)
			if err != nil {
				return err
			}
			m.Set(last.key, sum)
			return nil
		}
		m.Set(last.key, value)
		return nil

	case dirListIndex, dirListLast:
		l, ok := parent.(*List)
		if !ok {
			return invalidPathf("", "expected a list at this path")
		}
		idx := resolveListIndex(l, last)
		if isDelete {
			l.DeleteAt(idx)
			return nil
		}
		if last.add {
			existing, ok := l.Get(idx)
			if !ok {
				return l.Set(idx, value)
			}
			sum, err := numericAdd(existing, value)
			if err != nil {
				return err
			}
			return l.Set(idx, sum)
		}
		return l.Set(idx, value)

	case dirListInsert:
		if isDelete {
			return invalidPathf("", "cannot delete via a trailing list-insert path")
		}
		l, ok := parent.(*List)
		if !ok {
			return invalidPathf("", "expected a list at this path")
		}
		l.Append(value)
		return nil

	default:
		return invalidPathf("", "unknown path directive")
	}
}

// resolveListIndex turns a ListIndex or ListLastIndex directive into a
// concrete index against l's current length. An empty list's last index
// is 0, matching spec.md §4.A's tie-break.
func resolveListIndex(l *List, d directive) int {
	if d.kind == dirListLast {
		n := l.Len()
		if n == 0 {
			return 0
		}
		return n - 1
	}
	return d.idx
}

// numericAdd implements the "+" operator's arithmetic: integer plus
// integer stays integer, any other numeric combination promotes to float.
func numericAdd(existing, addend Node) (Node, error) {
	if ei, ok := existing.(int64); ok {
		if ai, ok := addend.(int64); ok {
			return ei + ai, nil
		}
	}
	ef, ok1 := toFloat(existing)
	af, ok2 := toFloat(addend)
	if !ok1 || !ok2 {
		return nil, invalidPathf("", "cannot add to a non-numeric value")
	}
	return ef + af, nil
}

func toFloat(v Node) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
