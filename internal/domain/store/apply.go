package store

import (
	"fmt"
	"strings"
)

// Backends without native field operators (memory, postgres) share these
// helpers so every adapter has identical semantics.

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}

// Lookup returns the value at a dotted path.
func Lookup(doc Document, path string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, seg := range splitPath(path) {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// parent walks to the map holding the last path segment. With create set,
// missing intermediate maps are created.
func parent(doc Document, path string, create bool) (map[string]any, string, error) {
	segs := splitPath(path)
	cur := map[string]any(doc)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			if !create {
				return nil, "", nil
			}
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return nil, "", fmt.Errorf("%w: %q is not an object", ErrTypeMismatch, seg)
		}
		cur = m
	}
	return cur, segs[len(segs)-1], nil
}

// Check evaluates preconditions against doc.
func Check(doc Document, conds []Precondition) error {
	for _, c := range conds {
		v, ok := Lookup(doc, c.Path)
		present := ok && v != nil
		var holds bool
		switch c.Kind {
		case CondAbsent:
			holds = !present
		case CondExists:
			holds = present
		case CondEquals:
			holds = ok && Equal(v, c.Value)
		default:
			return fmt.Errorf("store: unknown precondition %q", c.Kind)
		}
		if !holds {
			return fmt.Errorf("%w: %s %s", ErrPreconditionFailed, c.Kind, c.Path)
		}
	}
	return nil
}

// Apply mutates doc in place. On error doc may be partially modified, so
// callers apply to a clone.
func Apply(doc Document, ops []Op) error {
	for _, op := range ops {
		if err := applyOne(doc, op); err != nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.Path, err)
		}
	}
	return nil
}

func applyOne(doc Document, op Op) error {
	if op.Path == "" || op.Path == IDField {
		return fmt.Errorf("%w: path %q is not writable", ErrTypeMismatch, op.Path)
	}
	create := op.Kind != OpUnset && op.Kind != OpRemoveFromSet
	m, key, err := parent(doc, op.Path, create)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	switch op.Kind {
	case OpSet:
		v, err := Normalize(op.Value)
		if err != nil {
			return err
		}
		m[key] = v

	case OpUnset:
		delete(m, key)

	case OpAddToSet:
		v, err := Normalize(op.Value)
		if err != nil {
			return err
		}
		arr, err := arrayAt(m, key)
		if err != nil {
			return err
		}
		for _, e := range arr {
			if Equal(e, v) {
				return nil
			}
		}
		m[key] = append(arr, v)

	case OpRemoveFromSet:
		arr, err := arrayAt(m, key)
		if err != nil {
			return err
		}
		if _, ok := m[key]; !ok {
			return nil
		}
		kept := make([]any, 0, len(arr))
		for _, e := range arr {
			if !Equal(e, op.Value) {
				kept = append(kept, e)
			}
		}
		m[key] = kept

	case OpIncrement:
		delta, err := Normalize(op.Value)
		if err != nil {
			return err
		}
		d, ok := delta.(float64)
		if !ok {
			return fmt.Errorf("%w: increment by non-number", ErrTypeMismatch)
		}
		cur, present := m[key]
		if !present || cur == nil {
			m[key] = d
			return nil
		}
		n, ok := cur.(float64)
		if !ok {
			return fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, key)
		}
		m[key] = n + d

	default:
		return fmt.Errorf("store: unknown op %q", op.Kind)
	}
	return nil
}

func arrayAt(m map[string]any, key string) ([]any, error) {
	cur, ok := m[key]
	if !ok || cur == nil {
		return []any{}, nil
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an array", ErrTypeMismatch, key)
	}
	return arr, nil
}

// MergeInto deep-merges src into dst. Objects merge key by key; any other
// value in src replaces the one in dst.
func MergeInto(dst, src map[string]any) {
	for k, sv := range src {
		sm, srcIsMap := asMap(sv)
		dm, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			MergeInto(dm, sm)
			continue
		}
		dst[k] = cloneValue(sv)
	}
}

// Match evaluates query filters against doc.
func Match(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(doc, f) {
			return false
		}
	}
	return true
}

func matchOne(doc Document, f Filter) bool {
	v, ok := Lookup(doc, f.Path)
	switch f.Kind {
	case FilterExists:
		return ok && v != nil
	case FilterEq:
		return ok && Equal(v, f.Value)
	case FilterContains:
		arr, isArr := v.([]any)
		if !isArr {
			return false
		}
		for _, e := range arr {
			if Equal(e, f.Value) {
				return true
			}
		}
		return false
	case FilterContainsAny:
		arr, isArr := v.([]any)
		if !isArr {
			return false
		}
		for _, e := range arr {
			for _, want := range f.Values {
				if Equal(e, want) {
					return true
				}
			}
		}
		return false
	case FilterIn:
		if !ok {
			return false
		}
		for _, want := range f.Values {
			if Equal(v, want) {
				return true
			}
		}
		return false
	case FilterGte:
		want, err := Normalize(f.Value)
		if !ok || err != nil {
			return false
		}
		return rank(v) == rank(want) && Compare(v, want) >= 0
	default:
		return false
	}
}
