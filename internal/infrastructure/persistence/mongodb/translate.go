package mongodb

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

// idKey is MongoDB's primary key. Documents also keep store.IDField.
const idKey = "_id"

func normalized(v any) (any, error) {
	return store.Normalize(v)
}

func normalizedAll(values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		n, err := store.Normalize(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// conditionFilter renders preconditions as a filter on the document id.
// A null field counts as absent, which is what MongoDB's {f: null} means.
func conditionFilter(id string, conds []store.Precondition) (bson.D, error) {
	and := bson.A{bson.D{{Key: idKey, Value: id}}}
	for _, c := range conds {
		switch c.Kind {
		case store.CondAbsent:
			and = append(and, bson.D{{Key: c.Path, Value: nil}})
		case store.CondExists:
			and = append(and, bson.D{{Key: c.Path, Value: bson.D{{Key: "$ne", Value: nil}}}})
		case store.CondEquals:
			v, err := normalized(c.Value)
			if err != nil {
				return nil, err
			}
			and = append(and, bson.D{{Key: c.Path, Value: bson.D{{Key: "$eq", Value: v}}}})
		default:
			return nil, fmt.Errorf("mongo: unknown precondition %q", c.Kind)
		}
	}
	if len(and) == 1 {
		return and[0].(bson.D), nil
	}
	return bson.D{{Key: "$and", Value: and}}, nil
}

// updateDocument groups ops by operator. Paths must not repeat across
// operators, which MongoDB rejects anyway.
func updateDocument(ops []store.Op) (bson.D, error) {
	groups := map[string]bson.D{}
	add := func(op, path string, v any) {
		groups[op] = append(groups[op], bson.E{Key: path, Value: v})
	}
	for _, op := range ops {
		if op.Path == "" || op.Path == store.IDField || op.Path == idKey {
			return nil, fmt.Errorf("%w: path %q is not writable", store.ErrTypeMismatch, op.Path)
		}
		switch op.Kind {
		case store.OpSet:
			v, err := normalized(op.Value)
			if err != nil {
				return nil, err
			}
			add("$set", op.Path, v)
		case store.OpUnset:
			add("$unset", op.Path, "")
		case store.OpAddToSet:
			v, err := normalized(op.Value)
			if err != nil {
				return nil, err
			}
			add("$addToSet", op.Path, v)
		case store.OpRemoveFromSet:
			v, err := normalized(op.Value)
			if err != nil {
				return nil, err
			}
			add("$pull", op.Path, v)
		case store.OpIncrement:
			v, err := normalized(op.Value)
			if err != nil {
				return nil, err
			}
			if _, ok := v.(float64); !ok {
				return nil, fmt.Errorf("%w: increment by non-number", store.ErrTypeMismatch)
			}
			add("$inc", op.Path, v)
		default:
			return nil, fmt.Errorf("mongo: unknown op %q", op.Kind)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: groups[k]})
	}
	return out, nil
}

// mergeSet flattens doc into dotted $set paths so nested objects merge key
// by key, matching store.MergeInto.
func mergeSet(doc map[string]any) bson.D {
	var out bson.D
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if child, ok := m[k].(map[string]any); ok && len(child) > 0 {
				walk(path, child)
				continue
			}
			out = append(out, bson.E{Key: path, Value: m[k]})
		}
	}
	walk("", doc)
	return bson.D{{Key: "$set", Value: out}}
}

// queryFilter renders store filters. Every predicate is a separate $and
// clause so two filters on one path do not collide.
func queryFilter(filters []store.Filter) (bson.D, error) {
	if len(filters) == 0 {
		return bson.D{}, nil
	}
	and := make(bson.A, 0, len(filters))
	for _, f := range filters {
		var cond any
		switch f.Kind {
		case store.FilterEq:
			v, err := normalized(f.Value)
			if err != nil {
				return nil, err
			}
			cond = bson.D{{Key: "$eq", Value: v}}
		case store.FilterContains:
			v, err := normalized(f.Value)
			if err != nil {
				return nil, err
			}
			cond = bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: v}}}}
		case store.FilterContainsAny:
			vs, err := normalizedAll(f.Values)
			if err != nil {
				return nil, err
			}
			cond = bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$in", Value: vs}}}}
		case store.FilterIn:
			vs, err := normalizedAll(f.Values)
			if err != nil {
				return nil, err
			}
			cond = bson.D{{Key: "$in", Value: vs}}
		case store.FilterExists:
			cond = bson.D{{Key: "$ne", Value: nil}}
		case store.FilterGte:
			v, err := normalized(f.Value)
			if err != nil {
				return nil, err
			}
			cond = bson.D{{Key: "$gte", Value: v}}
		default:
			return nil, fmt.Errorf("mongo: unsupported filter %q", f.Kind)
		}
		and = append(and, bson.D{{Key: f.Path, Value: cond}})
	}
	return bson.D{{Key: "$and", Value: and}}, nil
}

// sortOrder mirrors store.Select: the order field, then id ascending.
func sortOrder(q store.Query) bson.D {
	dir := 1
	if q.Descending {
		dir = -1
	}
	if q.OrderBy == "" || q.OrderBy == store.IDField {
		return bson.D{{Key: idKey, Value: dir}}
	}
	return bson.D{{Key: q.OrderBy, Value: dir}, {Key: idKey, Value: 1}}
}
