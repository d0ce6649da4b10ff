package store

import "sort"

// Select filters, orders and pages docs according to q. Used by backends
// that evaluate queries in process.
func Select(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if Match(d, q.Filters) {
			out = append(out, d)
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = IDField
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := Lookup(out[i], orderBy)
		b, _ := Lookup(out[j], orderBy)
		c := Compare(a, b)
		if c == 0 {
			return out[i].ID() < out[j].ID()
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Document{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
