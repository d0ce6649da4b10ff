package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

// queryBuilder accumulates positional arguments.
type queryBuilder struct {
	where []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) path(p string) string {
	return "body #> " + b.arg(strings.Split(p, ".")) + "::text[]"
}

func (b *queryBuilder) json(v any) (string, error) {
	raw, err := jsonText(v)
	if err != nil {
		return "", err
	}
	return b.arg(raw) + "::text::jsonb", nil
}

func (b *queryBuilder) jsonArray(values []any, wrap bool) (string, error) {
	texts := make([]string, len(values))
	for i, v := range values {
		if wrap {
			v = []any{v}
		}
		raw, err := jsonText(v)
		if err != nil {
			return "", err
		}
		texts[i] = raw
	}
	return b.arg(texts) + "::text[]::jsonb[]", nil
}

func jsonText(v any) (string, error) {
	n, err := store.Normalize(v)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("postgres: encode filter value: %w", err)
	}
	return string(raw), nil
}

// buildQuery renders q as a SELECT over the documents table. Ordering
// mirrors store.Select: missing values sort lowest and ties break on id.
func buildQuery(q store.Query) (string, []any, error) {
	b := &queryBuilder{}
	b.where = append(b.where, "collection = "+b.arg(q.Collection))

	for _, f := range q.Filters {
		cond, err := b.filter(f)
		if err != nil {
			return "", nil, err
		}
		b.where = append(b.where, cond)
	}

	var sb strings.Builder
	sb.WriteString("SELECT body FROM documents WHERE ")
	sb.WriteString(strings.Join(b.where, " AND "))

	sb.WriteString(" ORDER BY ")
	if q.OrderBy != "" && q.OrderBy != store.IDField {
		sb.WriteString(b.path(q.OrderBy))
		if q.Descending {
			sb.WriteString(" DESC NULLS LAST, ")
		} else {
			sb.WriteString(" ASC NULLS FIRST, ")
		}
		sb.WriteString("id ASC")
	} else if q.Descending {
		sb.WriteString("id DESC")
	} else {
		sb.WriteString("id ASC")
	}

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + b.arg(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + b.arg(q.Offset))
	}
	return sb.String(), b.args, nil
}

func (b *queryBuilder) filter(f store.Filter) (string, error) {
	switch f.Kind {
	case store.FilterEq:
		field := b.path(f.Path)
		v, err := b.json(f.Value)
		if err != nil {
			return "", err
		}
		return field + " = " + v, nil

	case store.FilterContains:
		field := b.path(f.Path)
		v, err := b.json([]any{f.Value})
		if err != nil {
			return "", err
		}
		return "(jsonb_typeof(" + field + ") = 'array' AND " + field + " @> " + v + ")", nil

	case store.FilterContainsAny:
		if len(f.Values) == 0 {
			return "FALSE", nil
		}
		field := b.path(f.Path)
		vs, err := b.jsonArray(f.Values, true)
		if err != nil {
			return "", err
		}
		return "(jsonb_typeof(" + field + ") = 'array' AND " + field + " @> ANY(" + vs + "))", nil

	case store.FilterIn:
		if len(f.Values) == 0 {
			return "FALSE", nil
		}
		field := b.path(f.Path)
		vs, err := b.jsonArray(f.Values, false)
		if err != nil {
			return "", err
		}
		return field + " = ANY(" + vs + ")", nil

	case store.FilterExists:
		return "COALESCE(" + b.path(f.Path) + ", 'null'::jsonb) <> 'null'::jsonb", nil

	case store.FilterGte:
		field := b.path(f.Path)
		v, err := b.json(f.Value)
		if err != nil {
			return "", err
		}
		return "(jsonb_typeof(" + field + ") = jsonb_typeof(" + v + ") AND " + field + " >= " + v + ")", nil

	default:
		return "", fmt.Errorf("postgres: unsupported filter %q", f.Kind)
	}
}
