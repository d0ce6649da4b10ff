package store

// OpKind enumerates single-field mutations.
type OpKind string

const (
	OpSet           OpKind = "set"
	OpUnset         OpKind = "unset"
	OpAddToSet      OpKind = "addToSet"
	OpRemoveFromSet OpKind = "removeFromSet"
	OpIncrement     OpKind = "increment"
)

// Op is one mutation of the field at Path.
type Op struct {
	Kind  OpKind
	Path  string
	Value any
}

func Set(path string, value any) Op { return Op{Kind: OpSet, Path: path, Value: value} }
func Unset(path string) Op          { return Op{Kind: OpUnset, Path: path} }

// AddToSet appends value to the array at path unless already present.
func AddToSet(path string, value any) Op {
	return Op{Kind: OpAddToSet, Path: path, Value: value}
}

// RemoveFromSet removes every element equal to value.
func RemoveFromSet(path string, value any) Op {
	return Op{Kind: OpRemoveFromSet, Path: path, Value: value}
}

// Increment adds delta to a numeric field; a missing field counts as 0.
func Increment(path string, delta int) Op {
	return Op{Kind: OpIncrement, Path: path, Value: delta}
}

// CondKind enumerates precondition checks.
type CondKind string

const (
	CondAbsent CondKind = "absent"
	CondExists CondKind = "exists"
	CondEquals CondKind = "equals"
)

// Precondition guards an Update.
type Precondition struct {
	Kind  CondKind
	Path  string
	Value any
}

// Absent holds when the field is missing or null.
func Absent(path string) Precondition { return Precondition{Kind: CondAbsent, Path: path} }

// Exists holds when the field is present and not null.
func Exists(path string) Precondition { return Precondition{Kind: CondExists, Path: path} }

// Equals holds when the field equals value.
func Equals(path string, value any) Precondition {
	return Precondition{Kind: CondEquals, Path: path, Value: value}
}

// FilterKind enumerates query predicates.
type FilterKind string

const (
	FilterEq          FilterKind = "eq"
	FilterContains    FilterKind = "contains"
	FilterContainsAny FilterKind = "containsAny"
	FilterIn          FilterKind = "in"
	FilterExists      FilterKind = "exists"
	FilterGte         FilterKind = "gte"
)

// Filter is a predicate on one field. Values holds the list for
// ContainsAny and In.
type Filter struct {
	Kind   FilterKind
	Path   string
	Value  any
	Values []any
}

func Eq(path string, value any) Filter { return Filter{Kind: FilterEq, Path: path, Value: value} }

// Contains matches when the array at path contains value.
func Contains(path string, value any) Filter {
	return Filter{Kind: FilterContains, Path: path, Value: value}
}

// ContainsAny matches when the array at path shares at least one element
// with values.
func ContainsAny(path string, values ...any) Filter {
	return Filter{Kind: FilterContainsAny, Path: path, Values: values}
}

// In matches when the scalar at path is one of values.
func In(path string, values ...any) Filter {
	return Filter{Kind: FilterIn, Path: path, Values: values}
}

func FieldExists(path string) Filter { return Filter{Kind: FilterExists, Path: path} }

func Gte(path string, value any) Filter { return Filter{Kind: FilterGte, Path: path, Value: value} }

// Strings converts a string slice for ContainsAny and In.
func Strings(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
