// Package store defines the document database contract SkillX runs on.
//
// Documents are JSON-shaped maps addressed by (collection, id). Fields are
// addressed with dotted paths such as "enrolledCourses.c1.creditsSpent".
// Update applies a list of operations to one document atomically and only
// if every precondition holds, which is the only atomicity the domain
// relies on.
package store

import (
	"context"
	"errors"
)

// Collections used by SkillX.
const (
	Users         = "users"
	Courses       = "courses"
	Transactions  = "transactions"
	Notifications = "notifications"
	Posts         = "posts"
)

// IDField is the document key that mirrors the document id.
const IDField = "id"

var (
	// ErrNotFound is returned by Get, Update and Delete for a missing document.
	ErrNotFound = errors.New("store: document not found")
	// ErrPreconditionFailed is returned by Update when a precondition does
	// not hold. Nothing is written.
	ErrPreconditionFailed = errors.New("store: precondition failed")
	// ErrTypeMismatch is returned when an operation meets a field of the
	// wrong shape, e.g. AddToSet on a number.
	ErrTypeMismatch = errors.New("store: field type mismatch")
)

// Document is a JSON-shaped document. Numbers are float64 once they have
// passed through a store.
type Document map[string]any

// ID returns the id field, or "".
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Store is the adapter every backend implements.
type Store interface {
	// Get returns a copy of the document.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes a whole document. With Merge it deep-merges into the
	// existing document, creating it if needed.
	Set(ctx context.Context, collection, id string, doc Document, opts ...SetOption) error

	// Update applies ops to one existing document atomically, provided all
	// preconditions hold.
	Update(ctx context.Context, collection, id string, ops []Op, conds ...Precondition) error

	// Query returns copies of matching documents.
	Query(ctx context.Context, q Query) ([]Document, error)

	Delete(ctx context.Context, collection, id string) error
}

// SetOptions modify Set.
type SetOptions struct {
	Merge bool
}

type SetOption func(*SetOptions)

// Merge makes Set deep-merge instead of overwrite.
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// ApplySetOptions folds opts into a SetOptions.
func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	// OrderBy is a field path. Empty orders by id ascending.
	OrderBy    string
	Descending bool
	// Limit of 0 means no limit.
	Limit  int
	Offset int
}
