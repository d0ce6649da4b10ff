// Package memory is an in-process implementation of store.Store. It backs
// local development and tests, and can inject faults into chosen calls to
// exercise compensation paths.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

// ErrInjected is the default error returned by a Fault.
var ErrInjected = errors.New("memory: injected fault")

// Method names a Store method for fault matching and call counting.
type Method string

const (
	MethodGet    Method = "get"
	MethodSet    Method = "set"
	MethodUpdate Method = "update"
	MethodQuery  Method = "query"
	MethodDelete Method = "delete"
)

// Fault makes matching calls fail. Empty fields match anything.
type Fault struct {
	Method     Method
	Collection string
	ID         string
	// PathPrefix restricts Update faults to calls touching a matching path.
	PathPrefix string
	// Skip lets this many matching calls through before failing.
	Skip int
	// Times limits how many calls fail. Zero fails forever.
	Times int
	Err   error

	seen   int
	failed int
}

func (f *Fault) matches(m Method, collection, id string, ops []store.Op) bool {
	if f.Method != "" && f.Method != m {
		return false
	}
	if f.Collection != "" && f.Collection != collection {
		return false
	}
	if f.ID != "" && f.ID != id {
		return false
	}
	if f.PathPrefix != "" {
		hit := false
		for _, op := range ops {
			if strings.HasPrefix(op.Path, f.PathPrefix) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Store keeps collections in maps guarded by one mutex.
type Store struct {
	mu     sync.RWMutex
	data   map[string]map[string]store.Document
	faults []*Fault
	calls  map[Method]int
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		data:  make(map[string]map[string]store.Document),
		calls: make(map[Method]int),
	}
}

// InjectFault registers f. Faults are evaluated in registration order.
func (s *Store) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc := f
	s.faults = append(s.faults, &fc)
}

// ClearFaults removes every registered fault.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Calls returns how many times m was invoked, including failed calls.
func (s *Store) Calls(m Method) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[m]
}

// Writes returns the number of Set, Update and Delete calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[MethodSet] + s.calls[MethodUpdate] + s.calls[MethodDelete]
}

// ResetCalls zeroes the call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[Method]int)
}

// enter must be called with mu held for writing.
func (s *Store) enter(ctx context.Context, m Method, collection, id string, ops []store.Op) error {
	s.calls[m]++
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range s.faults {
		if !f.matches(m, collection, id, ops) {
			continue
		}
		f.seen++
		if f.seen <= f.Skip {
			continue
		}
		if f.Times > 0 && f.failed >= f.Times {
			continue
		}
		f.failed++
		if f.Err != nil {
			return f.Err
		}
		return fmt.Errorf("%w: %s %s/%s", ErrInjected, m, collection, id)
	}
	return nil
}

func (s *Store) collection(name string) map[string]store.Document {
	c, ok := s.data[name]
	if !ok {
		c = make(map[string]store.Document)
		s.data[name] = c
	}
	return c
}

// Get returns a deep copy of the document.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, MethodGet, collection, id, nil); err != nil {
		return nil, err
	}
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.Clone(doc), nil
}

// Set overwrites or merges a document.
func (s *Store) Set(ctx context.Context, collection, id string, doc store.Document, opts ...store.SetOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, MethodSet, collection, id, nil); err != nil {
		return err
	}
	normalized, err := store.Encode(doc)
	if err != nil {
		return err
	}
	normalized[store.IDField] = id

	c := s.collection(collection)
	existing, ok := c[id]
	if ok && store.ApplySetOptions(opts).Merge {
		merged := store.Clone(existing)
		store.MergeInto(merged, normalized)
		c[id] = merged
		return nil
	}
	c[id] = normalized
	return nil
}

// Update applies ops atomically under the store lock.
func (s *Store) Update(ctx context.Context, collection, id string, ops []store.Op, conds ...store.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, MethodUpdate, collection, id, ops); err != nil {
		return err
	}
	doc, ok := s.data[collection][id]
	if !ok {
		return store.ErrNotFound
	}
	if err := store.Check(doc, conds); err != nil {
		return err
	}
	next := store.Clone(doc)
	if err := store.Apply(next, ops); err != nil {
		return err
	}
	s.data[collection][id] = next
	return nil
}

// Query evaluates q over a snapshot of the collection.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, MethodQuery, q.Collection, "", nil); err != nil {
		return nil, err
	}
	all := make([]store.Document, 0, len(s.data[q.Collection]))
	for _, d := range s.data[q.Collection] {
		all = append(all, d)
	}
	selected := store.Select(all, q)
	out := make([]store.Document, len(selected))
	for i, d := range selected {
		out[i] = store.Clone(d)
	}
	return out, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, MethodDelete, collection, id, nil); err != nil {
		return err
	}
	if _, ok := s.data[collection][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.data[collection], id)
	return nil
}

// Seed stores v (a struct or map) without counting a call. Test helper.
func (s *Store) Seed(collection, id string, v any) error {
	doc, err := store.Encode(v)
	if err != nil {
		return err
	}
	doc[store.IDField] = id
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[id] = doc
	return nil
}

// Peek returns a copy of a document without counting a call. Test helper.
func (s *Store) Peek(collection, id string) (store.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	return store.Clone(doc), ok
}
