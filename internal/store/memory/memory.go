// Package memory provides the process-local reference implementation of the
// store port. It backs tests and single-instance deployments.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"table-order-service/internal/store"
)

type document struct {
	revision store.Revision
	fields   map[string]any
}

type subscriber struct {
	collection string
	filter     store.Filter
	ch         chan []store.Document
	closeOnce  sync.Once
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// Store keeps documents in maps guarded by a single mutex. Writes bump a
// per-document revision; matching subscribers receive the full filtered
// document set after every write.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]*document
	subscribers map[*subscriber]struct{}
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]*document),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return &store.Document{ID: id, Revision: doc.revision, Fields: cloneFields(doc.fields)}, nil
}

func (s *Store) Query(ctx context.Context, collection string, filter store.Filter) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, filter), nil
}

func (s *Store) queryLocked(collection string, filter store.Filter) []store.Document {
	var out []store.Document
	for id, doc := range s.collections[collection] {
		if filter.Matches(doc.fields) {
			out = append(out, store.Document{ID: id, Revision: doc.revision, Fields: cloneFields(doc.fields)})
		}
	}
	return out
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*document)
	}
	s.collections[collection][id] = &document{revision: 1, fields: cloneFields(fields)}
	s.notifyLocked(collection)
	return id, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, collection, id string, expected store.Revision, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		if expected != store.NoRevision {
			return store.ErrNotFound
		}
		if s.collections[collection] == nil {
			s.collections[collection] = make(map[string]*document)
		}
		s.collections[collection][id] = &document{revision: 1, fields: cloneFields(fields)}
		s.notifyLocked(collection)
		return nil
	}
	if doc.revision != expected {
		return store.ErrConflict
	}
	doc.revision++
	doc.fields = cloneFields(fields)
	s.notifyLocked(collection)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter) (<-chan []store.Document, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sub := &subscriber{
		collection: collection,
		filter:     filter,
		ch:         make(chan []store.Document, 1),
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	// Initial snapshot so consumers start from current state, not the next write.
	sub.ch <- s.queryLocked(collection, filter)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

// notifyLocked pushes the latest filtered snapshot to every matching
// subscriber, conflating when the consumer has not drained the previous one.
func (s *Store) notifyLocked(collection string) {
	for sub := range s.subscribers {
		if sub.collection != collection {
			continue
		}
		snapshot := s.queryLocked(collection, sub.filter)
		select {
		case sub.ch <- snapshot:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snapshot
		}
	}
}

// DropFeeds closes every active subscription channel without delivering
// anything, simulating a lost connection to the change feed. Subscribers are
// expected to resubscribe. Test hook.
func (s *Store) DropFeeds() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[*subscriber]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
