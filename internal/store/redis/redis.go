// Package redis backs the store port with Redis: documents as JSON values,
// a per-collection id index set, compare-and-swap via WATCH transactions and
// a change feed via pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"table-order-service/internal/store"
)

type envelope struct {
	Revision store.Revision `json:"revision"`
	Fields   map[string]any `json:"fields"`
}

type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func docKey(collection, id string) string {
	return "doc:" + collection + ":" + id
}

func indexKey(collection string) string {
	return "idx:" + collection
}

func changeChannel(collection string) string {
	return "changes:" + collection
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	raw, err := s.client.Get(ctx, docKey(collection, id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decodeDocument(id, []byte(raw))
}

func (s *Store) Query(ctx context.Context, collection string, filter store.Filter) ([]store.Document, error) {
	ids, err := s.client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, unavailable("query index", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("query documents", err)
	}

	var out []store.Document
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Index entry without a document; nothing to report.
			continue
		}
		doc, err := decodeDocument(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc.Fields) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	body, err := json.Marshal(envelope{Revision: 1, Fields: fields})
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(collection, id), body, 0)
		pipe.SAdd(ctx, indexKey(collection), id)
		return nil
	})
	if err != nil {
		return "", unavailable("create", err)
	}

	s.client.Publish(ctx, changeChannel(collection), id)
	return id, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, collection, id string, expected store.Revision, fields map[string]any) error {
	key := docKey(collection, id)

	txf := func(tx *redis.Tx) error {
		current := store.NoRevision
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			if expected != store.NoRevision {
				return store.ErrNotFound
			}
		case err != nil:
			return err
		default:
			var env envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				return fmt.Errorf("decode document %s: %w", id, err)
			}
			current = env.Revision
		}
		if current != expected {
			return store.ErrConflict
		}

		body, err := json.Marshal(envelope{Revision: current + 1, Fields: fields})
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.SAdd(ctx, indexKey(collection), id)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		s.client.Publish(ctx, changeChannel(collection), id)
		return nil
	case errors.Is(err, redis.TxFailedErr):
		// The watched key changed mid-transaction: same outcome as a stale
		// revision.
		return store.ErrConflict
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		return err
	default:
		return unavailable("conditional update", err)
	}
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter) (<-chan []store.Document, func(), error) {
	ps := s.client.Subscribe(ctx, changeChannel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, unavailable("subscribe", err)
	}

	out := make(chan []store.Document, 1)
	go func() {
		defer close(out)
		s.emitSnapshot(ctx, collection, filter, out)
		for range ps.Channel() {
			s.emitSnapshot(ctx, collection, filter, out)
		}
	}()

	cancel := func() { ps.Close() }
	return out, cancel, nil
}

func (s *Store) emitSnapshot(ctx context.Context, collection string, filter store.Filter, out chan []store.Document) {
	docs, err := s.Query(ctx, collection, filter)
	if err != nil {
		// A failed refresh is skipped; the next change triggers another.
		return
	}
	select {
	case out <- docs:
	default:
		select {
		case <-out:
		default:
		}
		select {
		case out <- docs:
		default:
		}
	}
}

func decodeDocument(id string, raw []byte) (*store.Document, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return &store.Document{ID: id, Revision: env.Revision, Fields: env.Fields}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", store.ErrUnavailable, op, err)
}
