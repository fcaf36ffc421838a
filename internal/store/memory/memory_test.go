package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"table-order-service/internal/store"
)

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, "orders", map[string]any{"tableNumber": 5, "status": "CREATED"})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := s.Get(ctx, "orders", id)
	assert.NoError(t, err)
	if assert.NotNil(t, doc) {
		assert.Equal(t, store.Revision(1), doc.Revision)
		assert.Equal(t, "CREATED", doc.Fields["status"])
	}

	missing, err := s.Get(ctx, "orders", "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConditionalUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, "orders", map[string]any{"status": "CREATED"})
	assert.NoError(t, err)

	err = s.ConditionalUpdate(ctx, "orders", id, 1, map[string]any{"status": "PREPARING"})
	assert.NoError(t, err)

	// The old revision is now stale.
	err = s.ConditionalUpdate(ctx, "orders", id, 1, map[string]any{"status": "PAID"})
	assert.ErrorIs(t, err, store.ErrConflict)

	doc, err := s.Get(ctx, "orders", id)
	assert.NoError(t, err)
	assert.Equal(t, store.Revision(2), doc.Revision)
	assert.Equal(t, "PREPARING", doc.Fields["status"])
}

func TestConditionalUpdate_InsertIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.ConditionalUpdate(ctx, "tables", "5", store.NoRevision, map[string]any{"openOrderId": "a"})
	assert.NoError(t, err)

	// A second insert at the same id loses.
	err = s.ConditionalUpdate(ctx, "tables", "5", store.NoRevision, map[string]any{"openOrderId": "b"})
	assert.ErrorIs(t, err, store.ErrConflict)

	// A positive expected revision on a missing document is not-found, not a
	// conflict.
	err = s.ConditionalUpdate(ctx, "tables", "9", 3, map[string]any{"openOrderId": "c"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueryFiltering(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "orders", map[string]any{"tableNumber": 5, "owner": "alice"})
	assert.NoError(t, err)
	_, err = s.Create(ctx, "orders", map[string]any{"tableNumber": 6, "owner": "bob"})
	assert.NoError(t, err)

	all, err := s.Query(ctx, "orders", store.Filter{})
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	table5, err := s.Query(ctx, "orders", store.Filter{Field: "tableNumber", Value: 5})
	assert.NoError(t, err)
	assert.Len(t, table5, 1)
	assert.Equal(t, "alice", table5[0].Fields["owner"])

	none, err := s.Query(ctx, "orders", store.Filter{Field: "tableNumber", Value: 7})
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryMatchesAcrossNumericTypes(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Fields that went through JSON land as float64; int filters must still
	// match them.
	_, err := s.Create(ctx, "orders", map[string]any{"tableNumber": float64(5)})
	assert.NoError(t, err)

	docs, err := s.Query(ctx, "orders", store.Filter{Field: "tableNumber", Value: 5})
	assert.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, "orders", store.Filter{Field: "tableNumber", Value: 5})
	assert.NoError(t, err)
	defer cancel()

	// Initial snapshot is the current (empty) state.
	assert.Empty(t, nextSnapshot(t, ch))

	_, err = s.Create(ctx, "orders", map[string]any{"tableNumber": 5})
	assert.NoError(t, err)
	assert.Len(t, nextSnapshot(t, ch), 1)

	// A non-matching write still triggers a snapshot of the filtered set.
	_, err = s.Create(ctx, "orders", map[string]any{"tableNumber": 6})
	assert.NoError(t, err)
	assert.Len(t, nextSnapshot(t, ch), 1)
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, "orders", store.Filter{})
	assert.NoError(t, err)

	cancel()
	// Cancel twice is safe.
	cancel()

	for {
		if _, ok := <-ch; !ok {
			return
		}
	}
}

func TestDropFeedsClosesChannels(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, "orders", store.Filter{})
	assert.NoError(t, err)
	defer cancel()

	s.DropFeeds()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after DropFeeds")
		}
	}
}

func TestDocumentsAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	fields := map[string]any{"items": []any{map[string]any{"qty": 1}}}
	id, err := s.Create(ctx, "orders", fields)
	assert.NoError(t, err)

	// Mutating what the caller handed in or got back must not leak into the
	// stored document.
	fields["items"] = nil
	doc, err := s.Get(ctx, "orders", id)
	assert.NoError(t, err)
	doc.Fields["extra"] = true

	again, err := s.Get(ctx, "orders", id)
	assert.NoError(t, err)
	assert.NotContains(t, again.Fields, "extra")
	assert.Len(t, again.Fields["items"], 1)
}

func nextSnapshot(t *testing.T, ch <-chan []store.Document) []store.Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
