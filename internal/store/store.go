package store

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by ConditionalUpdate when the document's
	// revision no longer matches the one the caller read.
	ErrConflict = errors.New("store: revision conflict")

	// ErrNotFound is returned by ConditionalUpdate when the document does not
	// exist. Get and Query report absence as empty results instead.
	ErrNotFound = errors.New("store: document not found")

	// ErrUnavailable wraps transient backend failures (connection drops,
	// timeouts). Callers may retry.
	ErrUnavailable = errors.New("store: unavailable")
)

// Revision is an opaque optimistic-concurrency token. Every read returns the
// document's current revision and every conditional write requires it.
type Revision int64

// NoRevision is the expected revision of a document that does not exist yet.
// A conditional update expecting NoRevision is an insert-if-absent.
const NoRevision Revision = 0

// Document is a stored record: generated id, revision, and a flat field map.
type Document struct {
	ID       string
	Revision Revision
	Fields   map[string]any
}

// Filter selects documents by a single field equality. The zero Filter
// matches every document in the collection.
type Filter struct {
	Field string
	Value any
}

func (f Filter) Matches(fields map[string]any) bool {
	if f.Field == "" {
		return true
	}
	return equalValue(fields[f.Field], f.Value)
}

// equalValue compares loosely across numeric types, since fields that went
// through a JSON round trip come back as float64.
func equalValue(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Store is the port the order core uses to talk to the backing document
// store. Implementations must provide atomic compare-and-swap on a single
// document; no multi-document transaction is assumed.
//
// Every method may block; callers must not hold locks across calls.
type Store interface {
	// Get returns the document, or (nil, nil) when the id does not resolve.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Query returns all documents whose fields match the filter.
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// Create stores a new document under a generated id and returns the id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)

	// ConditionalUpdate replaces the document's fields only if its current
	// revision equals expected. Expecting NoRevision inserts the document at
	// the given id if and only if it does not exist. Returns ErrConflict when
	// another writer got there first and ErrNotFound when a positive expected
	// revision targets a missing document. The write is atomic: it lands in
	// full or not at all.
	ConditionalUpdate(ctx context.Context, collection, id string, expected Revision, fields map[string]any) error

	// Subscribe emits the full matching document set on every change to the
	// collection, until cancel is called or the feed is lost (channel close).
	// Consumers that need a durable feed resubscribe on close.
	Subscribe(ctx context.Context, collection string, filter Filter) (<-chan []Document, func(), error)
}
