// Package mysql backs the store port with a single MySQL documents table via
// GORM. Optimistic concurrency rides on a revision column; the change feed is
// an in-process fanout fed by this adapter's own writes, which is sufficient
// while the lifecycle manager is the only writer in the deployment.
package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"table-order-service/internal/store"
)

type documentRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Collection string `gorm:"size:64;not null;uniqueIndex:idx_collection_doc"`
	DocID      string `gorm:"size:64;not null;uniqueIndex:idx_collection_doc;column:doc_id"`
	Revision   int64  `gorm:"not null"`
	Data       []byte `gorm:"type:json;not null"`
}

func (documentRow) TableName() string { return "documents" }

type subscriber struct {
	collection string
	filter     store.Filter
	ch         chan []store.Document
	closeOnce  sync.Once
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() { close(sub.ch) })
}

type Store struct {
	db *gorm.DB

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return &Store{
		db:          db,
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// OpenFromEnv connects using the MYSQL_* environment variables.
func OpenFromEnv() (*gorm.DB, error) {
	user := os.Getenv("MYSQL_USER")
	pass := os.Getenv("MYSQL_PASSWORD")
	host := os.Getenv("MYSQL_HOST")
	port := os.Getenv("MYSQL_PORT")
	dbname := os.Getenv("MYSQL_DATABASE")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, pass, host, port, dbname)
	return gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return rowToDocument(row)
}

func (s *Store) Query(ctx context.Context, collection string, filter store.Filter) ([]store.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("query", err)
	}

	var out []store.Document
	for _, row := range rows {
		doc, err := rowToDocument(row)
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
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	row := documentRow{Collection: collection, DocID: id, Revision: 1, Data: data}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", unavailable("create", err)
	}
	s.notify(collection)
	return id, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, collection, id string, expected store.Revision, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	if expected == store.NoRevision {
		row := documentRow{Collection: collection, DocID: id, Revision: 1, Data: data}
		err := s.db.WithContext(ctx).Create(&row).Error
		switch {
		case err == nil:
			s.notify(collection)
			return nil
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return store.ErrConflict
		default:
			return unavailable("insert", err)
		}
	}

	res := s.db.WithContext(ctx).
		Model(&documentRow{}).
		Where("collection = ? AND doc_id = ? AND revision = ?", collection, id, int64(expected)).
		Updates(map[string]any{
			"data":     data,
			"revision": gorm.Expr("revision + 1"),
		})
	if res.Error != nil {
		return unavailable("update", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		err := s.db.WithContext(ctx).
			Model(&documentRow{}).
			Where("collection = ? AND doc_id = ?", collection, id).
			Count(&count).Error
		if err != nil {
			return unavailable("update", err)
		}
		if count == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	s.notify(collection)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter) (<-chan []store.Document, func(), error) {
	snapshot, err := s.Query(ctx, collection, filter)
	if err != nil {
		return nil, nil, err
	}

	sub := &subscriber{
		collection: collection,
		filter:     filter,
		ch:         make(chan []store.Document, 1),
	}
	sub.ch <- snapshot

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		if sub.collection == collection {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		snapshot, err := s.Query(context.Background(), collection, sub.filter)
		if err != nil {
			continue
		}
		// Deliver under the lock so a concurrent cancel cannot close the
		// channel mid-send.
		s.mu.Lock()
		if _, active := s.subscribers[sub]; active {
			select {
			case sub.ch <- snapshot:
			default:
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- snapshot:
				default:
				}
			}
		}
		s.mu.Unlock()
	}
}

func rowToDocument(row documentRow) (*store.Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(row.Data, &fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", row.DocID, err)
	}
	return &store.Document{ID: row.DocID, Revision: store.Revision(row.Revision), Fields: fields}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: mysql %s: %v", store.ErrUnavailable, op, err)
}
