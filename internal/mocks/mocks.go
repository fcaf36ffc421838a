package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"table-order-service/internal/store"
)

type MockStore struct {
	mock.Mock
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, data any) error {
	args := m.Called(ctx, routingKey, data)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	args := m.Called(ctx, collection, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Document), args.Error(1)
}

func (m *MockStore) Query(ctx context.Context, collection string, filter store.Filter) ([]store.Document, error) {
	args := m.Called(ctx, collection, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Document), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	args := m.Called(ctx, collection, fields)
	return args.String(0), args.Error(1)
}

func (m *MockStore) ConditionalUpdate(ctx context.Context, collection, id string, expected store.Revision, fields map[string]any) error {
	args := m.Called(ctx, collection, id, expected, fields)
	return args.Error(0)
}

func (m *MockStore) Subscribe(ctx context.Context, collection string, filter store.Filter) (<-chan []store.Document, func(), error) {
	args := m.Called(ctx, collection, filter)
	var ch <-chan []store.Document
	if args.Get(0) != nil {
		ch = args.Get(0).(<-chan []store.Document)
	}
	var cancel func()
	if args.Get(1) != nil {
		cancel = args.Get(1).(func())
	}
	return ch, cancel, args.Error(2)
}
