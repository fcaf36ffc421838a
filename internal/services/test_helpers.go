package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"table-order-service/internal/domain"
	"table-order-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder(id string, tableNumber int, status domain.OrderStatus, items ...domain.LineItem) *domain.Order {
	o := &domain.Order{
		ID:          id,
		TableNumber: tableNumber,
		Items:       items,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
		OwnerUserID: "user-1",
	}
	o.RecomputeTotal(0)
	return o
}

func mustOrderDoc(t *testing.T, o *domain.Order, rev store.Revision) store.Document {
	t.Helper()
	fields, err := store.EncodeOrder(o)
	if err != nil {
		t.Fatalf("encode order: %v", err)
	}
	return store.Document{ID: o.ID, Revision: rev, Fields: fields}
}

func cartWith(items ...domain.LineItem) domain.Cart {
	var cart domain.Cart
	for _, item := range items {
		cart.AddItem(item)
	}
	return cart
}
