package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{StatusCreated, StatusPreparing}:   true,
		{StatusCreated, StatusCancelled}:   true,
		{StatusPreparing, StatusPaid}:      true,
		{StatusPreparing, StatusCancelled}: true,
	}

	statuses := []OrderStatus{StatusCreated, StatusPreparing, StatusPaid, StatusCancelled}
	for _, from := range statuses {
		for _, to := range statuses {
			got := CanTransition(from, to)
			want := allowed[[2]OrderStatus{from, to}]
			assert.Equal(t, want, got, "transition %s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCreated.IsOpen())
	assert.True(t, StatusPreparing.IsOpen())
	assert.False(t, StatusPaid.IsOpen())
	assert.False(t, StatusCancelled.IsOpen())

	assert.True(t, StatusPaid.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusCreated.IsTerminal())
	assert.False(t, StatusPreparing.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input string
		want  OrderStatus
		ok    bool
	}{
		{"CREATED", StatusCreated, true},
		{"PREPARING", StatusPreparing, true},
		{"PAID", StatusPaid, true},
		{"CANCELLED", StatusCancelled, true},
		{"created", "", false},
		{"DONE", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseStatus(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestOrderMergeCart(t *testing.T) {
	order := &Order{
		TableNumber: 7,
		Status:      StatusCreated,
		Items: []LineItem{
			{CatalogItemID: "A", DisplayName: "Carbonara", UnitPrice: 1200, Quantity: 1},
			{CatalogItemID: "B", DisplayName: "Tiramisu", UnitPrice: 600, Quantity: 3},
		},
	}

	var cart Cart
	cart.AddItem(LineItem{CatalogItemID: "A", DisplayName: "Carbonara", UnitPrice: 1200, Quantity: 2})
	order.MergeCart(cart, 100)

	assert.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 3, order.Items[1].Quantity)
	// 3*1200 + 3*600 + fee.
	assert.Equal(t, int64(3600+1800+100), order.Total)
}

func TestOrderMergeCartAppendsNewItems(t *testing.T) {
	order := &Order{
		Status: StatusCreated,
		Items:  []LineItem{{CatalogItemID: "A", UnitPrice: 500, Quantity: 1}},
	}

	var cart Cart
	cart.AddItem(LineItem{CatalogItemID: "C", DisplayName: "Espresso", UnitPrice: 250, Quantity: 2})
	order.MergeCart(cart, 0)

	assert.Len(t, order.Items, 2)
	assert.Equal(t, "C", order.Items[1].CatalogItemID)
	assert.Equal(t, int64(500+500), order.Total)
}

func TestNewOrder(t *testing.T) {
	var cart Cart
	cart.AddItem(LineItem{CatalogItemID: "A", UnitPrice: 900, Quantity: 2})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	order := NewOrder(cart, 4, "user-1", 50, now)

	assert.Equal(t, StatusCreated, order.Status)
	assert.Equal(t, 4, order.TableNumber)
	assert.Equal(t, "user-1", order.OwnerUserID)
	assert.Equal(t, now, order.CreatedAt)
	assert.Equal(t, int64(1850), order.Total)
	assert.True(t, order.IsOpen())

	// The order owns its item slice; the cart can be reused safely.
	cart.AddItem(LineItem{CatalogItemID: "B", UnitPrice: 100, Quantity: 1})
	assert.Len(t, order.Items, 1)
}
