package domain

import "time"

type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusPreparing OrderStatus = "PREPARING"
	StatusPaid      OrderStatus = "PAID"
	StatusCancelled OrderStatus = "CANCELLED"
)

// ParseStatus maps a wire-level status name to an OrderStatus.
func ParseStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case StatusCreated, StatusPreparing, StatusPaid, StatusCancelled:
		return OrderStatus(s), true
	default:
		return "", false
	}
}

// IsOpen reports whether an order in this status still accepts items and
// status changes. PAID and CANCELLED are terminal.
func (s OrderStatus) IsOpen() bool {
	return s == StatusCreated || s == StatusPreparing
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// transitions is the full status graph. Requesting the current status again is
// not a no-op success; callers must check current status before retrying.
var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether target is an outgoing edge from current.
func CanTransition(current, target OrderStatus) bool {
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Order is the persisted unit of work. The store assigns ID on creation; it is
// never reassigned. Total is always derived from Items, never set directly.
type Order struct {
	ID          string      `json:"-"`
	TableNumber int         `json:"tableNumber"`
	Items       []LineItem  `json:"items"`
	Total       int64       `json:"total"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	OwnerUserID string      `json:"ownerUserId"`
}

func (o *Order) IsOpen() bool {
	return o.Status.IsOpen()
}

// MergeCart folds the cart's items into the order, summing quantities for
// catalog items already present and appending the rest, then recomputes the
// total with the given fee.
func (o *Order) MergeCart(cart Cart, serviceFee int64) {
	for _, incoming := range cart.Items {
		merged := false
		for i := range o.Items {
			if o.Items[i].CatalogItemID == incoming.CatalogItemID {
				o.Items[i].Quantity += incoming.Quantity
				merged = true
				break
			}
		}
		if !merged {
			o.Items = append(o.Items, incoming)
		}
	}
	o.RecomputeTotal(serviceFee)
}

// RecomputeTotal derives Total from the line items plus the fixed fee.
func (o *Order) RecomputeTotal(serviceFee int64) {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	o.Total = total + serviceFee
}

// NewOrder builds an unpersisted order in CREATED status from a cart.
func NewOrder(cart Cart, tableNumber int, ownerUserID string, serviceFee int64, now time.Time) *Order {
	o := &Order{
		TableNumber: tableNumber,
		Items:       append([]LineItem(nil), cart.Items...),
		Status:      StatusCreated,
		CreatedAt:   now,
		OwnerUserID: ownerUserID,
	}
	o.RecomputeTotal(serviceFee)
	return o
}
