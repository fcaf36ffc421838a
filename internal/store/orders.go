package store

import (
	"encoding/json"
	"fmt"

	"table-order-service/internal/domain"
)

// CollectionOrders is the collection all order documents live in.
const CollectionOrders = "orders"

// CollectionTables holds one slot document per table (id = table number).
// The slot points at the table's current order and serializes order creation:
// an order document only comes into existence after an exclusive
// compare-and-swap claim of its table's slot.
const CollectionTables = "tables"

// Slot document fields.
const (
	FieldOpenOrderID = "openOrderId"
	FieldClaimedAt   = "claimedAt"
)

// Logical field names used in query filters. They must match the Order json
// tags, since the codec below goes through that encoding.
const (
	FieldTableNumber = "tableNumber"
	FieldOwnerUserID = "ownerUserId"
	FieldStatus      = "status"
)

// EncodeOrder flattens an order into a document field map. The id is carried
// by the document, not the fields.
func EncodeOrder(o *domain.Order) (map[string]any, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	return fields, nil
}

// DecodeOrder rebuilds an order from a stored document.
func DecodeOrder(doc Document) (*domain.Order, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", doc.ID, err)
	}
	var o domain.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", doc.ID, err)
	}
	o.ID = doc.ID
	return &o, nil
}
