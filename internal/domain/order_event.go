package domain

import "time"

const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderEvent struct {
	OrderID     string      `json:"orderId"`
	TableNumber int         `json:"tableNumber"`
	Total       int64       `json:"total"`
	Status      OrderStatus `json:"status"`
	OccurredAt  time.Time   `json:"occurredAt"`
}
