package http

import (
	"time"

	"table-order-service/internal/domain"
)

type LineItemPayload struct {
	CatalogItemID string `json:"catalogItemId" binding:"required"`
	DisplayName   string `json:"displayName"`
	UnitPrice     int64  `json:"unitPrice" binding:"min=0"`
	Quantity      int    `json:"quantity" binding:"required,min=1"`
}

type PlaceOrderRequest struct {
	TableNumber int               `json:"tableNumber" binding:"required,min=1"`
	UserID      string            `json:"userId" binding:"required"`
	Items       []LineItemPayload `json:"items"`
}

func (r PlaceOrderRequest) cart() domain.Cart {
	var cart domain.Cart
	for _, item := range r.Items {
		cart.AddItem(domain.LineItem{
			CatalogItemID: item.CatalogItemID,
			DisplayName:   item.DisplayName,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
		})
	}
	return cart
}

type PlaceOrderResponse struct {
	OrderID string `json:"orderId"`
}

type AdvanceStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type OrderResponse struct {
	ID          string            `json:"id"`
	TableNumber int               `json:"tableNumber"`
	Items       []domain.LineItem `json:"items"`
	Total       int64             `json:"total"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	OwnerUserID string            `json:"ownerUserId"`
}

func toOrderResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		TableNumber: o.TableNumber,
		Items:       o.Items,
		Total:       o.Total,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		OwnerUserID: o.OwnerUserID,
	}
}

func toOrderResponses(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	return out
}
