package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"table-order-service/internal/domain"
	"table-order-service/internal/services"
)

type Handler struct {
	lifecycle *services.OrderLifecycle
	liveView  *services.LiveOrderView
}

func NewHandler(lifecycle *services.OrderLifecycle, liveView *services.LiveOrderView) *Handler {
	return &Handler{lifecycle: lifecycle, liveView: liveView}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/orders", h.PlaceOrder)
	r.POST("/orders/:id/status", h.AdvanceStatus)
	r.GET("/tables/:tableNumber/order", h.GetOpenOrder)
	r.GET("/orders/stream", h.StreamOrders)
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID, err := h.lifecycle.PlaceOrUpdateOrder(c.Request.Context(), req.cart(), req.TableNumber, req.UserID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, PlaceOrderResponse{OrderID: orderID})
}

func (h *Handler) AdvanceStatus(c *gin.Context) {
	var req AdvanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, ok := domain.ParseStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + req.Status})
		return
	}

	if err := h.lifecycle.AdvanceStatus(c.Request.Context(), c.Param("id"), target); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) GetOpenOrder(c *gin.Context) {
	tableNumber, err := strconv.Atoi(c.Param("tableNumber"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tableNumber must be an integer"})
		return
	}

	order, err := h.lifecycle.GetOpenOrderForTable(c.Request.Context(), tableNumber)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open order for table"})
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(*order))
}

// StreamOrders serves the live order view as server-sent events. An empty
// user query streams every order (admin); otherwise only that user's orders.
func (h *Handler) StreamOrders(c *gin.Context) {
	sub := h.liveView.Subscribe(c.Request.Context(), services.LiveFilter{OwnerUserID: c.Query("user")})
	defer sub.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return false
			}
			c.SSEvent("orders", toOrderResponses(snapshot))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func statusForError(err error) int {
	var invalidTransition *domain.InvalidTransitionError
	var invariant *domain.InvariantViolationError

	switch {
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrInvalidTable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalidTransition), errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &invariant):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
