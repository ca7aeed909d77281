package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pitchside/hub/internal/service"
)

// OrderBookHandler serves the P2P limit-order surface.
type OrderBookHandler struct {
	orders *service.OrderBookService
}

// NewOrderBookHandler creates an OrderBookHandler.
func NewOrderBookHandler(orders *service.OrderBookService) *OrderBookHandler {
	return &OrderBookHandler{orders: orders}
}

// PlaceOrder handles POST /api/orderbook/order.
func (h *OrderBookHandler) PlaceOrder(c *gin.Context) {
	var req service.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	resp, err := h.orders.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelOrder handles DELETE /api/orderbook/order/:orderId.
func (h *OrderBookHandler) CancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		respondBadRequest(c, errors.New("invalid order id"))
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// GetDepth handles GET /api/orderbook/depth/:marketId.
func (h *OrderBookHandler) GetDepth(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("marketId"))
	if err != nil {
		respondBadRequest(c, errors.New("invalid market id"))
		return
	}

	depth, err := h.orders.GetDepth(c.Request.Context(), marketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, depth)
}

// GetOrders handles GET /api/orderbook/orders/:address?marketId=….
func (h *OrderBookHandler) GetOrders(c *gin.Context) {
	var marketID *uuid.UUID
	if raw := c.Query("marketId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondBadRequest(c, errors.New("invalid marketId"))
			return
		}
		marketID = &id
	}

	orders, err := h.orders.GetOrdersByAddress(c.Request.Context(), c.Param("address"), marketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
