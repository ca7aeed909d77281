package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/hub/internal/service"
)

// MMHandler exposes the market maker identity and the test-fund faucet.
type MMHandler struct {
	mm *service.MMService
}

// NewMMHandler creates an MMHandler.
func NewMMHandler(mm *service.MMService) *MMHandler {
	return &MMHandler{mm: mm}
}

// Info handles GET /api/mm/info.
func (h *MMHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.mm.Info(c.Request.Context()))
}

// Faucet handles POST /api/faucet: request test funds for an address.
func (h *MMHandler) Faucet(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.mm.Fund(c.Request.Context(), req.Address); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
