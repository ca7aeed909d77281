package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/hub/internal/service"
)

// BetHandler serves LMSR bet placement and position reads.
type BetHandler struct {
	bets *service.BetService
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets *service.BetService) *BetHandler {
	return &BetHandler{bets: bets}
}

// PlaceBet handles POST /api/bet.
//
// A business rejection (market closed, game inactive, unpriceable amount)
// is a 200 with accepted=false: the service has already returned the stake
// through the session close, so from the client's view the bet simply did
// not happen.
func (h *BetHandler) PlaceBet(c *gin.Context) {
	var req service.BetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	resp, err := h.bets.PlaceBet(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetPositions handles GET /api/positions/:address.
func (h *BetHandler) GetPositions(c *gin.Context) {
	positions, err := h.bets.GetPositionsByAddress(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}
