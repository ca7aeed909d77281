package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/service"
)

// LPHandler serves the liquidity-provider surface.
type LPHandler struct {
	lp *service.LPService
}

// NewLPHandler creates an LPHandler.
func NewLPHandler(lp *service.LPService) *LPHandler {
	return &LPHandler{lp: lp}
}

// Deposit handles POST /api/lp/deposit.
func (h *LPHandler) Deposit(c *gin.Context) {
	var req struct {
		Address string          `json:"address" binding:"required"`
		Amount  decimal.Decimal `json:"amount"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	res, err := h.lp.Deposit(c.Request.Context(), req.Address, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"shares":         res.Shares,
		"sharePrice":     res.SharePrice,
		"poolValueAfter": res.PoolValueAfter,
	})
}

// Withdraw handles POST /api/lp/withdraw. While any market or settlement
// session is open the service refuses with ErrWithdrawalsLocked, which maps
// to 403.
func (h *LPHandler) Withdraw(c *gin.Context) {
	var req struct {
		Address string          `json:"address" binding:"required"`
		Shares  decimal.Decimal `json:"shares"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	res, err := h.lp.Withdraw(c.Request.Context(), req.Address, req.Shares)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"amount":         res.Amount,
		"shares":         res.Shares,
		"sharePrice":     res.SharePrice,
		"poolValueAfter": res.PoolValueAfter,
	})
}

// Stats handles GET /api/lp/stats.
func (h *LPHandler) Stats(c *gin.Context) {
	stats, err := h.lp.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Share handles GET /api/lp/share/:address.
func (h *LPHandler) Share(c *gin.Context) {
	share, err := h.lp.GetShare(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, share)
}

// Events handles GET /api/lp/events?address=&limit=.
func (h *LPHandler) Events(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := h.lp.GetEvents(c.Request.Context(), c.Query("address"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
