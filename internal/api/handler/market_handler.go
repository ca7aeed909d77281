package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/service"
)

// MarketHandler serves market reads.
type MarketHandler struct {
	markets *service.MarketService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets *service.MarketService) *MarketHandler {
	return &MarketHandler{markets: markets}
}

// GetCurrent handles GET /api/market. Optional gameId and categoryId query
// parameters select a specific pair; without them the most recent live
// market is returned.
func (h *MarketHandler) GetCurrent(c *gin.Context) {
	var gameID *uuid.UUID
	if raw := c.Query("gameId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondBadRequest(c, errors.New("invalid gameId"))
			return
		}
		gameID = &id
	}
	var categoryID *string
	if raw := c.Query("categoryId"); raw != "" {
		categoryID = &raw
	}

	market, err := h.markets.GetCurrentMarket(c.Request.Context(), gameID, categoryID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondMarket(c, market)
}

// GetByID handles GET /api/market/:id.
func (h *MarketHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, errors.New("invalid market id"))
		return
	}

	market, err := h.markets.GetMarket(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondMarket(c, market)
}

// List handles GET /api/markets?status=&limit=&offset=.
func (h *MarketHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	markets, total, err := h.markets.ListMarkets(c.Request.Context(), limit, offset, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"markets": markets,
		"total":   total,
	})
}

// respondMarket writes the {market, prices, outcomes} read contract.
func (h *MarketHandler) respondMarket(c *gin.Context, m *domain.Market) {
	summary, err := h.markets.Summary(c.Request.Context(), m)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"market":   summary,
		"prices":   summary.Prices,
		"outcomes": summary.Outcomes,
	})
}
