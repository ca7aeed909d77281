package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pitchside/hub/internal/service"
)

// OracleHandler serves the game-controller surface: the kill-switch, game
// lifecycle, market lifecycle, and outcome reporting. The whole group sits
// behind the admin token.
type OracleHandler struct {
	games      *service.GameService
	markets    *service.MarketService
	resolution *service.ResolutionService
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(
	games *service.GameService,
	markets *service.MarketService,
	resolution *service.ResolutionService,
) *OracleHandler {
	return &OracleHandler{games: games, markets: markets, resolution: resolution}
}

// SetGameState handles POST /api/oracle/game-state, the kill-switch.
func (h *OracleHandler) SetGameState(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.games.SetGameActive(c.Request.Context(), *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active": *req.Active})
}

// CreateGame handles POST /api/oracle/game.
func (h *OracleHandler) CreateGame(c *gin.Context) {
	var req struct {
		SportID    string `json:"sportId"    binding:"required"`
		HomeTeamID string `json:"homeTeamId" binding:"required"`
		AwayTeamID string `json:"awayTeamId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	game, err := h.games.CreateGame(c.Request.Context(), req.SportID, req.HomeTeamID, req.AwayTeamID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "game": game})
}

// ActivateGame handles POST /api/oracle/game/activate.
func (h *OracleHandler) ActivateGame(c *gin.Context) {
	id, ok := h.bindGameID(c)
	if !ok {
		return
	}
	if err := h.games.ActivateGame(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CompleteGame handles POST /api/oracle/game/complete.
func (h *OracleHandler) CompleteGame(c *gin.Context) {
	id, ok := h.bindGameID(c)
	if !ok {
		return
	}
	if err := h.games.CompleteGame(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// OpenMarket handles POST /api/oracle/market/open: it creates the market for
// the pair and immediately opens it for trading. An optional b overrides the
// pool-derived liquidity.
func (h *OracleHandler) OpenMarket(c *gin.Context) {
	var req struct {
		GameID     uuid.UUID `json:"gameId"     binding:"required"`
		CategoryID string    `json:"categoryId" binding:"required"`
		B          *float64  `json:"b"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	market, err := h.markets.CreateMarket(c.Request.Context(), req.GameID, req.CategoryID, req.B)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.markets.OpenMarket(c.Request.Context(), market.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "marketId": market.ID})
}

// CloseMarket handles POST /api/oracle/market/close. With no body filters it
// closes the most recent live market; gameId+categoryId target a pair.
func (h *OracleHandler) CloseMarket(c *gin.Context) {
	gameID, categoryID, ok := h.bindPairFilter(c)
	if !ok {
		return
	}

	market, err := h.markets.GetCurrentMarket(c.Request.Context(), gameID, categoryID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.markets.CloseMarket(c.Request.Context(), market.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "marketId": market.ID})
}

// Outcome handles POST /api/oracle/outcome: the oracle reports the winning
// outcome and the hub settles the market.
func (h *OracleHandler) Outcome(c *gin.Context) {
	var req struct {
		Outcome    string     `json:"outcome" binding:"required"`
		GameID     *uuid.UUID `json:"gameId"`
		CategoryID *string    `json:"categoryId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	market, err := h.markets.GetCurrentMarket(c.Request.Context(), req.GameID, req.CategoryID)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.resolution.ResolveMarket(c.Request.Context(), market.ID, req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"marketId":    result.MarketID,
		"outcome":     result.Outcome,
		"winners":     result.Winners,
		"losers":      result.Losers,
		"totalPayout": result.TotalPayout,
	})
}

// bindGameID reads the {gameId} body shared by the game lifecycle endpoints.
func (h *OracleHandler) bindGameID(c *gin.Context) (uuid.UUID, bool) {
	var req struct {
		GameID uuid.UUID `json:"gameId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return uuid.Nil, false
	}
	if req.GameID == uuid.Nil {
		respondBadRequest(c, errors.New("gameId must be set"))
		return uuid.Nil, false
	}
	return req.GameID, true
}

// bindPairFilter reads the optional {gameId, categoryId} body used by the
// market close endpoint. A missing body selects the global current market.
func (h *OracleHandler) bindPairFilter(c *gin.Context) (*uuid.UUID, *string, bool) {
	var req struct {
		GameID     *uuid.UUID `json:"gameId"`
		CategoryID *string    `json:"categoryId"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return nil, nil, false
		}
	}
	return req.GameID, req.CategoryID, true
}
