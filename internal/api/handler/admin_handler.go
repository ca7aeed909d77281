package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/hub/internal/service"
)

// AdminHandler serves the back-office surface: login, the state dashboard,
// the full reset, and runtime config tuning.
type AdminHandler struct {
	auth  *service.AuthService
	admin *service.AdminService
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(auth *service.AuthService, admin *service.AdminService) *AdminHandler {
	return &AdminHandler{auth: auth, admin: admin}
}

// Login handles POST /api/admin/login. It trades the shared admin secret for
// a bearer token; this is the only admin route outside the auth middleware.
func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Secret string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	token, expiresAt, err := h.auth.Login(req.Secret)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

// State handles GET /api/admin/state.
func (h *AdminHandler) State(c *gin.Context) {
	state, err := h.admin.GetState(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Reset handles POST /api/admin/reset: wipe all game data and reseed.
func (h *AdminHandler) Reset(c *gin.Context) {
	if err := h.admin.Reset(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetConfig handles GET /api/admin/config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	snap := h.admin.GetConfig()
	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"transactionFeePercent": snap.TransactionFeePercent,
		"lmsrSensitivityFactor": snap.LMSRSensitivityFactor,
	})
}

// UpdateConfig handles POST /api/admin/config. Both knobs are optional;
// omitted fields keep their current value.
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var req service.ConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	snap, err := h.admin.UpdateConfig(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"transactionFeePercent": snap.TransactionFeePercent,
		"lmsrSensitivityFactor": snap.LMSRSensitivityFactor,
	})
}
