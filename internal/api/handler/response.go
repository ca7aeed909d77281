package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/hub/internal/domain"
)

// respondError maps a service error onto the wire. Every non-2xx response
// carries the same {error} body; the status comes from the error's kind.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrWithdrawalsLocked):
		status = http.StatusForbidden
	case domain.IsAuthError(err):
		status = http.StatusUnauthorized
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsValidation(err) || domain.IsConflict(err):
		status = http.StatusBadRequest
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// respondBadRequest reports a malformed body or path/query parameter.
func respondBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
