package httpapi

import (
	"errors"
	"net/http"

	"crm-platform/internal/audit"
	"crm-platform/internal/leads"
	"crm-platform/internal/rbac"
	"crm-platform/internal/store"
	"crm-platform/internal/team"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError is the single place domain errors become HTTP responses.
// Denials carry nothing but "not authorized".
func writeError(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, rbac.ErrAuthenticationMissing):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, rbac.ErrForbidden):
		return http.StatusForbidden, rbac.ErrForbidden.Error()
	case errors.Is(err, rbac.ErrSelfLockout):
		return http.StatusUnprocessableEntity, rbac.ErrSelfLockout.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "concurrent update, retry the request"
	case errors.Is(err, audit.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid cursor"
	case errors.Is(err, audit.ErrInvalidQuery),
		errors.Is(err, team.ErrInvalidInput),
		errors.Is(err, leads.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	default:
		// Integrity violations and invalid audit entries land here.
		return http.StatusInternalServerError, "internal error"
	}
}
