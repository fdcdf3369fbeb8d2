package rbac

import (
	"context"
	"errors"
	"net/http"

	"crm-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// PrincipalLoader loads the current state of a member. Implementations must
// return an error wrapping ErrForbidden for members that are unknown to the
// organization or inactive.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, organizationID, memberID string) (Principal, error)
}

// RequireOrganization enforces the multi-tenant invariant: organization_id
// must exist in context.
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := auth.OrganizationID(c.Request.Context())
		if err != nil || oid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}
		c.Next()
	}
}

// LoadPrincipal resolves the authenticated member from storage on every
// request, so role and permission changes apply immediately.
func LoadPrincipal(loader PrincipalLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		mid, err := auth.MemberID(ctx)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		oid, err := auth.OrganizationID(ctx)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}

		p, err := loader.LoadPrincipal(ctx, oid, mid)
		if err != nil {
			if errors.Is(err, ErrForbidden) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(ctx, p))
		c.Set("principal", p)
		c.Next()
	}
}

// RequireCapability allows the request only if the loaded principal holds
// (area, action). Use it after LoadPrincipal.
func RequireCapability(g *Gate, area Area, action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		err := g.Authorize(c.Request.Context(), p, area, action)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
		case errors.Is(err, ErrAuthenticationMissing):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		default:
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}
