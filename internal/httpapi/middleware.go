package httpapi

import (
	"net/http"
	"sync"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RequestMeta attaches the client IP and user agent to the request context so
// audit entries written while serving the request carry them.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithRequestMeta(c.Request.Context(), audit.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OrganizationLimiter hands out one token bucket per organization. A
// non-positive rate disables limiting.
type OrganizationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewOrganizationLimiter(rps float64, burst int) *OrganizationLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &OrganizationLimiter{
		limiters: map[string]*rate.Limiter{},
		rps:      limit,
		burst:    burst,
	}
}

func (l *OrganizationLimiter) get(organizationID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[organizationID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[organizationID] = lim
	}
	return lim
}

// Middleware rejects requests beyond the organization's budget with 429.
// Use it after authentication.
func (l *OrganizationLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := auth.OrganizationID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
			return
		}
		if !l.get(oid).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
