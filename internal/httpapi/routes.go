package httpapi

import (
	"crm-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RouteOptions carries the middleware the API groups are mounted behind.
type RouteOptions struct {
	Gate *rbac.Gate
	// Authenticate verifies the bearer token and puts the identity in context.
	Authenticate gin.HandlerFunc
	// AuditLimiter throttles audit reads and exports; nil disables it.
	AuditLimiter *OrganizationLimiter
	// DevTokens exposes POST /v1/auth/token, which skips credentials.
	DevTokens bool
}

// Register mounts the /v1 API on r.
func Register(r gin.IRouter, h Handlers, opts RouteOptions) {
	v1 := r.Group("/v1")
	v1.Use(RequestMeta())

	authGroup := v1.Group("/auth")
	{
		if opts.DevTokens {
			authGroup.POST("/token", h.IssueToken)
		}
		authGroup.POST("/refresh", h.Refresh)
	}

	api := v1.Group("")
	api.Use(opts.Authenticate, rbac.RequireOrganization(), rbac.LoadPrincipal(h.Members))

	logs := api.Group("/audit-logs")
	if opts.AuditLimiter != nil {
		logs.Use(opts.AuditLimiter.Middleware())
	}
	logs.Use(rbac.RequireCapability(opts.Gate, rbac.AreaAuditLogs, rbac.ActionView))
	{
		logs.GET("", h.ListAuditLogs)
		logs.GET("/filters", h.AuditFilters)
		logs.GET("/export", h.ExportAuditLogs)
	}

	// Team and lead capability checks happen in the services, after the
	// target is loaded, so missing records answer 404 before any denial.
	members := api.Group("/team")
	{
		members.POST("", h.InviteMember)
		members.GET("/:id", h.GetMember)
		members.PATCH("/:id", h.UpdateMemberProfile)
		members.PATCH("/:id/access", h.UpdateMemberAccess)
		members.DELETE("/:id", h.DeactivateMember)
	}

	leadGroup := api.Group("/leads")
	{
		leadGroup.POST("", h.CreateLead)
		leadGroup.PATCH("/:id", h.UpdateLead)
		leadGroup.POST("/:id/move", h.MoveLead)
		leadGroup.POST("/:id/assign", h.AssignLead)
		leadGroup.DELETE("/:id", h.DeleteLead)
	}
}
