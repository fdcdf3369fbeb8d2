package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/leads"
	"crm-platform/internal/rbac"
	"crm-platform/internal/team"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// exportMaxRows bounds one CSV export.
const exportMaxRows = 10000

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Members rbac.PrincipalLoader
	Audit   *audit.QueryService
	Team    *team.Service
	Leads   *leads.Service

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type tokenRequest struct {
	MemberID       string `json:"member_id"`
	OrganizationID string `json:"organization_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// IssueToken mints a token pair for an active member.
//
// NOTE: credentials are not checked here; only register this route outside
// production or behind an identity provider.
func (h Handlers) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.MemberID == "" || req.OrganizationID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "member_id and organization_id required"})
		return
	}
	if _, err := h.Members.LoadPrincipal(c.Request.Context(), req.OrganizationID, req.MemberID); err != nil {
		writeError(c, err)
		return
	}
	h.writePair(c, req.MemberID, req.OrganizationID)
}

// Refresh exchanges a refresh token for a new pair, provided the member is
// still active.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, h.now())
	if err != nil {
		logger.FromGin(c).Debug("refresh token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if _, err := h.Members.LoadPrincipal(c.Request.Context(), claims.OrganizationID, claims.MemberID); err != nil {
		writeError(c, err)
		return
	}
	h.writePair(c, claims.MemberID, claims.OrganizationID)
}

func (h Handlers) writePair(c *gin.Context, memberID, organizationID string) {
	pair, err := h.Auth.IssuePair(h.now(), memberID, organizationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Audit logs ---

// ListAuditLogs serves one page of the caller's organization log.
// RBAC: auditLogs.view (route middleware).
func (h Handlers) ListAuditLogs(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	f, err := parseFilters(c)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := optionalQueryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}

	page, err := h.Audit.List(c.Request.Context(), p.OrganizationID, f, c.Query("cursor"), int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// AuditFilters lists the filter values present in the organization's log.
func (h Handlers) AuditFilters(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	opts, err := h.Audit.AvailableFilters(c.Request.Context(), p.OrganizationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}

// ExportAuditLogs streams matching entries as CSV.
func (h Handlers) ExportAuditLogs(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	f, err := parseFilters(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.Audit.CheckExport(p.OrganizationID, f); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, audit.ExportFilename(p.OrganizationID, h.now())))
	c.Status(http.StatusOK)
	n, err := h.Audit.Export(c.Request.Context(), p.OrganizationID, f, c.Writer, exportMaxRows)
	if err == nil {
		return
	}
	if !c.Writer.Written() {
		// Nothing streamed yet: answer with a regular error instead.
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		writeError(c, err)
		return
	}
	_ = c.Error(err)
	logger.FromGin(c).Error("audit export truncated", "rows", n, "err", err)
}

func parseFilters(c *gin.Context) (audit.Filters, error) {
	f := audit.Filters{
		Severity:   audit.Severity(c.Query("severity")),
		EntityType: audit.EntityType(c.Query("entity_type")),
		Action:     audit.Action(c.Query("action")),
		ActorID:    c.Query("actor_id"),
	}
	var err error
	if f.StartDate, err = optionalQueryInt(c, "start_date"); err != nil {
		return audit.Filters{}, err
	}
	if f.EndDate, err = optionalQueryInt(c, "end_date"); err != nil {
		return audit.Filters{}, err
	}
	return f, nil
}

func optionalQueryInt(c *gin.Context, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", audit.ErrInvalidQuery, key)
	}
	return n, nil
}

// --- Team ---

func (h Handlers) GetMember(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	m, err := h.Team.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) InviteMember(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req team.InviteInput
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.Team.Invite(c.Request.Context(), p, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h Handlers) UpdateMemberProfile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req team.ProfilePatch
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.Team.UpdateProfile(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// UpdateMemberAccess changes role and permissions.
// RBAC: team.manage (checked by the service, which also guards self-lockout).
func (h Handlers) UpdateMemberAccess(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req team.AccessChange
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.Team.UpdateAccess(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) DeactivateMember(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	m, err := h.Team.Deactivate(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- Leads ---

func (h Handlers) CreateLead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req leads.CreateInput
	if !bindJSON(c, &req) {
		return
	}
	l, err := h.Leads.Create(c.Request.Context(), p, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h Handlers) UpdateLead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req leads.Patch
	if !bindJSON(c, &req) {
		return
	}
	l, err := h.Leads.Update(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

type moveRequest struct {
	StageID string `json:"stage_id"`
}

func (h Handlers) MoveLead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req moveRequest
	if !bindJSON(c, &req) {
		return
	}
	l, err := h.Leads.Move(c.Request.Context(), p, c.Param("id"), req.StageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (h Handlers) AssignLead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	l, err := h.Leads.Assign(c.Request.Context(), p, c.Param("id"), req.AssigneeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h Handlers) DeleteLead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.Leads.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// principal returns the member loaded by rbac.LoadPrincipal, aborting with
// 401 when the route was mounted without it.
func principal(c *gin.Context) (rbac.Principal, bool) {
	p, ok := rbac.PrincipalFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
	return p, ok
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}
