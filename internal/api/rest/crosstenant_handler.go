package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/service"
	"github.com/nnipa/authz-service/pkg/types"
)

// CrossTenantHandler exposes cross-tenant grants. They pierce tenant
// isolation, so mutations require TENANT:MANAGE and reads TENANT:READ.
type CrossTenantHandler struct {
	svc    *service.Services
	guard  *guard
	logger *zap.Logger
}

// NewCrossTenantHandler creates a cross-tenant handler.
func NewCrossTenantHandler(svc *service.Services, guard *guard, logger *zap.Logger) *CrossTenantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossTenantHandler{svc: svc, guard: guard, logger: logger}
}

// GrantCrossTenantRequest is the POST /cross-tenant body.
type GrantCrossTenantRequest struct {
	SourceTenantID uuid.UUID        `json:"source_tenant_id" binding:"required"`
	TargetTenantID uuid.UUID        `json:"target_tenant_id" binding:"required"`
	ResourceType   string           `json:"resource_type" binding:"required"`
	ResourceID     *uuid.UUID       `json:"resource_id"`
	Permissions    []string         `json:"permissions" binding:"required,min=1"`
	Conditions     types.Conditions `json:"conditions"`
	ExpiresAt      *time.Time       `json:"expires_at"`
	GrantedBy      string           `json:"granted_by"`
}

// Grant handles POST /api/v1/cross-tenant.
func (h *CrossTenantHandler) Grant(c *gin.Context) {
	var req GrantCrossTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	grant, err := h.svc.CrossTenant.Grant(c.Request.Context(), service.GrantCrossTenantRequest{
		SourceTenantID: req.SourceTenantID,
		TargetTenantID: req.TargetTenantID,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Permissions:    req.Permissions,
		Conditions:     req.Conditions,
		ExpiresAt:      req.ExpiresAt,
		GrantedBy:      actor(c, req.GrantedBy),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

// Revoke handles DELETE /api/v1/cross-tenant/:id.
func (h *CrossTenantHandler) Revoke(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.CrossTenant.Revoke(c.Request.Context(), id, actor(c, c.Query("revoked_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Check handles GET /api/v1/cross-tenant/check: whether the source
// tenant currently allows the target tenant the given action.
func (h *CrossTenantHandler) Check(c *gin.Context) {
	sourceTenantID, ok := queryID(c, "source_tenant_id")
	if !ok {
		return
	}
	targetTenantID, ok := queryID(c, "target_tenant_id")
	if !ok {
		return
	}
	resourceType := c.Query("resource_type")
	action := c.Query("action")
	if resourceType == "" || action == "" {
		writeError(c, autherr.Validation("resource_type and action are required"))
		return
	}
	allowed, err := h.svc.CrossTenant.Check(c.Request.Context(), sourceTenantID, targetTenantID, resourceType, action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// Get handles GET /api/v1/cross-tenant/:id.
func (h *CrossTenantHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	grant, err := h.svc.CrossTenant.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

// List handles GET /api/v1/cross-tenant. Exactly one of source_tenant_id
// and target_tenant_id selects the listing direction.
func (h *CrossTenantHandler) List(c *gin.Context) {
	sourceTenantID, ok := optionalQueryID(c, "source_tenant_id")
	if !ok {
		return
	}
	targetTenantID, ok := optionalQueryID(c, "target_tenant_id")
	if !ok {
		return
	}
	activeOnly := queryBool(c, "active_only")

	var (
		grants []*db.CrossTenantAccess
		err    error
	)
	switch {
	case sourceTenantID != nil && targetTenantID == nil:
		grants, err = h.svc.CrossTenant.ListBySource(c.Request.Context(), *sourceTenantID, activeOnly)
	case targetTenantID != nil && sourceTenantID == nil:
		grants, err = h.svc.CrossTenant.ListByTarget(c.Request.Context(), *targetTenantID, activeOnly)
	default:
		writeError(c, autherr.Validation("exactly one of source_tenant_id and target_tenant_id is required"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants, "count": len(grants)})
}

// Audit handles GET /api/v1/cross-tenant/:id/audit: the grant's audit
// trail, newest first.
func (h *CrossTenantHandler) Audit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	trail, err := h.svc.CrossTenant.Audit(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": trail, "count": len(trail)})
}

// RegisterRoutes registers the cross-tenant routes.
func (h *CrossTenantHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := h.guard.require("TENANT", "MANAGE")
	read := h.guard.require("TENANT", "READ")

	crossTenant := router.Group("/cross-tenant")
	{
		crossTenant.POST("", manage, h.Grant)
		crossTenant.GET("", read, h.List)
		crossTenant.GET("/check", read, h.Check)
		crossTenant.GET("/:id", read, h.Get)
		crossTenant.DELETE("/:id", manage, h.Revoke)
		crossTenant.GET("/:id/audit", read, h.Audit)
	}
}
