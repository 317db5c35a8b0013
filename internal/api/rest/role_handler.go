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

// RoleHandler exposes role management. Mutations require ROLE:MANAGE,
// reads ROLE:READ.
type RoleHandler struct {
	svc    *service.Services
	guard  *guard
	logger *zap.Logger
}

// NewRoleHandler creates a role handler.
func NewRoleHandler(svc *service.Services, guard *guard, logger *zap.Logger) *RoleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleHandler{svc: svc, guard: guard, logger: logger}
}

// CreateRoleRequest is the POST /roles body. A missing tenant_id creates
// a global role available to every tenant.
type CreateRoleRequest struct {
	TenantID      *uuid.UUID  `json:"tenant_id"`
	Name          string      `json:"name" binding:"required"`
	Description   string      `json:"description"`
	Priority      int         `json:"priority"`
	MaxUsers      *int        `json:"max_users"`
	ParentRoleID  *uuid.UUID  `json:"parent_role_id"`
	PermissionIDs []uuid.UUID `json:"permission_ids"`
	CreatedBy     string      `json:"created_by"`
}

// UpdateRoleRequest is the PUT /roles/:id body. Absent fields keep their
// current value; version, when present, must match the stored row.
type UpdateRoleRequest struct {
	Name           *string    `json:"name"`
	Description    *string    `json:"description"`
	Priority       *int       `json:"priority"`
	MaxUsers       *int       `json:"max_users"`
	ParentRoleID   *uuid.UUID `json:"parent_role_id"`
	ClearParent    bool       `json:"clear_parent"`
	IsActive       *bool      `json:"is_active"`
	Version        *int64     `json:"version"`
	OverrideSystem bool       `json:"override_system"`
	UpdatedBy      string     `json:"updated_by"`
}

// CloneRoleRequest is the POST /roles/:id/clone body.
type CloneRoleRequest struct {
	Name     string     `json:"name" binding:"required"`
	TenantID *uuid.UUID `json:"tenant_id"`
	ClonedBy string     `json:"cloned_by"`
}

// AssignPermissionsRequest is the POST /roles/:id/permissions body.
type AssignPermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids" binding:"required,min=1"`
	GrantedBy     string      `json:"granted_by"`
}

// UpdateGrantRequest adjusts one role permission grant. At least one of
// the fields must be present.
type UpdateGrantRequest struct {
	ExpiresAt   *time.Time       `json:"expires_at"`
	Constraints types.Conditions `json:"constraints"`
}

// Create handles POST /api/v1/roles.
func (h *RoleHandler) Create(c *gin.Context) {
	var req CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	role, err := h.svc.Roles.Create(c.Request.Context(), service.CreateRoleRequest{
		TenantID:      req.TenantID,
		Name:          req.Name,
		Description:   req.Description,
		Priority:      req.Priority,
		MaxUsers:      req.MaxUsers,
		ParentRoleID:  req.ParentRoleID,
		PermissionIDs: req.PermissionIDs,
		CreatedBy:     actor(c, req.CreatedBy),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// Get handles GET /api/v1/roles/:id.
func (h *RoleHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	role, err := h.svc.Roles.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// List handles GET /api/v1/roles.
func (h *RoleHandler) List(c *gin.Context) {
	tenantID, ok := optionalQueryID(c, "tenant_id")
	if !ok {
		return
	}
	roles, err := h.svc.Roles.List(c.Request.Context(), db.RoleFilter{
		TenantID:      tenantID,
		IncludeGlobal: queryBool(c, "include_global"),
		ActiveOnly:    queryBool(c, "active_only"),
		Limit:         queryInt(c, "limit", 0),
		Offset:        queryInt(c, "offset", 0),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles, "count": len(roles)})
}

// Update handles PUT /api/v1/roles/:id.
func (h *RoleHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	role, err := h.svc.Roles.Update(c.Request.Context(), id, service.UpdateRoleRequest{
		Name:           req.Name,
		Description:    req.Description,
		Priority:       req.Priority,
		MaxUsers:       req.MaxUsers,
		ParentRoleID:   req.ParentRoleID,
		ClearParent:    req.ClearParent,
		IsActive:       req.IsActive,
		Version:        req.Version,
		OverrideSystem: req.OverrideSystem,
		UpdatedBy:      actor(c, req.UpdatedBy),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// Delete handles DELETE /api/v1/roles/:id.
func (h *RoleHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Roles.Delete(c.Request.Context(), id, actor(c, c.Query("deleted_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Clone handles POST /api/v1/roles/:id/clone.
func (h *RoleHandler) Clone(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CloneRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	role, err := h.svc.Roles.Clone(c.Request.Context(), id, req.Name, req.TenantID, actor(c, req.ClonedBy))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// Permissions handles GET /api/v1/roles/:id/permissions. With
// include_inherited=true the response carries the deduplicated permission
// set of the role and its ancestors instead of the direct grants.
func (h *RoleHandler) Permissions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if queryBool(c, "include_inherited") {
		perms, err := h.svc.Roles.GetAllPermissionsIncludingInherited(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"permissions": perms, "count": len(perms)})
		return
	}
	grants, err := h.svc.Roles.Permissions(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants, "count": len(grants)})
}

// AssignPermissions handles POST /api/v1/roles/:id/permissions.
func (h *RoleHandler) AssignPermissions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req AssignPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	assigned, err := h.svc.Roles.AssignPermissions(c.Request.Context(), id, req.PermissionIDs, actor(c, req.GrantedBy))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": assigned, "count": len(assigned)})
}

// UpdateGrant handles PUT /api/v1/roles/:id/permissions/:permission_id.
func (h *RoleHandler) UpdateGrant(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	permissionID, ok := pathID(c, "permission_id")
	if !ok {
		return
	}
	var req UpdateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	if req.ExpiresAt == nil && req.Constraints == nil {
		writeError(c, autherr.Validation("expires_at or constraints is required"))
		return
	}
	ctx := c.Request.Context()
	if req.ExpiresAt != nil {
		if err := h.svc.Roles.SetPermissionExpiration(ctx, id, permissionID, *req.ExpiresAt); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.Constraints != nil {
		if err := h.svc.Roles.UpdatePermissionConstraints(ctx, id, permissionID, req.Constraints); err != nil {
			writeError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// RemovePermission handles DELETE /api/v1/roles/:id/permissions/:permission_id.
func (h *RoleHandler) RemovePermission(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	permissionID, ok := pathID(c, "permission_id")
	if !ok {
		return
	}
	if err := h.svc.Roles.RemovePermission(c.Request.Context(), id, permissionID, actor(c, c.Query("removed_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Hierarchy handles GET /api/v1/roles/:id/hierarchy.
func (h *RoleHandler) Hierarchy(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	hierarchy, err := h.svc.Roles.GetHierarchy(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hierarchy)
}

// Statistics handles GET /api/v1/roles/:id/statistics.
func (h *RoleHandler) Statistics(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	stats, err := h.svc.Roles.Statistics(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ExpiringPermissions handles GET /api/v1/roles/:id/expiring-permissions.
// days bounds the lookahead window, default 30.
func (h *RoleHandler) ExpiringPermissions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	grants, err := h.svc.Roles.GetExpiringPermissions(c.Request.Context(), id, queryInt(c, "days", 30))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants, "count": len(grants)})
}

// ActiveUsers handles GET /api/v1/roles/:id/users.
func (h *RoleHandler) ActiveUsers(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userIDs, err := h.svc.UserRoles.ListActiveUsers(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": userIDs, "count": len(userIDs)})
}

// RegisterRoutes registers the role routes.
func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := h.guard.require("ROLE", "MANAGE")
	read := h.guard.require("ROLE", "READ")

	roles := router.Group("/roles")
	{
		roles.POST("", manage, h.Create)
		roles.GET("", read, h.List)
		roles.GET("/:id", read, h.Get)
		roles.PUT("/:id", manage, h.Update)
		roles.DELETE("/:id", manage, h.Delete)
		roles.POST("/:id/clone", manage, h.Clone)
		roles.GET("/:id/permissions", read, h.Permissions)
		roles.POST("/:id/permissions", manage, h.AssignPermissions)
		roles.PUT("/:id/permissions/:permission_id", manage, h.UpdateGrant)
		roles.DELETE("/:id/permissions/:permission_id", manage, h.RemovePermission)
		roles.GET("/:id/hierarchy", read, h.Hierarchy)
		roles.GET("/:id/statistics", read, h.Statistics)
		roles.GET("/:id/expiring-permissions", read, h.ExpiringPermissions)
		roles.GET("/:id/users", read, h.ActiveUsers)
	}
}
