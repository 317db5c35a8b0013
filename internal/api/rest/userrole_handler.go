package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/service"
)

// UserRoleHandler exposes role assignment. Assignments are role
// management, so mutations require ROLE:MANAGE and reads ROLE:READ.
type UserRoleHandler struct {
	svc    *service.Services
	guard  *guard
	logger *zap.Logger
}

// NewUserRoleHandler creates a user-role handler.
func NewUserRoleHandler(svc *service.Services, guard *guard, logger *zap.Logger) *UserRoleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserRoleHandler{svc: svc, guard: guard, logger: logger}
}

// AssignRoleRequest is the POST /user-roles body.
type AssignRoleRequest struct {
	UserID     uuid.UUID  `json:"user_id" binding:"required"`
	RoleID     uuid.UUID  `json:"role_id" binding:"required"`
	TenantID   uuid.UUID  `json:"tenant_id" binding:"required"`
	ExpiresAt  *time.Time `json:"expires_at"`
	AssignedBy string     `json:"assigned_by"`
}

// Assign handles POST /api/v1/user-roles.
func (h *UserRoleHandler) Assign(c *gin.Context) {
	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	assignment, err := h.svc.UserRoles.Assign(c.Request.Context(), service.AssignRoleRequest{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		TenantID:   req.TenantID,
		ExpiresAt:  req.ExpiresAt,
		AssignedBy: actor(c, req.AssignedBy),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

// Revoke handles DELETE /api/v1/user-roles. The assignment triple
// travels as query values.
func (h *UserRoleHandler) Revoke(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	roleID, ok := queryID(c, "role_id")
	if !ok {
		return
	}
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	if err := h.svc.UserRoles.Revoke(c.Request.Context(), userID, roleID, tenantID, actor(c, c.Query("revoked_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListByUser handles GET /api/v1/user-roles.
func (h *UserRoleHandler) ListByUser(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	assignments, err := h.svc.UserRoles.ListByUser(c.Request.Context(), userID, tenantID, queryBool(c, "active_only"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments, "count": len(assignments)})
}

// Bindings handles GET /api/v1/user-roles/bindings: the user's effective
// roles with their permission grants, highest priority first.
func (h *UserRoleHandler) Bindings(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	bindings, err := h.svc.UserRoles.Bindings(c.Request.Context(), userID, tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": bindings, "count": len(bindings)})
}

// RegisterRoutes registers the user-role routes.
func (h *UserRoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := h.guard.require("ROLE", "MANAGE")
	read := h.guard.require("ROLE", "READ")

	userRoles := router.Group("/user-roles")
	{
		userRoles.POST("", manage, h.Assign)
		userRoles.DELETE("", manage, h.Revoke)
		userRoles.GET("", read, h.ListByUser)
		userRoles.GET("/bindings", read, h.Bindings)
	}
}
