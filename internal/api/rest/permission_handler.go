package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/service"
	"github.com/nnipa/authz-service/pkg/types"
)

// PermissionHandler exposes the permission catalog. Mutations require
// PERMISSION:MANAGE, reads PERMISSION:READ.
type PermissionHandler struct {
	svc    *service.Services
	guard  *guard
	logger *zap.Logger
}

// NewPermissionHandler creates a permission handler.
func NewPermissionHandler(svc *service.Services, guard *guard, logger *zap.Logger) *PermissionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionHandler{svc: svc, guard: guard, logger: logger}
}

// CreatePermissionRequest is the POST /permissions body.
type CreatePermissionRequest struct {
	ResourceType     string          `json:"resource_type" binding:"required"`
	Action           string          `json:"action" binding:"required"`
	Description      string          `json:"description"`
	RiskLevel        types.RiskLevel `json:"risk_level"`
	RequiresMFA      bool            `json:"requires_mfa"`
	RequiresApproval bool            `json:"requires_approval"`
}

// Create handles POST /api/v1/permissions.
func (h *PermissionHandler) Create(c *gin.Context) {
	var req CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	permission, err := h.svc.Permissions.Create(c.Request.Context(), service.CreatePermissionRequest{
		ResourceType:     req.ResourceType,
		Action:           req.Action,
		Description:      req.Description,
		RiskLevel:        req.RiskLevel,
		RequiresMFA:      req.RequiresMFA,
		RequiresApproval: req.RequiresApproval,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, permission)
}

// Get handles GET /api/v1/permissions/:id.
func (h *PermissionHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	permission, err := h.svc.Permissions.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, permission)
}

// GetByName handles GET /api/v1/permissions/by-name.
func (h *PermissionHandler) GetByName(c *gin.Context) {
	resourceType := c.Query("resource_type")
	action := c.Query("action")
	if resourceType == "" || action == "" {
		writeError(c, autherr.Validation("resource_type and action are required"))
		return
	}
	permission, err := h.svc.Permissions.GetByName(c.Request.Context(), resourceType, action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, permission)
}

// List handles GET /api/v1/permissions.
func (h *PermissionHandler) List(c *gin.Context) {
	permissions, err := h.svc.Permissions.List(c.Request.Context(), db.PermissionFilter{
		ResourceType: c.Query("resource_type"),
		Action:       c.Query("action"),
		ActiveOnly:   queryBool(c, "active_only"),
		Limit:        queryInt(c, "limit", 0),
		Offset:       queryInt(c, "offset", 0),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": permissions, "count": len(permissions)})
}

// ResourceTypes handles GET /api/v1/permissions/resource-types.
func (h *PermissionHandler) ResourceTypes(c *gin.Context) {
	resourceTypes, err := h.svc.Permissions.DistinctResourceTypes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resource_types": resourceTypes, "count": len(resourceTypes)})
}

// Actions handles GET /api/v1/permissions/actions. resource_type is
// required.
func (h *PermissionHandler) Actions(c *gin.Context) {
	actions, err := h.svc.Permissions.DistinctActions(c.Request.Context(), c.Query("resource_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions, "count": len(actions)})
}

// Deactivate handles DELETE /api/v1/permissions/:id. Permissions are
// never physically removed; grants referencing them simply stop
// resolving.
func (h *PermissionHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Permissions.Deactivate(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the permission routes.
func (h *PermissionHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := h.guard.require("PERMISSION", "MANAGE")
	read := h.guard.require("PERMISSION", "READ")

	permissions := router.Group("/permissions")
	{
		permissions.POST("", manage, h.Create)
		permissions.GET("", read, h.List)
		permissions.GET("/resource-types", read, h.ResourceTypes)
		permissions.GET("/actions", read, h.Actions)
		permissions.GET("/by-name", read, h.GetByName)
		permissions.GET("/:id", read, h.Get)
		permissions.DELETE("/:id", manage, h.Deactivate)
	}
}
