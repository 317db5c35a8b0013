package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/service"
	"github.com/nnipa/authz-service/pkg/types"
)

// PolicyHandler exposes policy management. Mutations require
// POLICY:MANAGE, reads and test evaluations POLICY:READ.
type PolicyHandler struct {
	svc    *service.Services
	guard  *guard
	logger *zap.Logger
}

// NewPolicyHandler creates a policy handler.
func NewPolicyHandler(svc *service.Services, guard *guard, logger *zap.Logger) *PolicyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyHandler{svc: svc, guard: guard, logger: logger}
}

// CreatePolicyRequest is the POST /policies body.
type CreatePolicyRequest struct {
	TenantID      uuid.UUID        `json:"tenant_id" binding:"required"`
	Name          string           `json:"name" binding:"required"`
	Description   string           `json:"description"`
	PolicyType    types.PolicyType `json:"policy_type"`
	Effect        types.Effect     `json:"effect"`
	Priority      int              `json:"priority"`
	Conditions    types.Conditions `json:"conditions"`
	StartDate     *time.Time       `json:"start_date"`
	EndDate       *time.Time       `json:"end_date"`
	PermissionIDs []uuid.UUID      `json:"permission_ids"`
	CreatedBy     string           `json:"created_by"`
}

// UpdatePolicyRequest is the PUT /policies/:id body. Absent fields keep
// their current value; clear_start_date and clear_end_date drop the
// window bounds; permission_ids, when present, replaces the linked set.
type UpdatePolicyRequest struct {
	Name           *string           `json:"name"`
	Description    *string           `json:"description"`
	PolicyType     *types.PolicyType `json:"policy_type"`
	Effect         *types.Effect     `json:"effect"`
	Priority       *int              `json:"priority"`
	Conditions     types.Conditions  `json:"conditions"`
	StartDate      *time.Time        `json:"start_date"`
	ClearStartDate bool              `json:"clear_start_date"`
	EndDate        *time.Time        `json:"end_date"`
	ClearEndDate   bool              `json:"clear_end_date"`
	IsActive       *bool             `json:"is_active"`
	PermissionIDs  []uuid.UUID       `json:"permission_ids"`
	Version        *int64            `json:"version"`
	UpdatedBy      string            `json:"updated_by"`
}

// LinkPermissionRequest is the POST /policies/:id/permissions body.
type LinkPermissionRequest struct {
	PermissionID uuid.UUID `json:"permission_id" binding:"required"`
	UpdatedBy    string    `json:"updated_by"`
}

// Create handles POST /api/v1/policies.
func (h *PolicyHandler) Create(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	policy, err := h.svc.Policies.Create(c.Request.Context(), service.CreatePolicyRequest{
		TenantID:      req.TenantID,
		Name:          req.Name,
		Description:   req.Description,
		PolicyType:    req.PolicyType,
		Effect:        req.Effect,
		Priority:      req.Priority,
		Conditions:    req.Conditions,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		PermissionIDs: req.PermissionIDs,
		CreatedBy:     actor(c, req.CreatedBy),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, policy)
}

// Get handles GET /api/v1/policies/:id.
func (h *PolicyHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	policy, err := h.svc.Policies.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// List handles GET /api/v1/policies. tenant_id is required.
func (h *PolicyHandler) List(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	policies, err := h.svc.Policies.List(c.Request.Context(), db.PolicyFilter{
		TenantID:   tenantID,
		PolicyType: types.PolicyType(c.Query("policy_type")),
		ActiveOnly: queryBool(c, "active_only"),
		Limit:      queryInt(c, "limit", 0),
		Offset:     queryInt(c, "offset", 0),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

// Update handles PUT /api/v1/policies/:id.
func (h *PolicyHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	policy, err := h.svc.Policies.Update(c.Request.Context(), id, service.UpdatePolicyRequest{
		Name:           req.Name,
		Description:    req.Description,
		PolicyType:     req.PolicyType,
		Effect:         req.Effect,
		Priority:       req.Priority,
		Conditions:     req.Conditions,
		StartDate:      req.StartDate,
		ClearStartDate: req.ClearStartDate,
		EndDate:        req.EndDate,
		ClearEndDate:   req.ClearEndDate,
		IsActive:       req.IsActive,
		PermissionIDs:  req.PermissionIDs,
		Version:        req.Version,
		UpdatedBy:      actor(c, req.UpdatedBy),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// Delete handles DELETE /api/v1/policies/:id.
func (h *PolicyHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Policies.Delete(c.Request.Context(), id, actor(c, c.Query("deleted_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Activate handles POST /api/v1/policies/:id/activate.
func (h *PolicyHandler) Activate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Policies.Activate(c.Request.Context(), id, actor(c, c.Query("updated_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Deactivate handles POST /api/v1/policies/:id/deactivate.
func (h *PolicyHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Policies.Deactivate(c.Request.Context(), id, actor(c, c.Query("updated_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Evaluate handles POST /api/v1/policies/:id/evaluate. The body is a
// decision request; the response reports whether this one policy would
// apply to it. The policy's active state and date window are ignored so
// disabled policies can be probed before enabling them.
func (h *PolicyHandler) Evaluate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req types.AuthzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	enrichRequest(c, &req)
	result, err := h.svc.Policies.TestEvaluate(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AttachPermission handles POST /api/v1/policies/:id/permissions.
func (h *PolicyHandler) AttachPermission(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req LinkPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	if err := h.svc.Policies.AttachPermission(c.Request.Context(), id, req.PermissionID, actor(c, req.UpdatedBy)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DetachPermission handles DELETE /api/v1/policies/:id/permissions/:permission_id.
func (h *PolicyHandler) DetachPermission(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	permissionID, ok := pathID(c, "permission_id")
	if !ok {
		return
	}
	if err := h.svc.Policies.DetachPermission(c.Request.Context(), id, permissionID, actor(c, c.Query("updated_by"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the policy routes.
func (h *PolicyHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := h.guard.require("POLICY", "MANAGE")
	read := h.guard.require("POLICY", "READ")

	policies := router.Group("/policies")
	{
		policies.POST("", manage, h.Create)
		policies.GET("", read, h.List)
		policies.GET("/:id", read, h.Get)
		policies.PUT("/:id", manage, h.Update)
		policies.DELETE("/:id", manage, h.Delete)
		policies.POST("/:id/activate", manage, h.Activate)
		policies.POST("/:id/deactivate", manage, h.Deactivate)
		policies.POST("/:id/evaluate", read, h.Evaluate)
		policies.POST("/:id/permissions", manage, h.AttachPermission)
		policies.DELETE("/:id/permissions/:permission_id", manage, h.DetachPermission)
	}
}
