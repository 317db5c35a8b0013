package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/service"
	"github.com/nnipa/authz-service/pkg/types"
)

// ResourceHandler exposes resource registration. Mutations require
// RESOURCE:MANAGE, reads RESOURCE:READ.
type ResourceHandler struct {
	svc    *service.Services
	guard  *guard
	logger *zap.Logger
}

// NewResourceHandler creates a resource handler.
func NewResourceHandler(svc *service.Services, guard *guard, logger *zap.Logger) *ResourceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceHandler{svc: svc, guard: guard, logger: logger}
}

// CreateResourceRequest is the POST /resources body.
type CreateResourceRequest struct {
	TenantID           uuid.UUID        `json:"tenant_id" binding:"required"`
	ResourceIdentifier string           `json:"resource_identifier" binding:"required"`
	ResourceType       string           `json:"resource_type" binding:"required"`
	Name               string           `json:"name"`
	ParentResourceID   *uuid.UUID       `json:"parent_resource_id"`
	Attributes         types.Conditions `json:"attributes"`
	OwnerID            *uuid.UUID       `json:"owner_id"`
	IsPublic           bool             `json:"is_public"`
}

// UpdateResourceRequest is the PUT /resources/:id body. Absent fields
// keep their current value.
type UpdateResourceRequest struct {
	Name             *string          `json:"name"`
	ParentResourceID *uuid.UUID       `json:"parent_resource_id"`
	ClearParent      bool             `json:"clear_parent"`
	Attributes       types.Conditions `json:"attributes"`
	IsPublic         *bool            `json:"is_public"`
	IsActive         *bool            `json:"is_active"`
	Version          *int64           `json:"version"`
}

// SetOwnerRequest is the PUT /resources/:id/owner body. A null owner_id
// clears ownership.
type SetOwnerRequest struct {
	OwnerID *uuid.UUID `json:"owner_id"`
}

// AttachPolicyRequest is the POST /resources/:id/policies body.
type AttachPolicyRequest struct {
	PolicyID uuid.UUID `json:"policy_id" binding:"required"`
}

// Create handles POST /api/v1/resources.
func (h *ResourceHandler) Create(c *gin.Context) {
	var req CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	resource, err := h.svc.Resources.Create(c.Request.Context(), service.CreateResourceRequest{
		TenantID:           req.TenantID,
		ResourceIdentifier: req.ResourceIdentifier,
		ResourceType:       req.ResourceType,
		Name:               req.Name,
		ParentResourceID:   req.ParentResourceID,
		Attributes:         req.Attributes,
		OwnerID:            req.OwnerID,
		IsPublic:           req.IsPublic,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resource)
}

// Get handles GET /api/v1/resources/:id.
func (h *ResourceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resource, err := h.svc.Resources.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resource)
}

// GetByIdentifier handles GET /api/v1/resources/by-identifier. The
// identifier is unique within a tenant, so both travel as query values.
func (h *ResourceHandler) GetByIdentifier(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	identifier := c.Query("identifier")
	if identifier == "" {
		writeError(c, autherr.Validation("identifier is required"))
		return
	}
	resource, err := h.svc.Resources.GetByIdentifier(c.Request.Context(), tenantID, identifier)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resource)
}

// List handles GET /api/v1/resources. tenant_id is required.
func (h *ResourceHandler) List(c *gin.Context) {
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	ownerID, ok := optionalQueryID(c, "owner_id")
	if !ok {
		return
	}
	resources, err := h.svc.Resources.List(c.Request.Context(), db.ResourceFilter{
		TenantID:     tenantID,
		ResourceType: c.Query("resource_type"),
		OwnerID:      ownerID,
		ActiveOnly:   queryBool(c, "active_only"),
		Limit:        queryInt(c, "limit", 0),
		Offset:       queryInt(c, "offset", 0),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources, "count": len(resources)})
}

// Update handles PUT /api/v1/resources/:id.
func (h *ResourceHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	resource, err := h.svc.Resources.Update(c.Request.Context(), id, service.UpdateResourceRequest{
		Name:             req.Name,
		ParentResourceID: req.ParentResourceID,
		ClearParent:      req.ClearParent,
		Attributes:       req.Attributes,
		IsPublic:         req.IsPublic,
		IsActive:         req.IsActive,
		Version:          req.Version,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resource)
}

// Delete handles DELETE /api/v1/resources/:id. A resource with child
// resources cannot be deleted until they are re-parented.
func (h *ResourceHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Resources.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetOwner handles PUT /api/v1/resources/:id/owner.
func (h *ResourceHandler) SetOwner(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req SetOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	resource, err := h.svc.Resources.SetOwner(c.Request.Context(), id, req.OwnerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resource)
}

// Policies handles GET /api/v1/resources/:id/policies. Only policies in
// effect at call time are returned, highest priority first.
func (h *ResourceHandler) Policies(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	policies, err := h.svc.Resources.Policies(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

// AttachPolicy handles POST /api/v1/resources/:id/policies.
func (h *ResourceHandler) AttachPolicy(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req AttachPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	if err := h.svc.Resources.AttachPolicy(c.Request.Context(), id, req.PolicyID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DetachPolicy handles DELETE /api/v1/resources/:id/policies/:policy_id.
func (h *ResourceHandler) DetachPolicy(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	policyID, ok := pathID(c, "policy_id")
	if !ok {
		return
	}
	if err := h.svc.Resources.DetachPolicy(c.Request.Context(), id, policyID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the resource routes.
func (h *ResourceHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := h.guard.require("RESOURCE", "MANAGE")
	read := h.guard.require("RESOURCE", "READ")

	resources := router.Group("/resources")
	{
		resources.POST("", manage, h.Create)
		resources.GET("", read, h.List)
		resources.GET("/by-identifier", read, h.GetByIdentifier)
		resources.GET("/:id", read, h.Get)
		resources.PUT("/:id", manage, h.Update)
		resources.DELETE("/:id", manage, h.Delete)
		resources.PUT("/:id/owner", manage, h.SetOwner)
		resources.GET("/:id/policies", read, h.Policies)
		resources.POST("/:id/policies", manage, h.AttachPolicy)
		resources.DELETE("/:id/policies/:policy_id", manage, h.DetachPolicy)
	}
}
