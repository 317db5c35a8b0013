package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/pkg/types"
)

// ResourceService manages registered resources and their policy
// attachments.
type ResourceService struct {
	store  db.Store
	inval  Invalidator
	logger *zap.Logger
}

// NewResourceService creates a resource service.
func NewResourceService(deps Deps) *ResourceService {
	deps.fill()
	return &ResourceService{
		store:  deps.Store,
		inval:  deps.Invalidator,
		logger: deps.Logger,
	}
}

// CreateResourceRequest carries the fields for a new resource.
type CreateResourceRequest struct {
	TenantID           uuid.UUID
	ResourceIdentifier string
	ResourceType       string
	Name               string
	ParentResourceID   *uuid.UUID
	Attributes         types.Conditions
	OwnerID            *uuid.UUID
	IsPublic           bool
}

// UpdateResourceRequest carries optional field updates; nil fields keep
// their current value. Version, when set, must match the stored version.
type UpdateResourceRequest struct {
	Name             *string
	ParentResourceID *uuid.UUID
	ClearParent      bool
	Attributes       types.Conditions
	IsPublic         *bool
	IsActive         *bool
	Version          *int64
}

// Create registers a resource. The identifier must be unique within the
// tenant; a parent must exist in the same tenant.
func (s *ResourceService) Create(ctx context.Context, req CreateResourceRequest) (*db.Resource, error) {
	if req.TenantID == uuid.Nil {
		return nil, autherr.Validation("tenant_id is required")
	}
	if req.ResourceIdentifier == "" {
		return nil, autherr.Validation("resource_identifier is required")
	}
	if len(req.ResourceIdentifier) > db.MaxResourceIdentifierLen {
		return nil, autherr.Validation("resource_identifier exceeds %d characters", db.MaxResourceIdentifierLen)
	}
	if req.ResourceType == "" {
		return nil, autherr.Validation("resource_type is required")
	}
	if len(req.ResourceType) > db.MaxResourceTypeLen {
		return nil, autherr.Validation("resource_type exceeds %d characters", db.MaxResourceTypeLen)
	}

	now := time.Now().UTC()
	res := &db.Resource{
		ID:                 uuid.New(),
		ResourceIdentifier: req.ResourceIdentifier,
		ResourceType:       req.ResourceType,
		TenantID:           req.TenantID,
		Name:               req.Name,
		ParentResourceID:   req.ParentResourceID,
		Attributes:         req.Attributes,
		OwnerID:            req.OwnerID,
		IsPublic:           req.IsPublic,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		if req.ParentResourceID != nil {
			if err := checkResourceParent(ctx, tx, res, *req.ParentResourceID); err != nil {
				return err
			}
		}
		return storeErr(tx.CreateResource(ctx, res), "resource "+req.ResourceIdentifier)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("resource created",
		zap.String("resource_id", res.ID.String()),
		zap.String("identifier", res.ResourceIdentifier),
		zap.String("type", res.ResourceType))
	return res, nil
}

// Update applies the changed fields.
func (s *ResourceService) Update(ctx context.Context, id uuid.UUID, req UpdateResourceRequest) (*db.Resource, error) {
	var updated *db.Resource

	err := s.store.InTx(ctx, func(tx db.Store) error {
		res, err := tx.GetResource(ctx, id)
		if err != nil {
			return storeErr(err, "resource")
		}

		if req.Name != nil {
			res.Name = *req.Name
		}
		switch {
		case req.ClearParent:
			res.ParentResourceID = nil
		case req.ParentResourceID != nil:
			if err := checkResourceParent(ctx, tx, res, *req.ParentResourceID); err != nil {
				return err
			}
			res.ParentResourceID = req.ParentResourceID
		}
		if req.Attributes != nil {
			res.Attributes = req.Attributes
		}
		if req.IsPublic != nil {
			res.IsPublic = *req.IsPublic
		}
		if req.IsActive != nil {
			res.IsActive = *req.IsActive
		}

		if req.Version != nil {
			res.Version = *req.Version
		}
		res.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateResource(ctx, res); err != nil {
			return storeErr(err, "resource "+res.ResourceIdentifier)
		}
		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.inval.InvalidateTenant(ctx, updated.TenantID)
	return updated, nil
}

// Delete deactivates a resource. Resources with children cannot be
// deleted.
func (s *ResourceService) Delete(ctx context.Context, id uuid.UUID) error {
	var res *db.Resource

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		res, err = tx.GetResource(ctx, id)
		if err != nil {
			return storeErr(err, "resource")
		}
		children, err := tx.ListChildResources(ctx, id)
		if err != nil {
			return storeErr(err, "child resources")
		}
		if len(children) > 0 {
			return autherr.BusinessRule("resource %s has %d child resources", res.ResourceIdentifier, len(children))
		}
		return storeErr(tx.SetResourceActive(ctx, id, false), "resource")
	})
	if err != nil {
		return err
	}

	s.inval.InvalidateTenant(ctx, res.TenantID)
	return nil
}

// SetOwner transfers or clears resource ownership.
func (s *ResourceService) SetOwner(ctx context.Context, id uuid.UUID, ownerID *uuid.UUID) (*db.Resource, error) {
	var updated *db.Resource

	err := s.store.InTx(ctx, func(tx db.Store) error {
		res, err := tx.GetResource(ctx, id)
		if err != nil {
			return storeErr(err, "resource")
		}
		res.OwnerID = ownerID
		res.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateResource(ctx, res); err != nil {
			return storeErr(err, "resource "+res.ResourceIdentifier)
		}
		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.inval.InvalidateTenant(ctx, updated.TenantID)
	return updated, nil
}

// AttachPolicy links a policy to the resource. Both must belong to the
// same tenant. Attaching twice is a no-op.
func (s *ResourceService) AttachPolicy(ctx context.Context, resourceID, policyID uuid.UUID) error {
	var res *db.Resource

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		res, err = tx.GetResource(ctx, resourceID)
		if err != nil {
			return storeErr(err, "resource")
		}
		pol, err := tx.GetPolicy(ctx, policyID)
		if err != nil {
			return storeErr(err, "policy")
		}
		if pol.TenantID != res.TenantID {
			return autherr.TenantIsolation("policy belongs to a different tenant")
		}
		return storeErr(tx.AttachPolicy(ctx, policyID, resourceID), "resource policy")
	})
	if err != nil {
		return err
	}

	s.inval.InvalidateTenant(ctx, res.TenantID)
	return nil
}

// DetachPolicy unlinks a policy from the resource.
func (s *ResourceService) DetachPolicy(ctx context.Context, resourceID, policyID uuid.UUID) error {
	var res *db.Resource

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		res, err = tx.GetResource(ctx, resourceID)
		if err != nil {
			return storeErr(err, "resource")
		}
		return storeErr(tx.DetachPolicy(ctx, policyID, resourceID), "resource policy")
	})
	if err != nil {
		return err
	}

	s.inval.InvalidateTenant(ctx, res.TenantID)
	return nil
}

// Get retrieves one resource.
func (s *ResourceService) Get(ctx context.Context, id uuid.UUID) (*db.Resource, error) {
	res, err := s.store.GetResource(ctx, id)
	if err != nil {
		return nil, storeErr(err, "resource")
	}
	return res, nil
}

// GetByIdentifier retrieves a resource by its external identifier within
// a tenant.
func (s *ResourceService) GetByIdentifier(ctx context.Context, tenantID uuid.UUID, identifier string) (*db.Resource, error) {
	res, err := s.store.GetResourceByIdentifier(ctx, tenantID, identifier)
	if err != nil {
		return nil, storeErr(err, "resource "+identifier)
	}
	return res, nil
}

// List retrieves resources matching the filter.
func (s *ResourceService) List(ctx context.Context, filter db.ResourceFilter) ([]*db.Resource, error) {
	resources, err := s.store.ListResources(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "resources")
	}
	return resources, nil
}

// Policies retrieves the in-effect policies attached to a resource,
// highest priority first.
func (s *ResourceService) Policies(ctx context.Context, resourceID uuid.UUID) ([]*db.Policy, error) {
	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		return nil, storeErr(err, "resource")
	}
	policies, err := s.store.ListActiveResourcePolicies(ctx, resourceID, time.Now().UTC())
	if err != nil {
		return nil, storeErr(err, "resource policies")
	}
	return policies, nil
}

// checkResourceParent verifies a prospective parent: it must exist, share
// the tenant and not be the resource itself.
func checkResourceParent(ctx context.Context, store db.Store, res *db.Resource, parentID uuid.UUID) error {
	if parentID == res.ID {
		return autherr.BusinessRule("resource cannot be its own parent")
	}
	parent, err := store.GetResource(ctx, parentID)
	if err != nil {
		return storeErr(err, "parent resource")
	}
	if parent.TenantID != res.TenantID {
		return autherr.TenantIsolation("parent resource belongs to a different tenant")
	}
	return nil
}
