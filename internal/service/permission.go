package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/pkg/types"
)

// enumTTL bounds how long the resource-type and action enumerations are
// served from memory.
const enumTTL = 30 * time.Second

// PermissionService manages the permission catalog. The catalog changes
// rarely, so the distinct resource-type and action enumerations are
// memoized with a short TTL; catalog mutations drop the memo.
type PermissionService struct {
	store  db.Store
	inval  Invalidator
	logger *zap.Logger

	mu          sync.Mutex
	memoExpiry  time.Time
	memoTypes   []string
	memoActions map[string][]string
}

// NewPermissionService creates a permission service.
func NewPermissionService(deps Deps) *PermissionService {
	deps.fill()
	return &PermissionService{
		store:  deps.Store,
		inval:  deps.Invalidator,
		logger: deps.Logger,
	}
}

// CreatePermissionRequest carries the fields for a new catalog entry.
type CreatePermissionRequest struct {
	ResourceType     string
	Action           string
	Description      string
	RiskLevel        types.RiskLevel
	RequiresMFA      bool
	RequiresApproval bool
}

// Create inserts a permission into the catalog.
func (s *PermissionService) Create(ctx context.Context, req CreatePermissionRequest) (*db.Permission, error) {
	if req.ResourceType == "" {
		return nil, autherr.Validation("resource_type is required")
	}
	if len(req.ResourceType) > db.MaxResourceTypeLen {
		return nil, autherr.Validation("resource_type exceeds %d characters", db.MaxResourceTypeLen)
	}
	if req.Action == "" {
		return nil, autherr.Validation("action is required")
	}
	if len(req.Action) > db.MaxActionLen {
		return nil, autherr.Validation("action exceeds %d characters", db.MaxActionLen)
	}
	risk := req.RiskLevel
	if risk == "" {
		risk = types.RiskLow
	}
	if !risk.IsValid() {
		return nil, autherr.Validation("unknown risk level %q", risk)
	}

	now := time.Now().UTC()
	perm := &db.Permission{
		ID:               uuid.New(),
		ResourceType:     req.ResourceType,
		Action:           req.Action,
		Description:      req.Description,
		RiskLevel:        risk,
		RequiresMFA:      req.RequiresMFA,
		RequiresApproval: req.RequiresApproval,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		return storeErr(tx.CreatePermission(ctx, perm), "permission "+perm.Name())
	})
	if err != nil {
		return nil, err
	}

	s.dropMemo()
	s.logger.Info("permission created",
		zap.String("permission_id", perm.ID.String()),
		zap.String("name", perm.Name()))
	return perm, nil
}

// Deactivate removes a permission from every future decision without
// touching the grants that reference it. The catalog is shared across
// tenants, so the whole decision cache flushes.
func (s *PermissionService) Deactivate(ctx context.Context, id uuid.UUID) error {
	err := s.store.InTx(ctx, func(tx db.Store) error {
		if _, err := tx.GetPermission(ctx, id); err != nil {
			return storeErr(err, "permission")
		}
		return storeErr(tx.SetPermissionActive(ctx, id, false), "permission")
	})
	if err != nil {
		return err
	}

	s.dropMemo()
	s.inval.InvalidateAll(ctx)
	return nil
}

// Get retrieves one permission.
func (s *PermissionService) Get(ctx context.Context, id uuid.UUID) (*db.Permission, error) {
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return nil, storeErr(err, "permission")
	}
	return perm, nil
}

// GetByName retrieves a permission by its resource type and action.
func (s *PermissionService) GetByName(ctx context.Context, resourceType, action string) (*db.Permission, error) {
	perm, err := s.store.GetPermissionByName(ctx, resourceType, action)
	if err != nil {
		return nil, storeErr(err, "permission "+types.PermissionName(resourceType, action))
	}
	return perm, nil
}

// List retrieves permissions matching the filter.
func (s *PermissionService) List(ctx context.Context, filter db.PermissionFilter) ([]*db.Permission, error) {
	perms, err := s.store.ListPermissions(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "permissions")
	}
	return perms, nil
}

// DistinctResourceTypes enumerates the resource types in the catalog.
func (s *PermissionService) DistinctResourceTypes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if time.Now().Before(s.memoExpiry) && s.memoTypes != nil {
		out := s.memoTypes
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	names, err := s.store.DistinctResourceTypes(ctx)
	if err != nil {
		return nil, storeErr(err, "resource types")
	}

	s.mu.Lock()
	s.freshenLocked()
	s.memoTypes = names
	s.mu.Unlock()
	return names, nil
}

// DistinctActions enumerates the actions defined for a resource type.
func (s *PermissionService) DistinctActions(ctx context.Context, resourceType string) ([]string, error) {
	if resourceType == "" {
		return nil, autherr.Validation("resource_type is required")
	}

	s.mu.Lock()
	if time.Now().Before(s.memoExpiry) {
		if out, ok := s.memoActions[resourceType]; ok {
			s.mu.Unlock()
			return out, nil
		}
	}
	s.mu.Unlock()

	actions, err := s.store.DistinctActions(ctx, resourceType)
	if err != nil {
		return nil, storeErr(err, "actions")
	}

	s.mu.Lock()
	s.freshenLocked()
	s.memoActions[resourceType] = actions
	s.mu.Unlock()
	return actions, nil
}

// freshenLocked resets an expired memo window. Callers hold mu.
func (s *PermissionService) freshenLocked() {
	now := time.Now()
	if now.Before(s.memoExpiry) && s.memoActions != nil {
		return
	}
	s.memoExpiry = now.Add(enumTTL)
	s.memoTypes = nil
	s.memoActions = make(map[string][]string)
}

func (s *PermissionService) dropMemo() {
	s.mu.Lock()
	s.memoExpiry = time.Time{}
	s.memoTypes = nil
	s.memoActions = nil
	s.mu.Unlock()
}
