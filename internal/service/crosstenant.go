package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/pkg/types"
)

// CrossTenantService manages cross-tenant access grants. Every grant and
// revocation also lands in the cross_tenant_access_audit trail.
// Cross-tenant checks never enter the decision cache, so no eviction is
// needed here.
type CrossTenantService struct {
	store  db.Store
	events events.Sink
	logger *zap.Logger
}

// NewCrossTenantService creates a cross-tenant access service.
func NewCrossTenantService(deps Deps) *CrossTenantService {
	deps.fill()
	return &CrossTenantService{
		store:  deps.Store,
		events: deps.Events,
		logger: deps.Logger,
	}
}

// GrantCrossTenantRequest carries the fields for a new grant. Permissions
// lists the actions the source tenant's users may perform.
type GrantCrossTenantRequest struct {
	SourceTenantID uuid.UUID
	TargetTenantID uuid.UUID
	ResourceType   string
	ResourceID     *uuid.UUID
	Permissions    []string
	Conditions     types.Conditions
	ExpiresAt      *time.Time
	GrantedBy      string
}

// Grant creates a cross-tenant access grant. Only one active grant may
// exist per (source, target, resource_type).
func (s *CrossTenantService) Grant(ctx context.Context, req GrantCrossTenantRequest) (*db.CrossTenantAccess, error) {
	if req.SourceTenantID == uuid.Nil {
		return nil, autherr.Validation("source_tenant_id is required")
	}
	if req.TargetTenantID == uuid.Nil {
		return nil, autherr.Validation("target_tenant_id is required")
	}
	if req.SourceTenantID == req.TargetTenantID {
		return nil, autherr.Validation("source and target tenants must differ")
	}
	if req.ResourceType == "" {
		return nil, autherr.Validation("resource_type is required")
	}
	if len(req.Permissions) == 0 {
		return nil, autherr.Validation("permissions must not be empty")
	}
	now := time.Now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, autherr.Validation("expires_at must be in the future")
	}

	grant := &db.CrossTenantAccess{
		ID:             uuid.New(),
		SourceTenantID: req.SourceTenantID,
		TargetTenantID: req.TargetTenantID,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Permissions:    dedupeStrings(req.Permissions),
		Conditions:     req.Conditions,
		GrantedBy:      req.GrantedBy,
		GrantedAt:      now,
		ExpiresAt:      req.ExpiresAt,
		IsActive:       true,
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		existing, err := tx.FindActiveCrossTenantGrant(ctx, req.SourceTenantID, req.TargetTenantID, req.ResourceType, now)
		if err == nil && existing != nil {
			return autherr.Duplicate("active cross-tenant grant already exists for %s", req.ResourceType)
		}
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return storeErr(err, "cross-tenant grant")
		}

		if err := tx.CreateCrossTenantGrant(ctx, grant); err != nil {
			return storeErr(err, "cross-tenant grant")
		}
		return storeErr(tx.AppendCrossTenantAudit(ctx, &db.CrossTenantAudit{
			ID:          uuid.New(),
			AccessID:    grant.ID,
			Action:      db.CrossTenantAuditGranted,
			PerformedBy: req.GrantedBy,
			PerformedAt: now,
			Details: types.Conditions{
				"target_tenant_id": req.TargetTenantID.String(),
				"resource_type":    req.ResourceType,
				"permissions":      grant.Permissions,
			},
		}), "cross-tenant audit")
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(events.CrossTenantAccessGranted(grant.ID, grant.SourceTenantID, grant.TargetTenantID, uuid.Nil, req.GrantedBy))
	s.logger.Info("cross-tenant access granted",
		zap.String("grant_id", grant.ID.String()),
		zap.String("source_tenant_id", grant.SourceTenantID.String()),
		zap.String("target_tenant_id", grant.TargetTenantID.String()),
		zap.String("resource_type", grant.ResourceType))
	return grant, nil
}

// Revoke deactivates a grant and stamps who revoked it.
func (s *CrossTenantService) Revoke(ctx context.Context, id uuid.UUID, revokedBy string) error {
	var grant *db.CrossTenantAccess
	now := time.Now().UTC()

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		grant, err = tx.GetCrossTenantGrant(ctx, id)
		if err != nil {
			return storeErr(err, "cross-tenant grant")
		}
		if grant.RevokedAt != nil {
			return autherr.BusinessRule("cross-tenant grant is already revoked")
		}
		if err := tx.RevokeCrossTenantGrant(ctx, id, revokedBy, now); err != nil {
			return storeErr(err, "cross-tenant grant")
		}
		return storeErr(tx.AppendCrossTenantAudit(ctx, &db.CrossTenantAudit{
			ID:          uuid.New(),
			AccessID:    id,
			Action:      db.CrossTenantAuditRevoked,
			PerformedBy: revokedBy,
			PerformedAt: now,
		}), "cross-tenant audit")
	})
	if err != nil {
		return err
	}

	s.events.Publish(events.CrossTenantAccessRevoked(grant.ID, grant.SourceTenantID, grant.TargetTenantID, uuid.Nil, revokedBy))
	s.logger.Info("cross-tenant access revoked",
		zap.String("grant_id", id.String()),
		zap.String("revoked_by", revokedBy))
	return nil
}

// Check reports whether an active, unexpired grant lets the source tenant
// perform the action on the target tenant's resource type.
func (s *CrossTenantService) Check(ctx context.Context, sourceTenantID, targetTenantID uuid.UUID, resourceType, action string) (bool, error) {
	grant, err := s.store.FindActiveCrossTenantGrant(ctx, sourceTenantID, targetTenantID, resourceType, time.Now().UTC())
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, "cross-tenant grant")
	}
	return grant.AllowsAction(action), nil
}

// Get retrieves one grant.
func (s *CrossTenantService) Get(ctx context.Context, id uuid.UUID) (*db.CrossTenantAccess, error) {
	grant, err := s.store.GetCrossTenantGrant(ctx, id)
	if err != nil {
		return nil, storeErr(err, "cross-tenant grant")
	}
	return grant, nil
}

// ListBySource retrieves the grants issued to a source tenant.
func (s *CrossTenantService) ListBySource(ctx context.Context, sourceTenantID uuid.UUID, activeOnly bool) ([]*db.CrossTenantAccess, error) {
	grants, err := s.store.ListCrossTenantGrants(ctx, db.CrossTenantFilter{
		SourceTenantID: &sourceTenantID,
		ActiveOnly:     activeOnly,
	})
	if err != nil {
		return nil, storeErr(err, "cross-tenant grants")
	}
	return grants, nil
}

// ListByTarget retrieves the grants exposing a target tenant.
func (s *CrossTenantService) ListByTarget(ctx context.Context, targetTenantID uuid.UUID, activeOnly bool) ([]*db.CrossTenantAccess, error) {
	grants, err := s.store.ListCrossTenantGrants(ctx, db.CrossTenantFilter{
		TargetTenantID: &targetTenantID,
		ActiveOnly:     activeOnly,
	})
	if err != nil {
		return nil, storeErr(err, "cross-tenant grants")
	}
	return grants, nil
}

// Audit retrieves a grant's lifecycle trail, newest first.
func (s *CrossTenantService) Audit(ctx context.Context, accessID uuid.UUID) ([]*db.CrossTenantAudit, error) {
	if _, err := s.store.GetCrossTenantGrant(ctx, accessID); err != nil {
		return nil, storeErr(err, "cross-tenant grant")
	}
	entries, err := s.store.ListCrossTenantAudit(ctx, accessID)
	if err != nil {
		return nil, storeErr(err, "cross-tenant audit")
	}
	return entries, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, v := range in {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
