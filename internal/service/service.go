// Package service implements the administrative operations: role,
// permission, policy, resource, user-role and cross-tenant grant
// management. Every mutation runs inside a store transaction, invalidates
// the affected decision-cache entries before returning and publishes its
// audit event after commit, fire and forget.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/internal/metrics"
	"github.com/nnipa/authz-service/internal/policy"
)

// Invalidator evicts cached decisions after a mutation. The decision
// engine satisfies it.
type Invalidator interface {
	InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID)
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID)
	InvalidateAll(ctx context.Context)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateUser(context.Context, uuid.UUID, uuid.UUID) {}
func (noopInvalidator) InvalidateTenant(context.Context, uuid.UUID)          {}
func (noopInvalidator) InvalidateAll(context.Context)                        {}

// Deps carries the collaborators shared by the services. Invalidator,
// Events, Metrics and Logger may be nil; Evaluator is only needed by
// PolicyService.
type Deps struct {
	Store       db.Store
	Invalidator Invalidator
	Events      events.Sink
	Evaluator   *policy.Evaluator
	Metrics     metrics.Metrics
	Logger      *zap.Logger
}

func (d *Deps) fill() {
	if d.Invalidator == nil {
		d.Invalidator = noopInvalidator{}
	}
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNoOpMetrics()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

// Services bundles the administrative services over one store.
type Services struct {
	Roles       *RoleService
	Permissions *PermissionService
	Policies    *PolicyService
	Resources   *ResourceService
	UserRoles   *UserRoleService
	CrossTenant *CrossTenantService
}

// New builds the service bundle.
func New(deps Deps, cfg config.AuthzConfig) *Services {
	deps.fill()
	return &Services{
		Roles:       NewRoleService(deps, cfg),
		Permissions: NewPermissionService(deps),
		Policies:    NewPolicyService(deps),
		Resources:   NewResourceService(deps),
		UserRoles:   NewUserRoleService(deps),
		CrossTenant: NewCrossTenantService(deps),
	}
}

// storeErr maps store sentinels onto domain error kinds. entity names the
// record in the caller-facing message.
func storeErr(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return autherr.NotFound("%s not found", entity)
	case errors.Is(err, db.ErrDuplicate):
		return autherr.Duplicate("%s already exists", entity)
	case errors.Is(err, db.ErrVersionConflict):
		return autherr.Conflict("%s was modified concurrently", entity)
	default:
		return autherr.Transient(entity+" store operation failed", err)
	}
}

// tenantOf renders a nullable tenant for event constructors; global
// records report the zero UUID.
func tenantOf(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
