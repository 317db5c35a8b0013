package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/pkg/types"
)

// actionFilter decides which catalog actions a default role receives
// within its resource-type scope.
type actionFilter struct {
	include         []string
	exclude         []string
	excludePrefixes []string
}

func (f actionFilter) allows(action string) bool {
	for _, prefix := range f.excludePrefixes {
		if strings.HasPrefix(action, prefix) {
			return false
		}
	}
	for _, a := range f.exclude {
		if action == a {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, a := range f.include {
		if action == a {
			return true
		}
	}
	return false
}

// defaultRole describes one role in the tenant default set.
type defaultRole struct {
	name     string
	priority int
	scope    []string
	filter   actionFilter
}

// defaultRoles is the role set materialized for every new tenant. Scope
// lists the resource types whose catalog permissions the role receives;
// the filter narrows the actions within that scope.
var defaultRoles = []defaultRole{
	{
		name:     types.TenantAdminRole,
		priority: 1000,
		scope:    []string{"TENANT", "USER", "ROLE", "PERMISSION", "WORKSPACE", "AUDIT", "SYSTEM_CONFIG", "BILLING"},
		filter:   actionFilter{exclude: []string{"DELETE_TENANT"}},
	},
	{
		name:     "DATA_STEWARD",
		priority: 900,
		scope:    []string{"DATASET", "DATA_CATALOG", "DATA_QUALITY", "DATA_LINEAGE", "METADATA", "DATA_INGESTION", "DATA_TRANSFORMATION"},
		filter:   actionFilter{exclude: []string{"DELETE_TENANT"}},
	},
	{
		name:     "PRIVACY_OFFICER",
		priority: 850,
		scope:    []string{"PRIVACY_SETTINGS", "AUDIT", "COMPLIANCE", "PII_MANAGEMENT", "ENCRYPTION", "DIFFERENTIAL_PRIVACY", "DISCLOSURE_RISK"},
		filter:   actionFilter{exclude: []string{"DELETE_TENANT"}},
	},
	{
		name:     "DATA_CONTRIBUTOR",
		priority: 800,
		scope:    []string{"DATA_INGESTION", "DATASET", "METADATA"},
		filter:   actionFilter{include: []string{"CREATE", "UPDATE", "READ", "UPLOAD"}},
	},
	{
		name:     "STATISTICIAN",
		priority: 700,
		scope:    []string{"STATISTICAL_ENGINE", "ML_PIPELINE", "ANALYSIS_TEMPLATE", "REPORT", "DATASET", "CUSTOM_METHODOLOGY"},
		filter:   actionFilter{exclude: []string{"DELETE_TENANT"}, excludePrefixes: []string{"ADMIN_"}},
	},
	{
		name:     "DATA_SCIENTIST",
		priority: 650,
		scope:    []string{"ML_PIPELINE", "STATISTICAL_ENGINE", "ANALYSIS_TEMPLATE", "DATASET", "MODEL_DEPLOYMENT"},
		filter:   actionFilter{include: []string{"CREATE", "UPDATE", "READ", "EXECUTE", "DEPLOY"}},
	},
	{
		name:     "ANALYST",
		priority: 600,
		scope:    []string{"ANALYSIS_TEMPLATE", "REPORT", "DATASET", "BASIC_STATISTICS"},
		filter:   actionFilter{include: []string{"READ", "EXECUTE", "CREATE_REPORT"}},
	},
	{
		name:     "WORKSPACE_ADMIN",
		priority: 550,
		scope:    []string{"WORKSPACE", "COLLABORATION", "DATA_SHARING_AGREEMENT", "WORKFLOW_APPROVAL"},
		filter:   actionFilter{excludePrefixes: []string{"SYSTEM_"}},
	},
	{
		name:     "EXTERNAL_COLLABORATOR",
		priority: 500,
		scope:    []string{"SHARED_WORKSPACE", "COLLABORATIVE_ANALYSIS", "SHARED_DATASET"},
		filter:   actionFilter{include: []string{"READ", "COLLABORATE", "COMMENT"}},
	},
	{
		name:     "DASHBOARD_CREATOR",
		priority: 450,
		scope:    []string{"DASHBOARD", "VISUALIZATION", "CHART_LIBRARY", "EXPORT"},
		filter:   actionFilter{include: []string{"CREATE", "UPDATE", "READ", "PUBLISH", "EXPORT"}},
	},
	{
		name:     "DATA_CONSUMER",
		priority: 300,
		scope:    []string{"DATASET", "REPORT", "PUBLISHED_ANALYSIS"},
		filter:   actionFilter{include: []string{"READ", "VIEW"}},
	},
	{
		name:     "REVIEWER",
		priority: 250,
		scope:    []string{"REPORT", "ANALYSIS_REVIEW", "PUBLICATION_APPROVAL"},
		filter:   actionFilter{include: []string{"READ", "REVIEW", "APPROVE", "REJECT"}},
	},
	{
		name:     "VIEWER",
		priority: 100,
		scope:    []string{"DASHBOARD", "VISUALIZATION", "PUBLIC_REPORT"},
		filter:   actionFilter{include: []string{"READ", "VIEW"}},
	},
}

// Provisioner materializes the default role set when a tenant is created
// and retires it when the tenant is deactivated. It is the event
// consumer's handler for the tenant lifecycle streams.
type Provisioner struct {
	store  db.Store
	inval  Invalidator
	events events.Sink
	logger *zap.Logger
}

// NewProvisioner creates a tenant provisioner.
func NewProvisioner(deps Deps) *Provisioner {
	deps.fill()
	return &Provisioner{
		store:  deps.Store,
		inval:  deps.Invalidator,
		events: deps.Events,
		logger: deps.Logger,
	}
}

// HandleTenantCreated materializes the tenant's default roles and makes
// the creator its first admin.
func (p *Provisioner) HandleTenantCreated(ctx context.Context, ev *events.Event) error {
	if ev.TenantID == uuid.Nil {
		return autherr.Validation("tenant_created event has no tenant id")
	}
	return p.Provision(ctx, ev.TenantID, ev.UserID)
}

// HandleTenantDeactivated retires the tenant's roles.
func (p *Provisioner) HandleTenantDeactivated(ctx context.Context, ev *events.Event) error {
	if ev.TenantID == uuid.Nil {
		return autherr.Validation("tenant_deactivated event has no tenant id")
	}
	return p.Deactivate(ctx, ev.TenantID)
}

// Provision creates the default roles with their permission grants and,
// when a creator is given, assigns TENANT_ADMIN to them. Re-running for
// the same tenant is a no-op: duplicate roles and assignments are
// absorbed, so a redelivered event converges on the same state.
func (p *Provisioner) Provision(ctx context.Context, tenantID, creatorUserID uuid.UUID) error {
	var rolesCreated, grantsCreated int
	var adminAssigned bool
	adminRoleID := uuid.Nil

	err := p.store.InTx(ctx, func(tx db.Store) error {
		perms, err := tx.ListPermissions(ctx, db.PermissionFilter{ActiveOnly: true})
		if err != nil {
			return storeErr(err, "permissions")
		}
		byType := make(map[string][]*db.Permission)
		for _, perm := range perms {
			byType[perm.ResourceType] = append(byType[perm.ResourceType], perm)
		}

		now := time.Now().UTC()
		for _, def := range defaultRoles {
			role := &db.Role{
				ID:        uuid.New(),
				TenantID:  &tenantID,
				Name:      def.name,
				Priority:  def.priority,
				IsSystem:  true,
				IsActive:  true,
				CreatedBy: types.SystemActor,
				CreatedAt: now,
				UpdatedAt: now,
			}
			err := tx.CreateRole(ctx, role)
			switch {
			case errors.Is(err, db.ErrDuplicate):
				role, err = tx.GetRoleByName(ctx, &tenantID, def.name)
				if err != nil {
					return storeErr(err, "role "+def.name)
				}
			case err != nil:
				return storeErr(err, "role "+def.name)
			default:
				rolesCreated++
			}
			if def.name == types.TenantAdminRole {
				adminRoleID = role.ID
			}

			for _, resourceType := range def.scope {
				for _, perm := range byType[resourceType] {
					if !def.filter.allows(perm.Action) {
						continue
					}
					grant := &db.RolePermission{
						ID:           uuid.New(),
						RoleID:       role.ID,
						PermissionID: perm.ID,
						GrantedBy:    types.SystemActor,
						GrantedAt:    now,
					}
					err := tx.AssignPermission(ctx, grant)
					if errors.Is(err, db.ErrDuplicate) {
						continue
					}
					if err != nil {
						return storeErr(err, "permission "+perm.Name())
					}
					grantsCreated++
				}
			}
		}

		if creatorUserID == uuid.Nil {
			return nil
		}
		if adminRoleID == uuid.Nil {
			return autherr.Internal("tenant admin role missing after provisioning", nil)
		}
		assignment := &db.UserRole{
			ID:         uuid.New(),
			UserID:     creatorUserID,
			RoleID:     adminRoleID,
			TenantID:   tenantID,
			AssignedBy: types.SystemActor,
			AssignedAt: now,
			IsActive:   true,
		}
		err = tx.AssignRole(ctx, assignment)
		if errors.Is(err, db.ErrDuplicate) {
			return nil
		}
		if err != nil {
			return storeErr(err, "tenant admin assignment")
		}
		adminAssigned = true
		return nil
	})
	if err != nil {
		return err
	}

	if adminAssigned {
		p.inval.InvalidateUser(ctx, tenantID, creatorUserID)
		p.events.Publish(events.RoleAssigned(tenantID, creatorUserID, adminRoleID, types.SystemActor))
	}
	p.logger.Info("tenant provisioned",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("roles_created", rolesCreated),
		zap.Int("grants_created", grantsCreated),
		zap.Bool("admin_assigned", adminAssigned))
	return nil
}

// Deactivate flips every active role of the tenant to inactive.
func (p *Provisioner) Deactivate(ctx context.Context, tenantID uuid.UUID) error {
	var deactivated int

	err := p.store.InTx(ctx, func(tx db.Store) error {
		roles, err := tx.ListRoles(ctx, db.RoleFilter{TenantID: &tenantID, ActiveOnly: true})
		if err != nil {
			return storeErr(err, "roles")
		}
		for _, role := range roles {
			if err := tx.SetRoleActive(ctx, role.ID, false, types.SystemActor); err != nil {
				return storeErr(err, "role "+role.Name)
			}
			deactivated++
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.inval.InvalidateTenant(ctx, tenantID)
	p.logger.Info("tenant deactivated",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("roles_deactivated", deactivated))
	return nil
}
