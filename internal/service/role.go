package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/pkg/types"
)

// DefaultRolePriority is used when a create request leaves priority unset.
const DefaultRolePriority = 100

// RoleService manages roles, their permission grants and the role
// hierarchy.
type RoleService struct {
	store    db.Store
	inval    Invalidator
	events   events.Sink
	logger   *zap.Logger
	maxDepth int
	maxPerms int
}

// NewRoleService creates a role service.
func NewRoleService(deps Deps, cfg config.AuthzConfig) *RoleService {
	deps.fill()
	maxDepth := cfg.MaxHierarchyDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	maxPerms := cfg.MaxPermissionsPerRole
	if maxPerms <= 0 {
		maxPerms = 100
	}
	return &RoleService{
		store:    deps.Store,
		inval:    deps.Invalidator,
		events:   deps.Events,
		logger:   deps.Logger,
		maxDepth: maxDepth,
		maxPerms: maxPerms,
	}
}

// CreateRoleRequest carries the fields for a new role. TenantID nil makes
// a global role.
type CreateRoleRequest struct {
	TenantID      *uuid.UUID
	Name          string
	Description   string
	Priority      int
	MaxUsers      *int
	ParentRoleID  *uuid.UUID
	PermissionIDs []uuid.UUID
	CreatedBy     string
}

// UpdateRoleRequest carries optional field updates; nil fields keep their
// current value. Version, when set, must match the stored version.
// OverrideSystem permits edits to system roles.
type UpdateRoleRequest struct {
	Name           *string
	Description    *string
	Priority       *int
	MaxUsers       *int
	ParentRoleID   *uuid.UUID
	ClearParent    bool
	IsActive       *bool
	Version        *int64
	OverrideSystem bool
	UpdatedBy      string
}

// RoleHierarchy describes a role's position in the inheritance tree.
// Ancestors are ordered nearest parent first.
type RoleHierarchy struct {
	Role        *db.Role         `json:"role"`
	Ancestors   []*db.Role       `json:"ancestors,omitempty"`
	Children    []*db.Role       `json:"children,omitempty"`
	Permissions []*db.Permission `json:"permissions,omitempty"`
}

// RoleStatistics summarizes a role's usage.
type RoleStatistics struct {
	TotalPermissions int `json:"total_permissions"`
	ActiveUsers      int `json:"active_users"`
	ChildRoles       int `json:"child_roles"`
}

func validateRoleName(name string) error {
	if name == "" {
		return autherr.Validation("role name is required")
	}
	if len(name) > db.MaxRoleNameLen {
		return autherr.Validation("role name exceeds %d characters", db.MaxRoleNameLen)
	}
	return nil
}

func validateRoleFields(description string, priority int) error {
	if len(description) > db.MaxRoleDescriptionLen {
		return autherr.Validation("role description exceeds %d characters", db.MaxRoleDescriptionLen)
	}
	if priority < db.MinRolePriority || priority > db.MaxRolePriority {
		return autherr.Validation("role priority must be between %d and %d", db.MinRolePriority, db.MaxRolePriority)
	}
	return nil
}

// Create inserts a role, optionally linked to a parent and seeded with an
// initial permission set.
func (s *RoleService) Create(ctx context.Context, req CreateRoleRequest) (*db.Role, error) {
	if err := validateRoleName(req.Name); err != nil {
		return nil, err
	}
	priority := req.Priority
	if priority == 0 {
		priority = DefaultRolePriority
	}
	if err := validateRoleFields(req.Description, priority); err != nil {
		return nil, err
	}
	if req.MaxUsers != nil && *req.MaxUsers < 1 {
		return nil, autherr.Validation("max_users must be at least 1")
	}
	if len(req.PermissionIDs) > s.maxPerms {
		return nil, autherr.BusinessRule("role cannot hold more than %d permissions", s.maxPerms)
	}

	now := time.Now().UTC()
	role := &db.Role{
		ID:           uuid.New(),
		TenantID:     req.TenantID,
		Name:         req.Name,
		Description:  req.Description,
		Priority:     priority,
		MaxUsers:     req.MaxUsers,
		IsActive:     true,
		ParentRoleID: req.ParentRoleID,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		if req.ParentRoleID != nil {
			if err := s.checkParent(ctx, tx, role, *req.ParentRoleID); err != nil {
				return err
			}
		}
		if err := tx.CreateRole(ctx, role); err != nil {
			return storeErr(err, "role "+req.Name)
		}
		for _, permID := range dedupeIDs(req.PermissionIDs) {
			grant := &db.RolePermission{
				ID:           uuid.New(),
				RoleID:       role.ID,
				PermissionID: permID,
				GrantedBy:    req.CreatedBy,
				GrantedAt:    now,
			}
			if err := tx.AssignPermission(ctx, grant); err != nil {
				return storeErr(err, "permission "+permID.String())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(events.RoleCreated(tenantOf(role.TenantID), role.ID, role.Name, req.CreatedBy))
	s.logger.Info("role created",
		zap.String("role_id", role.ID.String()),
		zap.String("name", role.Name))
	return role, nil
}

// Update applies the changed fields. System roles reject edits unless the
// override flag is set; max_users cannot drop below the current active
// assignment count.
func (s *RoleService) Update(ctx context.Context, id uuid.UUID, req UpdateRoleRequest) (*db.Role, error) {
	var updated *db.Role
	var mutated bool

	err := s.store.InTx(ctx, func(tx db.Store) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return storeErr(err, "role")
		}
		if role.IsSystem && !req.OverrideSystem {
			return autherr.BusinessRule("system role %s cannot be modified", role.Name)
		}

		changes := map[string]interface{}{}
		if req.Name != nil && *req.Name != role.Name {
			if err := validateRoleName(*req.Name); err != nil {
				return err
			}
			existing, err := tx.GetRoleByName(ctx, role.TenantID, *req.Name)
			if err == nil && existing.ID != role.ID {
				return autherr.Duplicate("role %s already exists", *req.Name)
			}
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return storeErr(err, "role")
			}
			changes["name"] = *req.Name
			role.Name = *req.Name
		}
		if req.Description != nil && *req.Description != role.Description {
			if len(*req.Description) > db.MaxRoleDescriptionLen {
				return autherr.Validation("role description exceeds %d characters", db.MaxRoleDescriptionLen)
			}
			changes["description"] = *req.Description
			role.Description = *req.Description
		}
		if req.Priority != nil && *req.Priority != role.Priority {
			if *req.Priority < db.MinRolePriority || *req.Priority > db.MaxRolePriority {
				return autherr.Validation("role priority must be between %d and %d", db.MinRolePriority, db.MaxRolePriority)
			}
			changes["priority"] = *req.Priority
			role.Priority = *req.Priority
		}
		if req.MaxUsers != nil {
			active, err := tx.CountActiveRoleUsers(ctx, role.ID, time.Now().UTC())
			if err != nil {
				return storeErr(err, "role assignments")
			}
			if *req.MaxUsers < active {
				return autherr.BusinessRule("max_users %d is below the %d active assignments", *req.MaxUsers, active)
			}
			changes["max_users"] = *req.MaxUsers
			role.MaxUsers = req.MaxUsers
		}
		switch {
		case req.ClearParent:
			if role.ParentRoleID != nil {
				changes["parent_role_id"] = nil
				role.ParentRoleID = nil
			}
		case req.ParentRoleID != nil:
			if role.ParentRoleID == nil || *role.ParentRoleID != *req.ParentRoleID {
				if err := s.checkParent(ctx, tx, role, *req.ParentRoleID); err != nil {
					return err
				}
				changes["parent_role_id"] = req.ParentRoleID.String()
				role.ParentRoleID = req.ParentRoleID
			}
		}
		if req.IsActive != nil && *req.IsActive != role.IsActive {
			changes["is_active"] = *req.IsActive
			role.IsActive = *req.IsActive
		}

		if len(changes) == 0 {
			updated = role
			return nil
		}

		if req.Version != nil {
			role.Version = *req.Version
		}
		role.UpdatedBy = req.UpdatedBy
		role.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRole(ctx, role); err != nil {
			return storeErr(err, "role "+role.Name)
		}

		s.logger.Info("role updated",
			zap.String("role_id", role.ID.String()),
			zap.Any("changes", changes))
		updated = role
		mutated = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mutated {
		if updated.TenantID != nil {
			s.inval.InvalidateTenant(ctx, *updated.TenantID)
		}
		s.events.Publish(events.RoleUpdated(tenantOf(updated.TenantID), updated.ID, updated.Name, req.UpdatedBy))
	}
	return updated, nil
}

// Delete deactivates a role. The row stays for audit; the role drops out
// of every lookup that filters on the active flag, and its name stays
// reserved within the tenant.
func (s *RoleService) Delete(ctx context.Context, id uuid.UUID, deletedBy string) error {
	var role *db.Role

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		role, err = tx.GetRole(ctx, id)
		if err != nil {
			return storeErr(err, "role")
		}
		if role.IsSystem {
			return autherr.BusinessRule("system role %s cannot be deleted", role.Name)
		}
		assignments, err := tx.ListRoleAssignments(ctx, id, true)
		if err != nil {
			return storeErr(err, "role assignments")
		}
		if len(assignments) > 0 {
			return autherr.BusinessRule("role %s has %d active user assignments", role.Name, len(assignments))
		}
		children, err := tx.ListChildRoles(ctx, id)
		if err != nil {
			return storeErr(err, "child roles")
		}
		if len(children) > 0 {
			return autherr.BusinessRule("role %s has %d child roles", role.Name, len(children))
		}
		return storeErr(tx.SetRoleActive(ctx, id, false, deletedBy), "role")
	})
	if err != nil {
		return err
	}

	if role.TenantID != nil {
		s.inval.InvalidateTenant(ctx, *role.TenantID)
	}
	s.events.Publish(events.RoleDeleted(tenantOf(role.TenantID), role.ID, role.Name, deletedBy))
	return nil
}

// Clone copies a role and its permission grants under a new name. The
// clone is never a system role. The parent link carries over only when the
// clone stays in the source's tenant.
func (s *RoleService) Clone(ctx context.Context, sourceID uuid.UUID, newName string, tenantID *uuid.UUID, clonedBy string) (*db.Role, error) {
	if err := validateRoleName(newName); err != nil {
		return nil, err
	}

	var clone *db.Role
	err := s.store.InTx(ctx, func(tx db.Store) error {
		source, err := tx.GetRole(ctx, sourceID)
		if err != nil {
			return storeErr(err, "source role")
		}
		grants, err := tx.ListRoleGrants(ctx, sourceID)
		if err != nil {
			return storeErr(err, "role permissions")
		}

		now := time.Now().UTC()
		clone = &db.Role{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Name:        newName,
			Description: source.Description,
			Priority:    source.Priority,
			IsActive:    true,
			CreatedBy:   clonedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if source.MaxUsers != nil {
			v := *source.MaxUsers
			clone.MaxUsers = &v
		}
		if clone.SameTenant(source) && source.ParentRoleID != nil {
			v := *source.ParentRoleID
			clone.ParentRoleID = &v
		}

		if err := tx.CreateRole(ctx, clone); err != nil {
			return storeErr(err, "role "+newName)
		}
		for _, g := range grants {
			grant := &db.RolePermission{
				ID:           uuid.New(),
				RoleID:       clone.ID,
				PermissionID: g.PermissionID,
				Constraints:  g.Constraints.Clone(),
				ExpiresAt:    g.ExpiresAt,
				GrantedBy:    clonedBy,
				GrantedAt:    now,
			}
			if err := tx.AssignPermission(ctx, grant); err != nil {
				return storeErr(err, "permission "+g.PermissionID.String())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(events.RoleCreated(tenantOf(clone.TenantID), clone.ID, clone.Name, clonedBy))
	s.logger.Info("role cloned",
		zap.String("source_role_id", sourceID.String()),
		zap.String("role_id", clone.ID.String()),
		zap.String("name", clone.Name))
	return clone, nil
}

// AssignPermissions grants permissions to a role. Pairs already present
// are skipped, so repeating an assignment is a no-op. Returns the
// permission IDs actually granted.
func (s *RoleService) AssignPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, grantedBy string) ([]uuid.UUID, error) {
	var role *db.Role
	var granted []uuid.UUID

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		role, err = tx.GetRole(ctx, roleID)
		if err != nil {
			return storeErr(err, "role")
		}
		grants, err := tx.ListRoleGrants(ctx, roleID)
		if err != nil {
			return storeErr(err, "role permissions")
		}
		present := make(map[uuid.UUID]bool, len(grants))
		for _, g := range grants {
			present[g.PermissionID] = true
		}

		var missing []uuid.UUID
		for _, permID := range dedupeIDs(permissionIDs) {
			if !present[permID] {
				missing = append(missing, permID)
			}
		}
		if len(grants)+len(missing) > s.maxPerms {
			return autherr.BusinessRule("role %s would exceed %d permissions", role.Name, s.maxPerms)
		}

		now := time.Now().UTC()
		for _, permID := range missing {
			grant := &db.RolePermission{
				ID:           uuid.New(),
				RoleID:       roleID,
				PermissionID: permID,
				GrantedBy:    grantedBy,
				GrantedAt:    now,
			}
			err := tx.AssignPermission(ctx, grant)
			if errors.Is(err, db.ErrDuplicate) {
				continue
			}
			if err != nil {
				return storeErr(err, "permission "+permID.String())
			}
			granted = append(granted, permID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(granted) > 0 {
		if role.TenantID != nil {
			s.inval.InvalidateTenant(ctx, *role.TenantID)
		}
		for _, permID := range granted {
			s.events.Publish(events.PermissionGranted(tenantOf(role.TenantID), roleID, permID, grantedBy))
		}
	}
	return granted, nil
}

// RemovePermission revokes one permission from a role.
func (s *RoleService) RemovePermission(ctx context.Context, roleID, permissionID uuid.UUID, removedBy string) error {
	var role *db.Role

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		role, err = tx.GetRole(ctx, roleID)
		if err != nil {
			return storeErr(err, "role")
		}
		return storeErr(tx.RevokePermission(ctx, roleID, permissionID), "role permission")
	})
	if err != nil {
		return err
	}

	if role.TenantID != nil {
		s.inval.InvalidateTenant(ctx, *role.TenantID)
	}
	s.events.Publish(events.PermissionRevoked(tenantOf(role.TenantID), roleID, permissionID, removedBy))
	return nil
}

// SetPermissionExpiration puts a future expiry on a role's permission
// grant, keeping its constraints.
func (s *RoleService) SetPermissionExpiration(ctx context.Context, roleID, permissionID uuid.UUID, expiresAt time.Time) error {
	if !expiresAt.After(time.Now().UTC()) {
		return autherr.Validation("expiration must be in the future")
	}

	var role *db.Role
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		role, err = tx.GetRole(ctx, roleID)
		if err != nil {
			return storeErr(err, "role")
		}
		grant, err := findGrant(ctx, tx, roleID, permissionID)
		if err != nil {
			return err
		}
		return storeErr(tx.UpdateGrantConstraints(ctx, roleID, permissionID, grant.Constraints, &expiresAt), "role permission")
	})
	if err != nil {
		return err
	}

	if role.TenantID != nil {
		s.inval.InvalidateTenant(ctx, *role.TenantID)
	}
	return nil
}

// UpdatePermissionConstraints replaces the constraints on a role's
// permission grant, keeping its expiry.
func (s *RoleService) UpdatePermissionConstraints(ctx context.Context, roleID, permissionID uuid.UUID, constraints types.Conditions) error {
	var role *db.Role
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		role, err = tx.GetRole(ctx, roleID)
		if err != nil {
			return storeErr(err, "role")
		}
		grant, err := findGrant(ctx, tx, roleID, permissionID)
		if err != nil {
			return err
		}
		return storeErr(tx.UpdateGrantConstraints(ctx, roleID, permissionID, constraints, grant.ExpiresAt), "role permission")
	})
	if err != nil {
		return err
	}

	if role.TenantID != nil {
		s.inval.InvalidateTenant(ctx, *role.TenantID)
	}
	return nil
}

// GetAllPermissionsIncludingInherited returns the union of the role's own
// valid grants and those inherited through active ancestors, deduplicated
// and sorted by permission name. An inactive ancestor cuts off everything
// above it, matching how decisions resolve inheritance.
func (s *RoleService) GetAllPermissionsIncludingInherited(ctx context.Context, roleID uuid.UUID) ([]*db.Permission, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "role")
	}
	return s.effectivePermissions(ctx, s.store, role)
}

func (s *RoleService) effectivePermissions(ctx context.Context, store db.Store, role *db.Role) ([]*db.Permission, error) {
	chain, err := s.ancestorChain(ctx, store, role, true)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	seen := make(map[uuid.UUID]bool)
	var perms []*db.Permission
	for _, node := range chain {
		grants, err := store.ListRoleGrants(ctx, node.ID)
		if err != nil {
			return nil, storeErr(err, "role permissions")
		}
		for _, g := range grants {
			if !g.Valid(now) || seen[g.Permission.ID] {
				continue
			}
			seen[g.Permission.ID] = true
			perms = append(perms, g.Permission)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name() < perms[j].Name() })
	return perms, nil
}

// GetHierarchy returns the role together with its ancestor chain, direct
// children and effective permission set.
func (s *RoleService) GetHierarchy(ctx context.Context, roleID uuid.UUID) (*RoleHierarchy, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "role")
	}

	chain, err := s.ancestorChain(ctx, s.store, role, false)
	if err != nil {
		return nil, err
	}
	children, err := s.store.ListChildRoles(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "child roles")
	}
	perms, err := s.effectivePermissions(ctx, s.store, role)
	if err != nil {
		return nil, err
	}

	return &RoleHierarchy{
		Role:        role,
		Ancestors:   chain[1:],
		Children:    children,
		Permissions: perms,
	}, nil
}

// GetExpiringPermissions returns the role's grants that expire within the
// next daysAhead days, soonest first. daysAhead defaults to 30.
func (s *RoleService) GetExpiringPermissions(ctx context.Context, roleID uuid.UUID, daysAhead int) ([]*db.RoleGrant, error) {
	if daysAhead <= 0 {
		daysAhead = 30
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, storeErr(err, "role")
	}

	now := time.Now().UTC()
	until := now.AddDate(0, 0, daysAhead)
	grants, err := s.store.ListExpiringGrants(ctx, roleID, now, until)
	if err != nil {
		return nil, storeErr(err, "role permissions")
	}
	return grants, nil
}

// Statistics reports how the role is used.
func (s *RoleService) Statistics(ctx context.Context, roleID uuid.UUID) (*RoleStatistics, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, storeErr(err, "role")
	}

	grants, err := s.store.ListRoleGrants(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "role permissions")
	}
	activeUsers, err := s.store.CountActiveRoleUsers(ctx, roleID, time.Now().UTC())
	if err != nil {
		return nil, storeErr(err, "role assignments")
	}
	children, err := s.store.ListChildRoles(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "child roles")
	}

	return &RoleStatistics{
		TotalPermissions: len(grants),
		ActiveUsers:      activeUsers,
		ChildRoles:       len(children),
	}, nil
}

// Get retrieves one role.
func (s *RoleService) Get(ctx context.Context, id uuid.UUID) (*db.Role, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return nil, storeErr(err, "role")
	}
	return role, nil
}

// Permissions returns the role's direct grants with their permissions.
func (s *RoleService) Permissions(ctx context.Context, roleID uuid.UUID) ([]*db.RoleGrant, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, storeErr(err, "role")
	}
	grants, err := s.store.ListRoleGrants(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "role permissions")
	}
	return grants, nil
}

// List retrieves roles matching the filter.
func (s *RoleService) List(ctx context.Context, filter db.RoleFilter) ([]*db.Role, error) {
	roles, err := s.store.ListRoles(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "roles")
	}
	return roles, nil
}

// Count reports how many roles match the filter, ignoring pagination.
func (s *RoleService) Count(ctx context.Context, filter db.RoleFilter) (int, error) {
	filter.Limit = 0
	filter.Offset = 0
	roles, err := s.store.ListRoles(ctx, filter)
	if err != nil {
		return 0, storeErr(err, "roles")
	}
	return len(roles), nil
}

// checkParent verifies a prospective parent: it must exist, share the
// role's tenant, not sit below the role itself, and leave the chain within
// the depth bound.
func (s *RoleService) checkParent(ctx context.Context, store db.Store, role *db.Role, parentID uuid.UUID) error {
	if parentID == role.ID {
		return autherr.BusinessRule("role cannot be its own parent")
	}
	parent, err := store.GetRole(ctx, parentID)
	if err != nil {
		return storeErr(err, "parent role")
	}
	if !role.SameTenant(parent) {
		return autherr.TenantIsolation("parent role belongs to a different tenant")
	}

	chain, err := s.ancestorChain(ctx, store, parent, false)
	if err != nil {
		return err
	}
	for _, ancestor := range chain {
		if ancestor.ID == role.ID {
			return autherr.BusinessRule("parent change would create a role hierarchy cycle")
		}
	}
	if len(chain)+1 > s.maxDepth {
		return autherr.BusinessRule("role hierarchy exceeds depth %d", s.maxDepth)
	}
	return nil
}

// ancestorChain walks parent links upward from start, inclusive. The walk
// stops at the depth bound, on a repeated node and, when activeOnly is
// set, at the first inactive ancestor.
func (s *RoleService) ancestorChain(ctx context.Context, store db.Store, start *db.Role, activeOnly bool) ([]*db.Role, error) {
	chain := []*db.Role{start}
	visited := map[uuid.UUID]bool{start.ID: true}

	current := start
	for current.ParentRoleID != nil && len(chain) <= s.maxDepth {
		parent, err := store.GetRole(ctx, *current.ParentRoleID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				break
			}
			return nil, storeErr(err, "role")
		}
		if visited[parent.ID] {
			break
		}
		if activeOnly && !parent.IsActive {
			break
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

func findGrant(ctx context.Context, store db.Store, roleID, permissionID uuid.UUID) (*db.RoleGrant, error) {
	grants, err := store.ListRoleGrants(ctx, roleID)
	if err != nil {
		return nil, storeErr(err, "role permissions")
	}
	for _, g := range grants {
		if g.PermissionID == permissionID {
			return g, nil
		}
	}
	return nil, autherr.NotFound("role permission not found")
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
