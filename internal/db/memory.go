package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// MemoryStore implements Store with in-process maps. It backs tests and
// local development; InTx applies operations directly without isolation.
type MemoryStore struct {
	mu sync.RWMutex

	roles            map[uuid.UUID]*Role
	permissions      map[uuid.UUID]*Permission
	rolePerms        map[uuid.UUID]*RolePermission
	userRoles        map[uuid.UUID]*UserRole
	resources        map[uuid.UUID]*Resource
	policies         map[uuid.UUID]*Policy
	policyPerms      map[uuid.UUID][]uuid.UUID
	resourcePolicies map[uuid.UUID][]uuid.UUID
	crossTenant      map[uuid.UUID]*CrossTenantAccess
	crossAudit       map[uuid.UUID][]*CrossTenantAudit
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:            make(map[uuid.UUID]*Role),
		permissions:      make(map[uuid.UUID]*Permission),
		rolePerms:        make(map[uuid.UUID]*RolePermission),
		userRoles:        make(map[uuid.UUID]*UserRole),
		resources:        make(map[uuid.UUID]*Resource),
		policies:         make(map[uuid.UUID]*Policy),
		policyPerms:      make(map[uuid.UUID][]uuid.UUID),
		resourcePolicies: make(map[uuid.UUID][]uuid.UUID),
		crossTenant:      make(map[uuid.UUID]*CrossTenantAccess),
		crossAudit:       make(map[uuid.UUID][]*CrossTenantAudit),
	}
}

// InTx runs fn against the store. The memory store offers no rollback;
// fn's writes apply immediately.
func (m *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneRole(r *Role) *Role {
	c := *r
	c.TenantID = copyUUID(r.TenantID)
	c.ParentRoleID = copyUUID(r.ParentRoleID)
	c.MaxUsers = copyInt(r.MaxUsers)
	return &c
}

func clonePermission(p *Permission) *Permission {
	c := *p
	return &c
}

func cloneRolePermission(rp *RolePermission) *RolePermission {
	c := *rp
	c.Constraints = rp.Constraints.Clone()
	c.ExpiresAt = copyTime(rp.ExpiresAt)
	return &c
}

func cloneUserRole(ur *UserRole) *UserRole {
	c := *ur
	c.ExpiresAt = copyTime(ur.ExpiresAt)
	return &c
}

func cloneResource(r *Resource) *Resource {
	c := *r
	c.ParentResourceID = copyUUID(r.ParentResourceID)
	c.OwnerID = copyUUID(r.OwnerID)
	c.Attributes = r.Attributes.Clone()
	return &c
}

func clonePolicy(p *Policy) *Policy {
	c := *p
	c.Conditions = p.Conditions.Clone()
	c.StartDate = copyTime(p.StartDate)
	c.EndDate = copyTime(p.EndDate)
	c.Permissions = nil
	c.Resources = nil
	return &c
}

func cloneCrossTenant(g *CrossTenantAccess) *CrossTenantAccess {
	c := *g
	c.ResourceID = copyUUID(g.ResourceID)
	c.Conditions = g.Conditions.Clone()
	c.ExpiresAt = copyTime(g.ExpiresAt)
	c.RevokedBy = copyString(g.RevokedBy)
	c.RevokedAt = copyTime(g.RevokedAt)
	c.Permissions = append([]string(nil), g.Permissions...)
	return &c
}

func cloneCrossAudit(e *CrossTenantAudit) *CrossTenantAudit {
	c := *e
	c.Details = e.Details.Clone()
	return &c
}

func sameTenantPtr(a, b *uuid.UUID) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// CreateRole inserts a new role.
func (m *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.roles[role.ID]; exists {
		return fmt.Errorf("insert role: %w", ErrDuplicate)
	}
	for _, existing := range m.roles {
		if existing.Name == role.Name && sameTenantPtr(existing.TenantID, role.TenantID) {
			return fmt.Errorf("insert role: %w", ErrDuplicate)
		}
	}

	m.roles[role.ID] = cloneRole(role)
	return nil
}

// GetRole retrieves a role by ID.
func (m *MemoryStore) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("query role: %w", ErrNotFound)
	}
	return cloneRole(role), nil
}

// GetRoleByName retrieves a role by name within a tenant, or a global
// role when tenantID is nil.
func (m *MemoryStore) GetRoleByName(ctx context.Context, tenantID *uuid.UUID, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, role := range m.roles {
		if role.Name == name && sameTenantPtr(role.TenantID, tenantID) {
			return cloneRole(role), nil
		}
	}
	return nil, fmt.Errorf("query role by name: %w", ErrNotFound)
}

// ListRoles retrieves roles matching the filter, highest priority first.
func (m *MemoryStore) ListRoles(ctx context.Context, filter RoleFilter) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var roles []*Role
	for _, role := range m.roles {
		if filter.TenantID != nil {
			inTenant := role.TenantID != nil && *role.TenantID == *filter.TenantID
			isGlobal := role.TenantID == nil
			if !inTenant && !(filter.IncludeGlobal && isGlobal) {
				continue
			}
		} else if !filter.IncludeGlobal && role.TenantID == nil {
			continue
		}
		if filter.ActiveOnly && !role.IsActive {
			continue
		}
		roles = append(roles, cloneRole(role))
	}

	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
	return paginate(roles, filter.Limit, filter.Offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ListChildRoles retrieves roles whose parent is the given role.
func (m *MemoryStore) ListChildRoles(ctx context.Context, parentRoleID uuid.UUID) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var roles []*Role
	for _, role := range m.roles {
		if role.ParentRoleID != nil && *role.ParentRoleID == parentRoleID {
			roles = append(roles, cloneRole(role))
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// UpdateRole saves mutable fields, guarded by the version column.
func (m *MemoryStore) UpdateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.roles[role.ID]
	if !ok {
		return fmt.Errorf("update role: %w", ErrNotFound)
	}
	if existing.Version != role.Version {
		return fmt.Errorf("update role: %w", ErrVersionConflict)
	}

	existing.Name = role.Name
	existing.Description = role.Description
	existing.Priority = role.Priority
	existing.MaxUsers = copyInt(role.MaxUsers)
	existing.ParentRoleID = copyUUID(role.ParentRoleID)
	existing.IsActive = role.IsActive
	existing.UpdatedBy = role.UpdatedBy
	existing.UpdatedAt = role.UpdatedAt
	existing.Version++
	role.Version++
	return nil
}

// SetRoleActive toggles the role's active flag.
func (m *MemoryStore) SetRoleActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := m.roles[id]
	if !ok {
		return fmt.Errorf("set role active: %w", ErrNotFound)
	}
	role.IsActive = active
	role.UpdatedBy = updatedBy
	role.Version++
	role.UpdatedAt = time.Now().UTC()
	return nil
}

// CreatePermission inserts a new permission.
func (m *MemoryStore) CreatePermission(ctx context.Context, perm *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.permissions[perm.ID]; exists {
		return fmt.Errorf("insert permission: %w", ErrDuplicate)
	}
	for _, existing := range m.permissions {
		if existing.ResourceType == perm.ResourceType && existing.Action == perm.Action {
			return fmt.Errorf("insert permission: %w", ErrDuplicate)
		}
	}

	m.permissions[perm.ID] = clonePermission(perm)
	return nil
}

// GetPermission retrieves a permission by ID.
func (m *MemoryStore) GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perm, ok := m.permissions[id]
	if !ok {
		return nil, fmt.Errorf("query permission: %w", ErrNotFound)
	}
	return clonePermission(perm), nil
}

// GetPermissionByName retrieves a permission by resource type and action.
func (m *MemoryStore) GetPermissionByName(ctx context.Context, resourceType, action string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, perm := range m.permissions {
		if perm.ResourceType == resourceType && perm.Action == action {
			return clonePermission(perm), nil
		}
	}
	return nil, fmt.Errorf("query permission by name: %w", ErrNotFound)
}

// ListPermissions retrieves permissions matching the filter.
func (m *MemoryStore) ListPermissions(ctx context.Context, filter PermissionFilter) ([]*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var perms []*Permission
	for _, perm := range m.permissions {
		if filter.ResourceType != "" && perm.ResourceType != filter.ResourceType {
			continue
		}
		if filter.Action != "" && perm.Action != filter.Action {
			continue
		}
		if filter.ActiveOnly && !perm.IsActive {
			continue
		}
		perms = append(perms, clonePermission(perm))
	}

	sort.Slice(perms, func(i, j int) bool {
		if perms[i].ResourceType != perms[j].ResourceType {
			return perms[i].ResourceType < perms[j].ResourceType
		}
		return perms[i].Action < perms[j].Action
	})
	return paginate(perms, filter.Limit, filter.Offset), nil
}

// UpdatePermission saves mutable permission fields.
func (m *MemoryStore) UpdatePermission(ctx context.Context, perm *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.permissions[perm.ID]
	if !ok {
		return fmt.Errorf("update permission: %w", ErrNotFound)
	}

	existing.Description = perm.Description
	existing.RiskLevel = perm.RiskLevel
	existing.RequiresMFA = perm.RequiresMFA
	existing.RequiresApproval = perm.RequiresApproval
	existing.IsActive = perm.IsActive
	existing.UpdatedAt = perm.UpdatedAt
	return nil
}

// SetPermissionActive toggles the permission's active flag.
func (m *MemoryStore) SetPermissionActive(ctx context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	perm, ok := m.permissions[id]
	if !ok {
		return fmt.Errorf("set permission active: %w", ErrNotFound)
	}
	perm.IsActive = active
	perm.UpdatedAt = time.Now().UTC()
	return nil
}

// DistinctResourceTypes lists resource types present in the catalog.
func (m *MemoryStore) DistinctResourceTypes(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, perm := range m.permissions {
		if perm.IsActive && !seen[perm.ResourceType] {
			seen[perm.ResourceType] = true
			out = append(out, perm.ResourceType)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DistinctActions lists actions defined for a resource type.
func (m *MemoryStore) DistinctActions(ctx context.Context, resourceType string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, perm := range m.permissions {
		if perm.IsActive && perm.ResourceType == resourceType && !seen[perm.Action] {
			seen[perm.Action] = true
			out = append(out, perm.Action)
		}
	}
	sort.Strings(out)
	return out, nil
}

// AssignPermission links a permission to a role.
func (m *MemoryStore) AssignPermission(ctx context.Context, grant *RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[grant.RoleID]; !ok {
		return fmt.Errorf("insert role permission: %w", ErrNotFound)
	}
	if _, ok := m.permissions[grant.PermissionID]; !ok {
		return fmt.Errorf("insert role permission: %w", ErrNotFound)
	}
	for _, existing := range m.rolePerms {
		if existing.RoleID == grant.RoleID && existing.PermissionID == grant.PermissionID {
			return fmt.Errorf("insert role permission: %w", ErrDuplicate)
		}
	}

	m.rolePerms[grant.ID] = cloneRolePermission(grant)
	return nil
}

// RevokePermission removes a permission from a role.
func (m *MemoryStore) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rp := range m.rolePerms {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			delete(m.rolePerms, id)
			return nil
		}
	}
	return fmt.Errorf("delete role permission: %w", ErrNotFound)
}

func (m *MemoryStore) grantsForRoleLocked(roleID uuid.UUID) []*RoleGrant {
	var grants []*RoleGrant
	for _, rp := range m.rolePerms {
		if rp.RoleID != roleID {
			continue
		}
		perm, ok := m.permissions[rp.PermissionID]
		if !ok {
			continue
		}
		grants = append(grants, &RoleGrant{
			RolePermission: *cloneRolePermission(rp),
			Permission:     clonePermission(perm),
		})
	}
	sort.Slice(grants, func(i, j int) bool {
		pi, pj := grants[i].Permission, grants[j].Permission
		if pi.ResourceType != pj.ResourceType {
			return pi.ResourceType < pj.ResourceType
		}
		return pi.Action < pj.Action
	})
	return grants
}

// ListRoleGrants retrieves a role's grants joined with their permissions.
func (m *MemoryStore) ListRoleGrants(ctx context.Context, roleID uuid.UUID) ([]*RoleGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grantsForRoleLocked(roleID), nil
}

// UpdateGrantConstraints replaces a grant's constraints and expiry.
func (m *MemoryStore) UpdateGrantConstraints(ctx context.Context, roleID, permissionID uuid.UUID, constraints types.Conditions, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rp := range m.rolePerms {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			rp.Constraints = constraints.Clone()
			rp.ExpiresAt = copyTime(expiresAt)
			return nil
		}
	}
	return fmt.Errorf("update grant constraints: %w", ErrNotFound)
}

// ListExpiringGrants retrieves grants on a role expiring inside
// [from, until).
func (m *MemoryStore) ListExpiringGrants(ctx context.Context, roleID uuid.UUID, from, until time.Time) ([]*RoleGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var grants []*RoleGrant
	for _, g := range m.grantsForRoleLocked(roleID) {
		if g.ExpiresAt == nil {
			continue
		}
		if g.ExpiresAt.Before(from) || !g.ExpiresAt.Before(until) {
			continue
		}
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ExpiresAt.Before(*grants[j].ExpiresAt) })
	return grants, nil
}

// DeleteExpiredGrants removes grants whose expiry has passed.
func (m *MemoryStore) DeleteExpiredGrants(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, rp := range m.rolePerms {
		if rp.ExpiresAt != nil && !rp.ExpiresAt.After(now) {
			delete(m.rolePerms, id)
			deleted++
		}
	}
	return deleted, nil
}

// AssignRole inserts a user-role assignment.
func (m *MemoryStore) AssignRole(ctx context.Context, assignment *UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[assignment.RoleID]; !ok {
		return fmt.Errorf("insert user role: %w", ErrNotFound)
	}
	for _, existing := range m.userRoles {
		if existing.UserID == assignment.UserID && existing.RoleID == assignment.RoleID &&
			existing.TenantID == assignment.TenantID {
			return fmt.Errorf("insert user role: %w", ErrDuplicate)
		}
	}

	m.userRoles[assignment.ID] = cloneUserRole(assignment)
	return nil
}

// GetUserRole retrieves an assignment regardless of its active flag.
func (m *MemoryStore) GetUserRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) (*UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ur := range m.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID && ur.TenantID == tenantID {
			return cloneUserRole(ur), nil
		}
	}
	return nil, fmt.Errorf("query user role: %w", ErrNotFound)
}

// ReactivateUserRole re-enables an inactive assignment.
func (m *MemoryStore) ReactivateUserRole(ctx context.Context, id uuid.UUID, assignedBy string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ur, ok := m.userRoles[id]
	if !ok {
		return fmt.Errorf("reactivate user role: %w", ErrNotFound)
	}
	ur.IsActive = true
	ur.AssignedBy = assignedBy
	ur.AssignedAt = time.Now().UTC()
	ur.ExpiresAt = copyTime(expiresAt)
	return nil
}

// RevokeRole deactivates an assignment.
func (m *MemoryStore) RevokeRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ur := range m.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID && ur.TenantID == tenantID && ur.IsActive {
			ur.IsActive = false
			return nil
		}
	}
	return fmt.Errorf("revoke user role: %w", ErrNotFound)
}

// ListActiveUserRoles retrieves a user's effective assignments joined
// with their roles and unexpired grants, highest role priority first.
func (m *MemoryStore) ListActiveUserRoles(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]*UserRoleBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bindings []*UserRoleBinding
	for _, ur := range m.userRoles {
		if ur.UserID != userID || ur.TenantID != tenantID || !ur.Effective(now) {
			continue
		}
		role, ok := m.roles[ur.RoleID]
		if !ok || !role.IsActive {
			continue
		}

		var grants []*RoleGrant
		for _, g := range m.grantsForRoleLocked(ur.RoleID) {
			if g.IsExpired(now) || !g.Permission.IsActive {
				continue
			}
			grants = append(grants, g)
		}

		bindings = append(bindings, &UserRoleBinding{
			UserRole: *cloneUserRole(ur),
			Role:     cloneRole(role),
			Grants:   grants,
		})
	}

	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Role.Priority > bindings[j].Role.Priority
	})
	return bindings, nil
}

// ListUserAssignments retrieves a user's assignments in a tenant.
func (m *MemoryStore) ListUserAssignments(ctx context.Context, userID, tenantID uuid.UUID, activeOnly bool) ([]*UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var assignments []*UserRole
	for _, ur := range m.userRoles {
		if ur.UserID != userID || ur.TenantID != tenantID {
			continue
		}
		if activeOnly && !ur.IsActive {
			continue
		}
		assignments = append(assignments, cloneUserRole(ur))
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

// ListRoleAssignments retrieves the assignments of a role.
func (m *MemoryStore) ListRoleAssignments(ctx context.Context, roleID uuid.UUID, activeOnly bool) ([]*UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var assignments []*UserRole
	for _, ur := range m.userRoles {
		if ur.RoleID != roleID {
			continue
		}
		if activeOnly && !ur.IsActive {
			continue
		}
		assignments = append(assignments, cloneUserRole(ur))
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

// CountActiveRoleUsers counts distinct users holding the role.
func (m *MemoryStore) CountActiveRoleUsers(ctx context.Context, roleID uuid.UUID, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[uuid.UUID]bool)
	for _, ur := range m.userRoles {
		if ur.RoleID == roleID && ur.Effective(now) {
			users[ur.UserID] = true
		}
	}
	return len(users), nil
}

// DeactivateExpiredUserRoles flips expired assignments to inactive.
func (m *MemoryStore) DeactivateExpiredUserRoles(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, ur := range m.userRoles {
		if ur.IsActive && ur.ExpiresAt != nil && !ur.ExpiresAt.After(now) {
			ur.IsActive = false
			n++
		}
	}
	return n, nil
}

// CreateResource inserts a new resource.
func (m *MemoryStore) CreateResource(ctx context.Context, res *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.resources[res.ID]; exists {
		return fmt.Errorf("insert resource: %w", ErrDuplicate)
	}
	for _, existing := range m.resources {
		if existing.TenantID == res.TenantID && existing.ResourceIdentifier == res.ResourceIdentifier {
			return fmt.Errorf("insert resource: %w", ErrDuplicate)
		}
	}

	m.resources[res.ID] = cloneResource(res)
	return nil
}

// GetResource retrieves a resource by ID.
func (m *MemoryStore) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("query resource: %w", ErrNotFound)
	}
	return cloneResource(res), nil
}

// GetResourceByIdentifier retrieves a resource by its external identifier
// within a tenant.
func (m *MemoryStore) GetResourceByIdentifier(ctx context.Context, tenantID uuid.UUID, identifier string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, res := range m.resources {
		if res.TenantID == tenantID && res.ResourceIdentifier == identifier {
			return cloneResource(res), nil
		}
	}
	return nil, fmt.Errorf("query resource by identifier: %w", ErrNotFound)
}

// ListResources retrieves resources matching the filter.
func (m *MemoryStore) ListResources(ctx context.Context, filter ResourceFilter) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var resources []*Resource
	for _, res := range m.resources {
		if res.TenantID != filter.TenantID {
			continue
		}
		if filter.ResourceType != "" && res.ResourceType != filter.ResourceType {
			continue
		}
		if filter.OwnerID != nil && (res.OwnerID == nil || *res.OwnerID != *filter.OwnerID) {
			continue
		}
		if filter.ActiveOnly && !res.IsActive {
			continue
		}
		resources = append(resources, cloneResource(res))
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].CreatedAt.After(resources[j].CreatedAt)
	})
	return paginate(resources, filter.Limit, filter.Offset), nil
}

// ListChildResources retrieves direct children of a resource.
func (m *MemoryStore) ListChildResources(ctx context.Context, parentID uuid.UUID) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var resources []*Resource
	for _, res := range m.resources {
		if res.ParentResourceID != nil && *res.ParentResourceID == parentID {
			resources = append(resources, cloneResource(res))
		}
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].CreatedAt.Before(resources[j].CreatedAt)
	})
	return resources, nil
}

// UpdateResource saves mutable fields, guarded by the version column.
func (m *MemoryStore) UpdateResource(ctx context.Context, res *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.resources[res.ID]
	if !ok {
		return fmt.Errorf("update resource: %w", ErrNotFound)
	}
	if existing.Version != res.Version {
		return fmt.Errorf("update resource: %w", ErrVersionConflict)
	}

	existing.Name = res.Name
	existing.ParentResourceID = copyUUID(res.ParentResourceID)
	existing.Attributes = res.Attributes.Clone()
	existing.OwnerID = copyUUID(res.OwnerID)
	existing.IsPublic = res.IsPublic
	existing.IsActive = res.IsActive
	existing.UpdatedAt = res.UpdatedAt
	existing.Version++
	res.Version++
	return nil
}

// SetResourceActive toggles the resource's active flag.
func (m *MemoryStore) SetResourceActive(ctx context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[id]
	if !ok {
		return fmt.Errorf("set resource active: %w", ErrNotFound)
	}
	res.IsActive = active
	res.Version++
	res.UpdatedAt = time.Now().UTC()
	return nil
}

// CreatePolicy inserts a policy and links its permissions.
func (m *MemoryStore) CreatePolicy(ctx context.Context, policy *Policy, permissionIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.policies[policy.ID]; exists {
		return fmt.Errorf("insert policy: %w", ErrDuplicate)
	}
	for _, existing := range m.policies {
		if existing.TenantID == policy.TenantID && existing.Name == policy.Name {
			return fmt.Errorf("insert policy: %w", ErrDuplicate)
		}
	}
	for _, permID := range permissionIDs {
		if _, ok := m.permissions[permID]; !ok {
			return fmt.Errorf("link policy permission: %w", ErrNotFound)
		}
	}

	m.policies[policy.ID] = clonePolicy(policy)
	m.policyPerms[policy.ID] = append([]uuid.UUID(nil), permissionIDs...)
	return nil
}

func (m *MemoryStore) policyWithAssociationsLocked(p *Policy) *Policy {
	out := clonePolicy(p)
	for _, permID := range m.policyPerms[p.ID] {
		if perm, ok := m.permissions[permID]; ok {
			out.Permissions = append(out.Permissions, clonePermission(perm))
		}
	}
	sort.Slice(out.Permissions, func(i, j int) bool {
		pi, pj := out.Permissions[i], out.Permissions[j]
		if pi.ResourceType != pj.ResourceType {
			return pi.ResourceType < pj.ResourceType
		}
		return pi.Action < pj.Action
	})

	for resourceID, policyIDs := range m.resourcePolicies {
		for _, policyID := range policyIDs {
			if policyID != p.ID {
				continue
			}
			if res, ok := m.resources[resourceID]; ok {
				out.Resources = append(out.Resources, cloneResource(res))
			}
			break
		}
	}
	sort.Slice(out.Resources, func(i, j int) bool {
		return out.Resources[i].ResourceIdentifier < out.Resources[j].ResourceIdentifier
	})
	return out
}

// GetPolicy retrieves a policy with its permissions and resource
// attachments loaded.
func (m *MemoryStore) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	policy, ok := m.policies[id]
	if !ok {
		return nil, fmt.Errorf("query policy: %w", ErrNotFound)
	}
	return m.policyWithAssociationsLocked(policy), nil
}

func sortPoliciesByPriority(policies []*Policy) {
	sort.Slice(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].Name < policies[j].Name
	})
}

// ListPolicies retrieves policies matching the filter.
func (m *MemoryStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var policies []*Policy
	for _, policy := range m.policies {
		if policy.TenantID != filter.TenantID {
			continue
		}
		if filter.PolicyType != "" && policy.PolicyType != filter.PolicyType {
			continue
		}
		if filter.ActiveOnly && !policy.IsActive {
			continue
		}
		policies = append(policies, m.policyWithAssociationsLocked(policy))
	}
	sortPoliciesByPriority(policies)
	return paginate(policies, filter.Limit, filter.Offset), nil
}

// ListActiveTenantPolicies retrieves a tenant's in-effect tenant-wide
// policies in descending priority order. Policies attached to a resource
// are excluded; those only apply through ListActiveResourcePolicies.
func (m *MemoryStore) ListActiveTenantPolicies(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attached := make(map[uuid.UUID]bool)
	for _, policyIDs := range m.resourcePolicies {
		for _, policyID := range policyIDs {
			attached[policyID] = true
		}
	}

	var policies []*Policy
	for _, policy := range m.policies {
		if policy.TenantID != tenantID || !policy.InEffect(now) || attached[policy.ID] {
			continue
		}
		policies = append(policies, m.policyWithAssociationsLocked(policy))
	}
	sortPoliciesByPriority(policies)
	return policies, nil
}

// ListActiveResourcePolicies retrieves in-effect policies attached to a
// resource in descending priority order.
func (m *MemoryStore) ListActiveResourcePolicies(ctx context.Context, resourceID uuid.UUID, now time.Time) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var policies []*Policy
	for _, policyID := range m.resourcePolicies[resourceID] {
		policy, ok := m.policies[policyID]
		if !ok || !policy.InEffect(now) {
			continue
		}
		policies = append(policies, m.policyWithAssociationsLocked(policy))
	}
	sortPoliciesByPriority(policies)
	return policies, nil
}

// UpdatePolicy saves mutable fields and relinks permissions, guarded by
// the version column.
func (m *MemoryStore) UpdatePolicy(ctx context.Context, policy *Policy, permissionIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.policies[policy.ID]
	if !ok {
		return fmt.Errorf("update policy: %w", ErrNotFound)
	}
	if existing.Version != policy.Version {
		return fmt.Errorf("update policy: %w", ErrVersionConflict)
	}
	for _, other := range m.policies {
		if other.ID != policy.ID && other.TenantID == policy.TenantID && other.Name == policy.Name {
			return fmt.Errorf("update policy: %w", ErrDuplicate)
		}
	}
	for _, permID := range permissionIDs {
		if _, ok := m.permissions[permID]; !ok {
			return fmt.Errorf("link policy permission: %w", ErrNotFound)
		}
	}

	existing.Name = policy.Name
	existing.Description = policy.Description
	existing.PolicyType = policy.PolicyType
	existing.Effect = policy.Effect
	existing.Priority = policy.Priority
	existing.Conditions = policy.Conditions.Clone()
	existing.StartDate = copyTime(policy.StartDate)
	existing.EndDate = copyTime(policy.EndDate)
	existing.IsActive = policy.IsActive
	existing.UpdatedBy = policy.UpdatedBy
	existing.UpdatedAt = policy.UpdatedAt
	existing.Version++
	policy.Version++

	if permissionIDs != nil {
		m.policyPerms[policy.ID] = append([]uuid.UUID(nil), permissionIDs...)
	}
	return nil
}

// SetPolicyActive toggles the policy's active flag.
func (m *MemoryStore) SetPolicyActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, ok := m.policies[id]
	if !ok {
		return fmt.Errorf("set policy active: %w", ErrNotFound)
	}
	policy.IsActive = active
	policy.UpdatedBy = updatedBy
	policy.Version++
	policy.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachPolicy links a policy to a resource.
func (m *MemoryStore) AttachPolicy(ctx context.Context, policyID, resourceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[policyID]; !ok {
		return fmt.Errorf("attach policy: %w", ErrNotFound)
	}
	if _, ok := m.resources[resourceID]; !ok {
		return fmt.Errorf("attach policy: %w", ErrNotFound)
	}
	for _, existing := range m.resourcePolicies[resourceID] {
		if existing == policyID {
			return nil
		}
	}
	m.resourcePolicies[resourceID] = append(m.resourcePolicies[resourceID], policyID)
	return nil
}

// DetachPolicy unlinks a policy from a resource.
func (m *MemoryStore) DetachPolicy(ctx context.Context, policyID, resourceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	attached := m.resourcePolicies[resourceID]
	for i, existing := range attached {
		if existing == policyID {
			m.resourcePolicies[resourceID] = append(attached[:i], attached[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("detach policy: %w", ErrNotFound)
}

// DeactivateExpiredPolicies flips policies past their end date to
// inactive.
func (m *MemoryStore) DeactivateExpiredPolicies(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, policy := range m.policies {
		if policy.IsActive && policy.EndDate != nil && !policy.EndDate.After(now) {
			policy.IsActive = false
			policy.Version++
			policy.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// CreateCrossTenantGrant inserts a grant with its permission list.
func (m *MemoryStore) CreateCrossTenantGrant(ctx context.Context, grant *CrossTenantAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.crossTenant[grant.ID]; exists {
		return fmt.Errorf("insert cross-tenant grant: %w", ErrDuplicate)
	}
	m.crossTenant[grant.ID] = cloneCrossTenant(grant)
	return nil
}

// GetCrossTenantGrant retrieves a grant by ID.
func (m *MemoryStore) GetCrossTenantGrant(ctx context.Context, id uuid.UUID) (*CrossTenantAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, ok := m.crossTenant[id]
	if !ok {
		return nil, fmt.Errorf("query cross-tenant grant: %w", ErrNotFound)
	}
	return cloneCrossTenant(grant), nil
}

// FindActiveCrossTenantGrant retrieves the usable grant for a
// source/target tenant pair and resource type, newest first.
func (m *MemoryStore) FindActiveCrossTenantGrant(ctx context.Context, sourceTenantID, targetTenantID uuid.UUID, resourceType string, now time.Time) (*CrossTenantAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *CrossTenantAccess
	for _, grant := range m.crossTenant {
		if grant.SourceTenantID != sourceTenantID || grant.TargetTenantID != targetTenantID {
			continue
		}
		if grant.ResourceType != resourceType || !grant.Usable(now) {
			continue
		}
		if best == nil || grant.GrantedAt.After(best.GrantedAt) {
			best = grant
		}
	}
	if best == nil {
		return nil, fmt.Errorf("query active cross-tenant grant: %w", ErrNotFound)
	}
	return cloneCrossTenant(best), nil
}

// ListCrossTenantGrants retrieves grants matching the filter, newest
// first.
func (m *MemoryStore) ListCrossTenantGrants(ctx context.Context, filter CrossTenantFilter) ([]*CrossTenantAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var grants []*CrossTenantAccess
	for _, grant := range m.crossTenant {
		if filter.SourceTenantID != nil && grant.SourceTenantID != *filter.SourceTenantID {
			continue
		}
		if filter.TargetTenantID != nil && grant.TargetTenantID != *filter.TargetTenantID {
			continue
		}
		if filter.ActiveOnly && (!grant.IsActive || grant.RevokedAt != nil) {
			continue
		}
		grants = append(grants, cloneCrossTenant(grant))
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].GrantedAt.After(grants[j].GrantedAt)
	})
	return paginate(grants, filter.Limit, filter.Offset), nil
}

// RevokeCrossTenantGrant deactivates a grant and records who revoked it.
func (m *MemoryStore) RevokeCrossTenantGrant(ctx context.Context, id uuid.UUID, revokedBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.crossTenant[id]
	if !ok || grant.RevokedAt != nil {
		return fmt.Errorf("revoke cross-tenant grant: %w", ErrNotFound)
	}
	grant.IsActive = false
	grant.RevokedBy = &revokedBy
	t := now
	grant.RevokedAt = &t
	return nil
}

// DeactivateExpiredCrossTenantGrants flips expired grants to inactive.
func (m *MemoryStore) DeactivateExpiredCrossTenantGrants(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, grant := range m.crossTenant {
		if grant.IsActive && grant.ExpiresAt != nil && !grant.ExpiresAt.After(now) {
			grant.IsActive = false
			n++
		}
	}
	return n, nil
}

// AppendCrossTenantAudit records a grant lifecycle event.
func (m *MemoryStore) AppendCrossTenantAudit(ctx context.Context, entry *CrossTenantAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.crossAudit[entry.AccessID] = append(m.crossAudit[entry.AccessID], cloneCrossAudit(entry))
	return nil
}

// ListCrossTenantAudit retrieves the audit trail of a grant, newest
// first.
func (m *MemoryStore) ListCrossTenantAudit(ctx context.Context, accessID uuid.UUID) ([]*CrossTenantAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*CrossTenantAudit, 0, len(m.crossAudit[accessID]))
	for _, entry := range m.crossAudit[accessID] {
		entries = append(entries, cloneCrossAudit(entry))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PerformedAt.After(entries[j].PerformedAt)
	})
	return entries, nil
}
