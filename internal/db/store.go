package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// Sentinel errors returned by store implementations. Callers translate
// these into domain errors with context.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrVersionConflict indicates an optimistic-lock update lost the race.
	ErrVersionConflict = errors.New("version conflict")
)

// RoleFilter narrows ListRoles.
type RoleFilter struct {
	TenantID      *uuid.UUID
	IncludeGlobal bool
	ActiveOnly    bool
	Limit         int
	Offset        int
}

// PermissionFilter narrows ListPermissions.
type PermissionFilter struct {
	ResourceType string
	Action       string
	ActiveOnly   bool
	Limit        int
	Offset       int
}

// ResourceFilter narrows ListResources.
type ResourceFilter struct {
	TenantID     uuid.UUID
	ResourceType string
	OwnerID      *uuid.UUID
	ActiveOnly   bool
	Limit        int
	Offset       int
}

// PolicyFilter narrows ListPolicies.
type PolicyFilter struct {
	TenantID   uuid.UUID
	PolicyType types.PolicyType
	ActiveOnly bool
	Limit      int
	Offset     int
}

// CrossTenantFilter narrows ListCrossTenantGrants.
type CrossTenantFilter struct {
	SourceTenantID *uuid.UUID
	TargetTenantID *uuid.UUID
	ActiveOnly     bool
	Limit          int
	Offset         int
}

// RoleStore persists roles.
type RoleStore interface {
	// CreateRole inserts a new role
	CreateRole(ctx context.Context, role *Role) error

	// GetRole retrieves a role by ID
	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)

	// GetRoleByName retrieves a role by name within a tenant, or a global
	// role when tenantID is nil
	GetRoleByName(ctx context.Context, tenantID *uuid.UUID, name string) (*Role, error)

	// ListRoles retrieves roles matching the filter
	ListRoles(ctx context.Context, filter RoleFilter) ([]*Role, error)

	// ListChildRoles retrieves roles whose parent is the given role
	ListChildRoles(ctx context.Context, parentRoleID uuid.UUID) ([]*Role, error)

	// UpdateRole saves mutable fields, guarded by the version column
	UpdateRole(ctx context.Context, role *Role) error

	// SetRoleActive toggles the role's active flag
	SetRoleActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error
}

// PermissionStore persists the permission catalog.
type PermissionStore interface {
	// CreatePermission inserts a new permission
	CreatePermission(ctx context.Context, perm *Permission) error

	// GetPermission retrieves a permission by ID
	GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error)

	// GetPermissionByName retrieves a permission by resource type and action
	GetPermissionByName(ctx context.Context, resourceType, action string) (*Permission, error)

	// ListPermissions retrieves permissions matching the filter
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]*Permission, error)

	// UpdatePermission saves mutable permission fields
	UpdatePermission(ctx context.Context, perm *Permission) error

	// SetPermissionActive toggles the permission's active flag
	SetPermissionActive(ctx context.Context, id uuid.UUID, active bool) error

	// DistinctResourceTypes lists resource types present in the catalog
	DistinctResourceTypes(ctx context.Context) ([]string, error)

	// DistinctActions lists actions defined for a resource type
	DistinctActions(ctx context.Context, resourceType string) ([]string, error)
}

// RolePermissionStore persists role-permission grants.
type RolePermissionStore interface {
	// AssignPermission links a permission to a role
	AssignPermission(ctx context.Context, grant *RolePermission) error

	// RevokePermission removes a permission from a role
	RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error

	// ListRoleGrants retrieves a role's grants joined with their permissions
	ListRoleGrants(ctx context.Context, roleID uuid.UUID) ([]*RoleGrant, error)

	// UpdateGrantConstraints replaces a grant's constraints and expiry
	UpdateGrantConstraints(ctx context.Context, roleID, permissionID uuid.UUID, constraints types.Conditions, expiresAt *time.Time) error

	// ListExpiringGrants retrieves grants expiring inside [from, until)
	ListExpiringGrants(ctx context.Context, roleID uuid.UUID, from, until time.Time) ([]*RoleGrant, error)

	// DeleteExpiredGrants removes grants whose expiry has passed and
	// returns how many rows were deleted
	DeleteExpiredGrants(ctx context.Context, now time.Time) (int64, error)
}

// UserRoleStore persists user-role assignments.
type UserRoleStore interface {
	// AssignRole inserts a user-role assignment
	AssignRole(ctx context.Context, assignment *UserRole) error

	// GetUserRole retrieves an assignment regardless of its active flag
	GetUserRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) (*UserRole, error)

	// ReactivateUserRole re-enables an inactive assignment with a fresh
	// expiry and attribution
	ReactivateUserRole(ctx context.Context, id uuid.UUID, assignedBy string, expiresAt *time.Time) error

	// RevokeRole deactivates an assignment
	RevokeRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) error

	// ListActiveUserRoles retrieves a user's effective assignments in a
	// tenant, each joined with its role and the role's grants
	ListActiveUserRoles(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]*UserRoleBinding, error)

	// ListUserAssignments retrieves a user's assignments in a tenant
	ListUserAssignments(ctx context.Context, userID, tenantID uuid.UUID, activeOnly bool) ([]*UserRole, error)

	// ListRoleAssignments retrieves the assignments of a role
	ListRoleAssignments(ctx context.Context, roleID uuid.UUID, activeOnly bool) ([]*UserRole, error)

	// CountActiveRoleUsers counts distinct users holding the role
	CountActiveRoleUsers(ctx context.Context, roleID uuid.UUID, now time.Time) (int, error)

	// DeactivateExpiredUserRoles flips expired assignments to inactive and
	// returns how many rows changed
	DeactivateExpiredUserRoles(ctx context.Context, now time.Time) (int64, error)
}

// ResourceStore persists registered resources.
type ResourceStore interface {
	// CreateResource inserts a new resource
	CreateResource(ctx context.Context, res *Resource) error

	// GetResource retrieves a resource by ID
	GetResource(ctx context.Context, id uuid.UUID) (*Resource, error)

	// GetResourceByIdentifier retrieves a resource by its external
	// identifier within a tenant
	GetResourceByIdentifier(ctx context.Context, tenantID uuid.UUID, identifier string) (*Resource, error)

	// ListResources retrieves resources matching the filter
	ListResources(ctx context.Context, filter ResourceFilter) ([]*Resource, error)

	// ListChildResources retrieves direct children of a resource
	ListChildResources(ctx context.Context, parentID uuid.UUID) ([]*Resource, error)

	// UpdateResource saves mutable fields, guarded by the version column
	UpdateResource(ctx context.Context, res *Resource) error

	// SetResourceActive toggles the resource's active flag
	SetResourceActive(ctx context.Context, id uuid.UUID, active bool) error
}

// PolicyStore persists policies and their attachments.
type PolicyStore interface {
	// CreatePolicy inserts a policy and links its permissions
	CreatePolicy(ctx context.Context, policy *Policy, permissionIDs []uuid.UUID) error

	// GetPolicy retrieves a policy with its permissions loaded
	GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error)

	// ListPolicies retrieves policies matching the filter
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]*Policy, error)

	// ListActiveTenantPolicies retrieves a tenant's in-effect tenant-wide
	// policies in descending priority order, permissions loaded. Policies
	// attached to a resource are excluded
	ListActiveTenantPolicies(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]*Policy, error)

	// ListActiveResourcePolicies retrieves in-effect policies attached to a
	// resource in descending priority order, permissions loaded
	ListActiveResourcePolicies(ctx context.Context, resourceID uuid.UUID, now time.Time) ([]*Policy, error)

	// UpdatePolicy saves mutable fields and relinks permissions, guarded by
	// the version column
	UpdatePolicy(ctx context.Context, policy *Policy, permissionIDs []uuid.UUID) error

	// SetPolicyActive toggles the policy's active flag
	SetPolicyActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error

	// AttachPolicy links a policy to a resource
	AttachPolicy(ctx context.Context, policyID, resourceID uuid.UUID) error

	// DetachPolicy unlinks a policy from a resource
	DetachPolicy(ctx context.Context, policyID, resourceID uuid.UUID) error

	// DeactivateExpiredPolicies flips policies past their end date to
	// inactive and returns how many rows changed
	DeactivateExpiredPolicies(ctx context.Context, now time.Time) (int64, error)
}

// CrossTenantStore persists cross-tenant access grants and their audit
// trail.
type CrossTenantStore interface {
	// CreateCrossTenantGrant inserts a grant with its permission list
	CreateCrossTenantGrant(ctx context.Context, grant *CrossTenantAccess) error

	// GetCrossTenantGrant retrieves a grant by ID
	GetCrossTenantGrant(ctx context.Context, id uuid.UUID) (*CrossTenantAccess, error)

	// FindActiveCrossTenantGrant retrieves the usable grant for a
	// source/target tenant pair and resource type, if any
	FindActiveCrossTenantGrant(ctx context.Context, sourceTenantID, targetTenantID uuid.UUID, resourceType string, now time.Time) (*CrossTenantAccess, error)

	// ListCrossTenantGrants retrieves grants matching the filter
	ListCrossTenantGrants(ctx context.Context, filter CrossTenantFilter) ([]*CrossTenantAccess, error)

	// RevokeCrossTenantGrant deactivates a grant and records who revoked it
	RevokeCrossTenantGrant(ctx context.Context, id uuid.UUID, revokedBy string, now time.Time) error

	// DeactivateExpiredCrossTenantGrants flips expired grants to inactive
	// and returns how many rows changed
	DeactivateExpiredCrossTenantGrants(ctx context.Context, now time.Time) (int64, error)

	// AppendCrossTenantAudit records a grant lifecycle event
	AppendCrossTenantAudit(ctx context.Context, entry *CrossTenantAudit) error

	// ListCrossTenantAudit retrieves the audit trail of a grant
	ListCrossTenantAudit(ctx context.Context, accessID uuid.UUID) ([]*CrossTenantAudit, error)
}

// Store bundles the entity stores with transaction support.
type Store interface {
	RoleStore
	PermissionStore
	RolePermissionStore
	UserRoleStore
	ResourceStore
	PolicyStore
	CrossTenantStore

	// InTx runs fn inside a single transaction. The Store passed to fn
	// shares the transaction; the transaction commits when fn returns nil
	// and rolls back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies connectivity to the backing database
	Ping(ctx context.Context) error

	// Close releases the store's resources
	Close() error
}
