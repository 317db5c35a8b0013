// Package db provides the authorization schema, the store contracts and
// their Postgres and in-memory implementations.
package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// Table names as constants for type safety
const (
	TableRoles                  = "roles"
	TablePermissions            = "permissions"
	TablePolicies               = "policies"
	TableResources              = "resources"
	TableRolePermissions        = "role_permissions"
	TablePolicyPermissions      = "policy_permissions"
	TableResourcePolicies       = "resource_policies"
	TableUserRoles              = "user_roles"
	TableCrossTenantAccess      = "cross_tenant_access"
	TableCrossTenantPermissions = "cross_tenant_permissions"
	TableCrossTenantAudit       = "cross_tenant_access_audit"
)

// Column names for compile-time checking
const (
	// Common columns
	ColID        = "id"
	ColTenantID  = "tenant_id"
	ColName      = "name"
	ColIsActive  = "is_active"
	ColIsSystem  = "is_system"
	ColVersion   = "version"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColCreatedBy = "created_by"
	ColUpdatedBy = "updated_by"
	ColExpiresAt = "expires_at"

	// Roles
	ColPriority     = "priority"
	ColMaxUsers     = "max_users"
	ColParentRoleID = "parent_role_id"

	// Permissions
	ColResourceType     = "resource_type"
	ColAction           = "action"
	ColRiskLevel        = "risk_level"
	ColRequiresMFA      = "requires_mfa"
	ColRequiresApproval = "requires_approval"

	// Policies
	ColPolicyType = "policy_type"
	ColEffect     = "effect"
	ColConditions = "conditions"
	ColStartDate  = "start_date"
	ColEndDate    = "end_date"

	// Resources
	ColResourceIdentifier = "resource_identifier"
	ColParentResourceID   = "parent_resource_id"
	ColAttributes         = "attributes"
	ColOwnerID            = "owner_id"
	ColIsPublic           = "is_public"

	// Assignments
	ColRoleID       = "role_id"
	ColPermissionID = "permission_id"
	ColPolicyID     = "policy_id"
	ColResourceID   = "resource_id"
	ColUserID       = "user_id"
	ColConstraints  = "constraints"
	ColGrantedBy    = "granted_by"
	ColGrantedAt    = "granted_at"
	ColAssignedBy   = "assigned_by"
	ColAssignedAt   = "assigned_at"

	// Cross-tenant access
	ColSourceTenantID = "source_tenant_id"
	ColTargetTenantID = "target_tenant_id"
	ColRevokedBy      = "revoked_by"
	ColRevokedAt      = "revoked_at"
)

// Field length limits enforced on create and update.
const (
	MaxRoleNameLen           = 100
	MaxRoleDescriptionLen    = 500
	MaxResourceTypeLen       = 100
	MaxActionLen             = 50
	MaxResourceIdentifierLen = 255
	MinRolePriority          = 1
	MaxRolePriority          = 10000
)

// Permission is a (resource_type, action) capability.
type Permission struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ResourceType     string          `db:"resource_type" json:"resource_type"`
	Action           string          `db:"action" json:"action"`
	Description      string          `db:"description" json:"description,omitempty"`
	RiskLevel        types.RiskLevel `db:"risk_level" json:"risk_level"`
	RequiresMFA      bool            `db:"requires_mfa" json:"requires_mfa"`
	RequiresApproval bool            `db:"requires_approval" json:"requires_approval"`
	IsSystem         bool            `db:"is_system" json:"is_system"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Name renders the canonical "TYPE:ACTION" form.
func (p *Permission) Name() string {
	return types.PermissionName(p.ResourceType, p.Action)
}

// Matches reports whether the permission covers the given resource type and
// action exactly.
func (p *Permission) Matches(resourceType, action string) bool {
	return p.ResourceType == resourceType && p.Action == action
}

// Role is a tenant-owned (or global, when TenantID is nil) set of
// permissions. ParentRoleID forms the inheritance chain.
type Role struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	TenantID     *uuid.UUID `db:"tenant_id" json:"tenant_id,omitempty"`
	Name         string     `db:"name" json:"name"`
	Description  string     `db:"description" json:"description,omitempty"`
	Priority     int        `db:"priority" json:"priority"`
	MaxUsers     *int       `db:"max_users" json:"max_users,omitempty"`
	IsSystem     bool       `db:"is_system" json:"is_system"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	ParentRoleID *uuid.UUID `db:"parent_role_id" json:"parent_role_id,omitempty"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	UpdatedBy    string     `db:"updated_by" json:"updated_by,omitempty"`
	Version      int64      `db:"version" json:"version"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IsGlobal reports whether the role belongs to no single tenant.
func (r *Role) IsGlobal() bool {
	return r.TenantID == nil
}

// SameTenant reports whether two roles share a tenant, counting two global
// roles as sharing.
func (r *Role) SameTenant(other *Role) bool {
	if r.TenantID == nil && other.TenantID == nil {
		return true
	}
	if r.TenantID == nil || other.TenantID == nil {
		return false
	}
	return *r.TenantID == *other.TenantID
}

// RolePermission links a permission to a role with optional constraints and
// expiry.
type RolePermission struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	RoleID       uuid.UUID        `db:"role_id" json:"role_id"`
	PermissionID uuid.UUID        `db:"permission_id" json:"permission_id"`
	Constraints  types.Conditions `db:"constraints" json:"constraints,omitempty"`
	ExpiresAt    *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	GrantedBy    string           `db:"granted_by" json:"granted_by"`
	GrantedAt    time.Time        `db:"granted_at" json:"granted_at"`
}

// IsExpired reports whether the grant has lapsed at the given instant.
func (rp *RolePermission) IsExpired(now time.Time) bool {
	return rp.ExpiresAt != nil && !rp.ExpiresAt.After(now)
}

// RoleGrant is a role-permission row joined with its permission.
type RoleGrant struct {
	RolePermission
	Permission *Permission `json:"permission"`
}

// Valid reports whether the grant contributes to a user's permission set.
func (g *RoleGrant) Valid(now time.Time) bool {
	return !g.IsExpired(now) && g.Permission != nil && g.Permission.IsActive
}

// UserRole assigns a role to a user within a tenant.
type UserRole struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	RoleID     uuid.UUID  `db:"role_id" json:"role_id"`
	TenantID   uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	AssignedBy string     `db:"assigned_by" json:"assigned_by"`
	AssignedAt time.Time  `db:"assigned_at" json:"assigned_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
}

// Effective reports whether the assignment is active and unexpired.
func (ur *UserRole) Effective(now time.Time) bool {
	if !ur.IsActive {
		return false
	}
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(now)
}

// UserRoleBinding is a user-role row joined with its role and the role's
// permission grants, the shape the decision pipeline consumes.
type UserRoleBinding struct {
	UserRole
	Role   *Role        `json:"role"`
	Grants []*RoleGrant `json:"grants,omitempty"`
}

// Resource is a concrete addressable object policies can attach to.
type Resource struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	ResourceIdentifier string           `db:"resource_identifier" json:"resource_identifier"`
	ResourceType       string           `db:"resource_type" json:"resource_type"`
	TenantID           uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	Name               string           `db:"name" json:"name,omitempty"`
	ParentResourceID   *uuid.UUID       `db:"parent_resource_id" json:"parent_resource_id,omitempty"`
	Attributes         types.Conditions `db:"attributes" json:"attributes,omitempty"`
	OwnerID            *uuid.UUID       `db:"owner_id" json:"owner_id,omitempty"`
	IsPublic           bool             `db:"is_public" json:"is_public"`
	IsActive           bool             `db:"is_active" json:"is_active"`
	Version            int64            `db:"version" json:"version"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether the given user owns the resource.
func (r *Resource) OwnedBy(userID uuid.UUID) bool {
	return r.OwnerID != nil && *r.OwnerID == userID
}

// Policy is a named, tenant-scoped rule evaluated by the policy evaluator.
// Permissions holds the referenced permissions when loaded eagerly.
type Policy struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	TenantID    uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	Name        string           `db:"name" json:"name"`
	Description string           `db:"description" json:"description,omitempty"`
	PolicyType  types.PolicyType `db:"policy_type" json:"policy_type"`
	Effect      types.Effect     `db:"effect" json:"effect"`
	Priority    int              `db:"priority" json:"priority"`
	Conditions  types.Conditions `db:"conditions" json:"conditions,omitempty"`
	StartDate   *time.Time       `db:"start_date" json:"start_date,omitempty"`
	EndDate     *time.Time       `db:"end_date" json:"end_date,omitempty"`
	IsActive    bool             `db:"is_active" json:"is_active"`
	Version     int64            `db:"version" json:"version"`
	CreatedBy   string           `db:"created_by" json:"created_by"`
	UpdatedBy   string           `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`

	Permissions []*Permission `db:"-" json:"permissions,omitempty"`
	Resources   []*Resource   `db:"-" json:"resources,omitempty"`
}

// ReferencesResource reports whether any attached resource matches the
// request by identifier or by resource type.
func (p *Policy) ReferencesResource(resourceType, resourceID string) bool {
	for _, r := range p.Resources {
		if resourceID != "" && r.ResourceIdentifier == resourceID {
			return true
		}
		if r.ResourceType == resourceType {
			return true
		}
	}
	return false
}

// InEffect reports whether the policy passes its activation gate at the
// given instant: active, start date reached, end date not passed. Both
// boundaries follow the inclusive-start, exclusive-end reading.
func (p *Policy) InEffect(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && !now.Before(*p.EndDate) {
		return false
	}
	return true
}

// CrossTenantAccess lets a source tenant act on a target tenant's resources
// for a set of actions.
type CrossTenantAccess struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	SourceTenantID uuid.UUID        `db:"source_tenant_id" json:"source_tenant_id"`
	TargetTenantID uuid.UUID        `db:"target_tenant_id" json:"target_tenant_id"`
	ResourceType   string           `db:"resource_type" json:"resource_type"`
	ResourceID     *uuid.UUID       `db:"resource_id" json:"resource_id,omitempty"`
	Permissions    []string         `db:"-" json:"permissions"`
	Conditions     types.Conditions `db:"conditions" json:"conditions,omitempty"`
	GrantedBy      string           `db:"granted_by" json:"granted_by"`
	GrantedAt      time.Time        `db:"granted_at" json:"granted_at"`
	ExpiresAt      *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	RevokedBy      *string          `db:"revoked_by" json:"revoked_by,omitempty"`
	RevokedAt      *time.Time       `db:"revoked_at" json:"revoked_at,omitempty"`
	IsActive       bool             `db:"is_active" json:"is_active"`
}

// Usable reports whether the grant is active and unexpired.
func (a *CrossTenantAccess) Usable(now time.Time) bool {
	if !a.IsActive || a.RevokedAt != nil {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// AllowsAction reports whether the grant's permission list contains the
// action.
func (a *CrossTenantAccess) AllowsAction(action string) bool {
	for _, p := range a.Permissions {
		if p == action {
			return true
		}
	}
	return false
}

// Cross-tenant audit actions.
const (
	CrossTenantAuditGranted = "GRANTED"
	CrossTenantAuditRevoked = "REVOKED"
)

// CrossTenantAudit records a grant lifecycle change.
type CrossTenantAudit struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	AccessID    uuid.UUID        `db:"access_id" json:"access_id"`
	Action      string           `db:"action" json:"action"`
	PerformedBy string           `db:"performed_by" json:"performed_by"`
	PerformedAt time.Time        `db:"performed_at" json:"performed_at"`
	Details     types.Conditions `db:"details" json:"details,omitempty"`
}

// ValidationError describes a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
