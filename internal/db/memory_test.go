package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnipa/authz-service/pkg/types"
)

func newTestRole(tenantID *uuid.UUID, name string, priority int) *Role {
	now := time.Now().UTC()
	return &Role{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Priority:  priority,
		IsActive:  true,
		CreatedBy: "test",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestPermission(resourceType, action string) *Permission {
	now := time.Now().UTC()
	return &Permission{
		ID:           uuid.New(),
		ResourceType: resourceType,
		Action:       action,
		RiskLevel:    types.RiskLow,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestPolicy(tenantID uuid.UUID, name string, policyType types.PolicyType, effect types.Effect, priority int) *Policy {
	now := time.Now().UTC()
	return &Policy{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       name,
		PolicyType: policyType,
		Effect:     effect,
		Priority:   priority,
		IsActive:   true,
		CreatedBy:  "test",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryStoreRoleLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()

	role := newTestRole(&tenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, role))

	dup := newTestRole(&tenant, "ANALYST", 100)
	err := store.CreateRole(ctx, dup)
	require.ErrorIs(t, err, ErrDuplicate)

	otherTenant := uuid.New()
	sameNameOtherTenant := newTestRole(&otherTenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, sameNameOtherTenant))

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "ANALYST", got.Name)
	require.NotNil(t, got.TenantID)
	assert.Equal(t, tenant, *got.TenantID)

	byName, err := store.GetRoleByName(ctx, &tenant, "ANALYST")
	require.NoError(t, err)
	assert.Equal(t, role.ID, byName.ID)

	_, err = store.GetRoleByName(ctx, nil, "ANALYST")
	require.ErrorIs(t, err, ErrNotFound)

	global := newTestRole(nil, "SUPER_ADMIN", 10000)
	require.NoError(t, store.CreateRole(ctx, global))

	byGlobalName, err := store.GetRoleByName(ctx, nil, "SUPER_ADMIN")
	require.NoError(t, err)
	assert.Nil(t, byGlobalName.TenantID)
}

func TestMemoryStoreListRoles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()

	high := newTestRole(&tenant, "TENANT_ADMIN", 1000)
	low := newTestRole(&tenant, "VIEWER", 100)
	inactive := newTestRole(&tenant, "RETIRED", 50)
	inactive.IsActive = false
	global := newTestRole(nil, "SUPER_ADMIN", 10000)

	for _, r := range []*Role{low, high, inactive, global} {
		require.NoError(t, store.CreateRole(ctx, r))
	}

	tenantOnly, err := store.ListRoles(ctx, RoleFilter{TenantID: &tenant, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, tenantOnly, 2)
	assert.Equal(t, "TENANT_ADMIN", tenantOnly[0].Name)
	assert.Equal(t, "VIEWER", tenantOnly[1].Name)

	withGlobal, err := store.ListRoles(ctx, RoleFilter{TenantID: &tenant, IncludeGlobal: true, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, withGlobal, 3)
	assert.Equal(t, "SUPER_ADMIN", withGlobal[0].Name)

	limited, err := store.ListRoles(ctx, RoleFilter{TenantID: &tenant, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestMemoryStoreUpdateRoleVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()

	role := newTestRole(&tenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, role))

	first := *role
	first.Description = "first writer"
	require.NoError(t, store.UpdateRole(ctx, &first))
	assert.Equal(t, int64(1), first.Version)

	stale := *role
	stale.Description = "stale writer"
	err := store.UpdateRole(ctx, &stale)
	require.ErrorIs(t, err, ErrVersionConflict)

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", got.Description)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStorePermissionCatalog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	read := newTestPermission("DATASET", "READ")
	write := newTestPermission("DATASET", "WRITE")
	report := newTestPermission("REPORT", "READ")
	retired := newTestPermission("DATASET", "PURGE")
	retired.IsActive = false

	for _, p := range []*Permission{read, write, report, retired} {
		require.NoError(t, store.CreatePermission(ctx, p))
	}

	err := store.CreatePermission(ctx, newTestPermission("DATASET", "READ"))
	require.ErrorIs(t, err, ErrDuplicate)

	byName, err := store.GetPermissionByName(ctx, "DATASET", "WRITE")
	require.NoError(t, err)
	assert.Equal(t, write.ID, byName.ID)

	typesList, err := store.DistinctResourceTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DATASET", "REPORT"}, typesList)

	actions, err := store.DistinctActions(ctx, "DATASET")
	require.NoError(t, err)
	assert.Equal(t, []string{"READ", "WRITE"}, actions)

	filtered, err := store.ListPermissions(ctx, PermissionFilter{ResourceType: "DATASET", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
}

func TestMemoryStoreRoleGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	now := time.Now().UTC()

	role := newTestRole(&tenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, role))
	perm := newTestPermission("DATASET", "READ")
	require.NoError(t, store.CreatePermission(ctx, perm))

	grant := &RolePermission{
		ID:           uuid.New(),
		RoleID:       role.ID,
		PermissionID: perm.ID,
		Constraints:  types.Conditions{"max_rows": 1000},
		GrantedBy:    "admin",
		GrantedAt:    now,
	}
	require.NoError(t, store.AssignPermission(ctx, grant))

	err := store.AssignPermission(ctx, &RolePermission{
		ID: uuid.New(), RoleID: role.ID, PermissionID: perm.ID, GrantedBy: "admin", GrantedAt: now,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	err = store.AssignPermission(ctx, &RolePermission{
		ID: uuid.New(), RoleID: uuid.New(), PermissionID: perm.ID, GrantedBy: "admin", GrantedAt: now,
	})
	require.ErrorIs(t, err, ErrNotFound)

	grants, err := store.ListRoleGrants(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "DATASET:READ", grants[0].Permission.Name())
	maxRows, ok := grants[0].Constraints.Number("max_rows")
	assert.True(t, ok)
	assert.Equal(t, float64(1000), maxRows)

	expiry := now.Add(48 * time.Hour)
	require.NoError(t, store.UpdateGrantConstraints(ctx, role.ID, perm.ID, nil, &expiry))

	expiring, err := store.ListExpiringGrants(ctx, role.ID, now, now.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)

	outside, err := store.ListExpiringGrants(ctx, role.ID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, outside)

	require.NoError(t, store.RevokePermission(ctx, role.ID, perm.ID))
	err = store.RevokePermission(ctx, role.ID, perm.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreActiveUserRoles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	user := uuid.New()
	now := time.Now().UTC()

	admin := newTestRole(&tenant, "TENANT_ADMIN", 1000)
	viewer := newTestRole(&tenant, "VIEWER", 100)
	dormant := newTestRole(&tenant, "DORMANT", 500)
	dormant.IsActive = false
	for _, r := range []*Role{admin, viewer, dormant} {
		require.NoError(t, store.CreateRole(ctx, r))
	}

	read := newTestPermission("DATASET", "READ")
	manage := newTestPermission("TENANT", "MANAGE")
	lapsed := newTestPermission("DATASET", "EXPORT")
	for _, p := range []*Permission{read, manage, lapsed} {
		require.NoError(t, store.CreatePermission(ctx, p))
	}

	past := now.Add(-time.Hour)
	require.NoError(t, store.AssignPermission(ctx, &RolePermission{
		ID: uuid.New(), RoleID: viewer.ID, PermissionID: read.ID, GrantedBy: "admin", GrantedAt: now,
	}))
	require.NoError(t, store.AssignPermission(ctx, &RolePermission{
		ID: uuid.New(), RoleID: viewer.ID, PermissionID: lapsed.ID, ExpiresAt: &past, GrantedBy: "admin", GrantedAt: now,
	}))
	require.NoError(t, store.AssignPermission(ctx, &RolePermission{
		ID: uuid.New(), RoleID: admin.ID, PermissionID: manage.ID, GrantedBy: "admin", GrantedAt: now,
	}))

	for _, roleID := range []uuid.UUID{viewer.ID, admin.ID, dormant.ID} {
		require.NoError(t, store.AssignRole(ctx, &UserRole{
			ID: uuid.New(), UserID: user, RoleID: roleID, TenantID: tenant,
			AssignedBy: "admin", AssignedAt: now, IsActive: true,
		}))
	}

	bindings, err := store.ListActiveUserRoles(ctx, user, tenant, now)
	require.NoError(t, err)
	require.Len(t, bindings, 2, "inactive role must be excluded")

	assert.Equal(t, "TENANT_ADMIN", bindings[0].Role.Name)
	assert.Equal(t, "VIEWER", bindings[1].Role.Name)

	require.Len(t, bindings[1].Grants, 1, "expired grant must be excluded")
	assert.Equal(t, "DATASET:READ", bindings[1].Grants[0].Permission.Name())

	otherTenant := uuid.New()
	none, err := store.ListActiveUserRoles(ctx, user, otherTenant, now)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreUserRoleAssignmentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	user := uuid.New()
	now := time.Now().UTC()

	role := newTestRole(&tenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, role))

	assignment := &UserRole{
		ID: uuid.New(), UserID: user, RoleID: role.ID, TenantID: tenant,
		AssignedBy: "admin", AssignedAt: now, IsActive: true,
	}
	require.NoError(t, store.AssignRole(ctx, assignment))

	err := store.AssignRole(ctx, &UserRole{
		ID: uuid.New(), UserID: user, RoleID: role.ID, TenantID: tenant,
		AssignedBy: "admin", AssignedAt: now, IsActive: true,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, store.RevokeRole(ctx, user, role.ID, tenant))
	err = store.RevokeRole(ctx, user, role.ID, tenant)
	require.ErrorIs(t, err, ErrNotFound, "revoking an inactive assignment reports not found")

	got, err := store.GetUserRole(ctx, user, role.ID, tenant)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	require.NoError(t, store.ReactivateUserRole(ctx, assignment.ID, "admin2", nil))
	got, err = store.GetUserRole(ctx, user, role.ID, tenant)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "admin2", got.AssignedBy)

	count, err := store.CountActiveRoleUsers(ctx, role.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreDeactivateExpiredUserRoles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	role := newTestRole(&tenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, role))

	expired := &UserRole{
		ID: uuid.New(), UserID: uuid.New(), RoleID: role.ID, TenantID: tenant,
		AssignedBy: "admin", AssignedAt: past, ExpiresAt: &past, IsActive: true,
	}
	current := &UserRole{
		ID: uuid.New(), UserID: uuid.New(), RoleID: role.ID, TenantID: tenant,
		AssignedBy: "admin", AssignedAt: past, ExpiresAt: &future, IsActive: true,
	}
	require.NoError(t, store.AssignRole(ctx, expired))
	require.NoError(t, store.AssignRole(ctx, current))

	n, err := store.DeactivateExpiredUserRoles(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetUserRole(ctx, expired.UserID, role.ID, tenant)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	n, err = store.DeactivateExpiredUserRoles(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")
}

func TestMemoryStoreResources(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	owner := uuid.New()
	now := time.Now().UTC()

	parent := &Resource{
		ID: uuid.New(), ResourceIdentifier: "dataset-root", ResourceType: "DATASET",
		TenantID: tenant, OwnerID: &owner, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateResource(ctx, parent))

	child := &Resource{
		ID: uuid.New(), ResourceIdentifier: "dataset-child", ResourceType: "DATASET",
		TenantID: tenant, ParentResourceID: &parent.ID, IsActive: true,
		CreatedAt: now.Add(time.Second), UpdatedAt: now,
	}
	require.NoError(t, store.CreateResource(ctx, child))

	err := store.CreateResource(ctx, &Resource{
		ID: uuid.New(), ResourceIdentifier: "dataset-root", ResourceType: "DATASET",
		TenantID: tenant, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	otherTenant := uuid.New()
	require.NoError(t, store.CreateResource(ctx, &Resource{
		ID: uuid.New(), ResourceIdentifier: "dataset-root", ResourceType: "DATASET",
		TenantID: otherTenant, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))

	byIdent, err := store.GetResourceByIdentifier(ctx, tenant, "dataset-root")
	require.NoError(t, err)
	assert.Equal(t, parent.ID, byIdent.ID)

	children, err := store.ListChildResources(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	owned, err := store.ListResources(ctx, ResourceFilter{TenantID: tenant, OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, parent.ID, owned[0].ID)
}

func TestMemoryStorePolicies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	now := time.Now().UTC()

	read := newTestPermission("DATASET", "READ")
	require.NoError(t, store.CreatePermission(ctx, read))

	policy := newTestPolicy(tenant, "dataset-readers", types.PolicyIdentityBased, types.EffectAllow, 200)
	require.NoError(t, store.CreatePolicy(ctx, policy, []uuid.UUID{read.ID}))

	err := store.CreatePolicy(ctx, newTestPolicy(tenant, "dataset-readers", types.PolicyAttributeBased, types.EffectAllow, 100), nil)
	require.ErrorIs(t, err, ErrDuplicate)

	got, err := store.GetPolicy(ctx, policy.ID)
	require.NoError(t, err)
	require.Len(t, got.Permissions, 1)
	assert.Equal(t, "DATASET:READ", got.Permissions[0].Name())

	past := now.Add(-time.Hour)
	lapsed := newTestPolicy(tenant, "lapsed", types.PolicyTimeBased, types.EffectAllow, 500)
	lapsed.EndDate = &past
	require.NoError(t, store.CreatePolicy(ctx, lapsed, nil))

	active, err := store.ListActiveTenantPolicies(ctx, tenant, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "dataset-readers", active[0].Name)

	n, err := store.DeactivateExpiredPolicies(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	lapsedAfter, err := store.GetPolicy(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.False(t, lapsedAfter.IsActive)
}

func TestMemoryStoreUpdatePolicyDuplicateName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()

	first := newTestPolicy(tenant, "dataset-readers", types.PolicyIdentityBased, types.EffectAllow, 200)
	require.NoError(t, store.CreatePolicy(ctx, first, nil))
	second := newTestPolicy(tenant, "report-readers", types.PolicyIdentityBased, types.EffectAllow, 100)
	require.NoError(t, store.CreatePolicy(ctx, second, nil))

	// Renaming onto another policy's (tenant, name) is a duplicate.
	second.Name = "dataset-readers"
	err := store.UpdatePolicy(ctx, second, nil)
	require.ErrorIs(t, err, ErrDuplicate)

	// Keeping its own name is not.
	second.Name = "report-readers"
	require.NoError(t, store.UpdatePolicy(ctx, second, nil))

	// The same name under another tenant is fine.
	other := newTestPolicy(uuid.New(), "dataset-readers", types.PolicyIdentityBased, types.EffectAllow, 100)
	require.NoError(t, store.CreatePolicy(ctx, other, nil))
	other.Description = "cross-tenant namesake"
	require.NoError(t, store.UpdatePolicy(ctx, other, nil))
}

func TestMemoryStoreResourcePolicies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	now := time.Now().UTC()

	res := &Resource{
		ID: uuid.New(), ResourceIdentifier: "dataset-1", ResourceType: "DATASET",
		TenantID: tenant, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateResource(ctx, res))

	strict := newTestPolicy(tenant, "strict", types.PolicyResourceBased, types.EffectDeny, 900)
	loose := newTestPolicy(tenant, "loose", types.PolicyResourceBased, types.EffectAllow, 100)
	require.NoError(t, store.CreatePolicy(ctx, strict, nil))
	require.NoError(t, store.CreatePolicy(ctx, loose, nil))

	require.NoError(t, store.AttachPolicy(ctx, strict.ID, res.ID))
	require.NoError(t, store.AttachPolicy(ctx, loose.ID, res.ID))
	require.NoError(t, store.AttachPolicy(ctx, loose.ID, res.ID), "attach is idempotent")

	attached, err := store.ListActiveResourcePolicies(ctx, res.ID, now)
	require.NoError(t, err)
	require.Len(t, attached, 2)
	assert.Equal(t, "strict", attached[0].Name, "higher priority first")

	tenantWide, err := store.ListActiveTenantPolicies(ctx, tenant, now)
	require.NoError(t, err)
	assert.Empty(t, tenantWide, "attached policies leave the tenant-wide set")

	require.NoError(t, store.DetachPolicy(ctx, strict.ID, res.ID))
	attached, err = store.ListActiveResourcePolicies(ctx, res.ID, now)
	require.NoError(t, err)
	require.Len(t, attached, 1)

	err = store.DetachPolicy(ctx, strict.ID, res.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCrossTenantGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	source := uuid.New()
	target := uuid.New()
	now := time.Now().UTC()

	older := &CrossTenantAccess{
		ID: uuid.New(), SourceTenantID: source, TargetTenantID: target,
		ResourceType: "DATASET", Permissions: []string{"READ"},
		GrantedBy: "admin", GrantedAt: now.Add(-time.Hour), IsActive: true,
	}
	newer := &CrossTenantAccess{
		ID: uuid.New(), SourceTenantID: source, TargetTenantID: target,
		ResourceType: "DATASET", Permissions: []string{"READ", "EXPORT"},
		GrantedBy: "admin", GrantedAt: now, IsActive: true,
	}
	require.NoError(t, store.CreateCrossTenantGrant(ctx, older))
	require.NoError(t, store.CreateCrossTenantGrant(ctx, newer))

	found, err := store.FindActiveCrossTenantGrant(ctx, source, target, "DATASET", now)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, found.ID, "newest grant wins")
	assert.ElementsMatch(t, []string{"READ", "EXPORT"}, found.Permissions)

	_, err = store.FindActiveCrossTenantGrant(ctx, source, target, "REPORT", now)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindActiveCrossTenantGrant(ctx, target, source, "DATASET", now)
	require.ErrorIs(t, err, ErrNotFound, "direction matters")

	require.NoError(t, store.RevokeCrossTenantGrant(ctx, newer.ID, "security", now))
	err = store.RevokeCrossTenantGrant(ctx, newer.ID, "security", now)
	require.ErrorIs(t, err, ErrNotFound, "double revoke reports not found")

	found, err = store.FindActiveCrossTenantGrant(ctx, source, target, "DATASET", now)
	require.NoError(t, err)
	assert.Equal(t, older.ID, found.ID)

	require.NoError(t, store.AppendCrossTenantAudit(ctx, &CrossTenantAudit{
		ID: uuid.New(), AccessID: newer.ID, Action: CrossTenantAuditRevoked,
		PerformedBy: "security", PerformedAt: now,
	}))
	trail, err := store.ListCrossTenantAudit(ctx, newer.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, CrossTenantAuditRevoked, trail[0].Action)
}

func TestMemoryStoreDeactivateExpiredCrossTenantGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	grant := &CrossTenantAccess{
		ID: uuid.New(), SourceTenantID: uuid.New(), TargetTenantID: uuid.New(),
		ResourceType: "DATASET", GrantedBy: "admin", GrantedAt: now.Add(-time.Hour),
		ExpiresAt: &past, IsActive: true,
	}
	require.NoError(t, store.CreateCrossTenantGrant(ctx, grant))

	n, err := store.DeactivateExpiredCrossTenantGrants(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetCrossTenantGrant(ctx, grant.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestMemoryStoreCloningPreventsAliasing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()

	role := newTestRole(&tenant, "ANALYST", 300)
	require.NoError(t, store.CreateRole(ctx, role))

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	got.Name = "MUTATED"

	again, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "ANALYST", again.Name)
}
