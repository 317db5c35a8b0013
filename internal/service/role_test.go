package service

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/pkg/types"
)

func TestCreateRoleDefaults(t *testing.T) {
	f := newFixture(t)
	read := f.permission("DATASET", "READ")

	role, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID:      &f.tenant,
		Name:          "ANALYST",
		PermissionIDs: []uuid.UUID{read.ID, read.ID},
		CreatedBy:     "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultRolePriority, role.Priority)
	assert.True(t, role.IsActive)
	assert.False(t, role.IsSystem)

	grants, err := f.svc.Roles.Permissions(f.ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, read.ID, grants[0].PermissionID)

	assert.Equal(t, events.TypeRoleCreated, f.sink.last().Type)
}

func TestCreateRoleValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{TenantID: &f.tenant})
	assert.True(t, autherr.IsKind(err, autherr.KindValidation))

	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "X", Priority: 20000,
	})
	assert.True(t, autherr.IsKind(err, autherr.KindValidation))

	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "X", MaxUsers: ptr(0),
	})
	assert.True(t, autherr.IsKind(err, autherr.KindValidation))

	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "X", Description: strings.Repeat("d", db.MaxRoleDescriptionLen+1),
	})
	assert.True(t, autherr.IsKind(err, autherr.KindValidation))
}

func TestCreateRoleUnknownPermission(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID:      &f.tenant,
		Name:          "ANALYST",
		PermissionIDs: []uuid.UUID{uuid.New()},
		CreatedBy:     "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindNotFound))
}

func TestCreateRolePermissionCap(t *testing.T) {
	f := newFixtureWithConfig(t, config.AuthzConfig{MaxPermissionsPerRole: 2})
	ids := []uuid.UUID{
		f.permission("DATASET", "READ").ID,
		f.permission("DATASET", "WRITE").ID,
		f.permission("DATASET", "DELETE").ID,
	}

	_, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "FAT", PermissionIDs: ids, CreatedBy: "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))
}

func TestCreateRoleDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.newRole("OPS")

	_, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "OPS", CreatedBy: "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindDuplicate))
}

func TestCreateRoleParentChecks(t *testing.T) {
	f := newFixture(t)
	parent := f.newRole("PARENT")

	otherTenant := uuid.New()
	_, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &otherTenant, Name: "CHILD", ParentRoleID: &parent.ID, CreatedBy: "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindTenantIsolation))

	missing := uuid.New()
	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "CHILD", ParentRoleID: &missing, CreatedBy: "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindNotFound))

	child, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "CHILD", ParentRoleID: &parent.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)
	require.NotNil(t, child.ParentRoleID)
	assert.Equal(t, parent.ID, *child.ParentRoleID)
}

func TestRoleHierarchyDepthLimit(t *testing.T) {
	f := newFixtureWithConfig(t, config.AuthzConfig{MaxHierarchyDepth: 3})

	a := f.newRole("A")
	b, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "B", ParentRoleID: &a.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)
	c, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "C", ParentRoleID: &b.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)

	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "D", ParentRoleID: &c.ID, CreatedBy: "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))
}

func TestRoleCyclePrevented(t *testing.T) {
	f := newFixture(t)

	a := f.newRole("A")
	b, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "B", ParentRoleID: &a.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)
	c, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "C", ParentRoleID: &b.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)

	_, err = f.svc.Roles.Update(f.ctx, a.ID, UpdateRoleRequest{ParentRoleID: &c.ID, UpdatedBy: "alice"})
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))

	_, err = f.svc.Roles.Update(f.ctx, a.ID, UpdateRoleRequest{ParentRoleID: &a.ID, UpdatedBy: "alice"})
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t)
	role := f.newRole("OPS")

	updated, err := f.svc.Roles.Update(f.ctx, role.ID, UpdateRoleRequest{
		Name:      ptr("OPERATIONS"),
		Priority:  ptr(500),
		UpdatedBy: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "OPERATIONS", updated.Name)
	assert.Equal(t, 500, updated.Priority)
	assert.Equal(t, events.TypeRoleUpdated, f.sink.last().Type)

	got, err := f.svc.Roles.Get(f.ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "OPERATIONS", got.Name)

	// A request that changes nothing publishes nothing.
	before := f.sink.count()
	_, err = f.svc.Roles.Update(f.ctx, role.ID, UpdateRoleRequest{Name: ptr("OPERATIONS"), UpdatedBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, before, f.sink.count())
}

func TestUpdateRoleSystemGuard(t *testing.T) {
	f := newFixture(t)
	sys := f.systemRole("TENANT_ADMIN")

	_, err := f.svc.Roles.Update(f.ctx, sys.ID, UpdateRoleRequest{Description: ptr("x"), UpdatedBy: "bob"})
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))

	_, err = f.svc.Roles.Update(f.ctx, sys.ID, UpdateRoleRequest{
		Description: ptr("x"), OverrideSystem: true, UpdatedBy: "bob",
	})
	assert.NoError(t, err)
}

func TestUpdateRoleVersionConflict(t *testing.T) {
	f := newFixture(t)
	role := f.newRole("OPS")

	_, err := f.svc.Roles.Update(f.ctx, role.ID, UpdateRoleRequest{Priority: ptr(200), UpdatedBy: "bob"})
	require.NoError(t, err)

	_, err = f.svc.Roles.Update(f.ctx, role.ID, UpdateRoleRequest{
		Priority: ptr(300), Version: ptr(int64(0)), UpdatedBy: "bob",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindConflict))
}

func TestUpdateRoleDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.newRole("A")
	b := f.newRole("B")

	_, err := f.svc.Roles.Update(f.ctx, b.ID, UpdateRoleRequest{Name: ptr("A"), UpdatedBy: "bob"})
	assert.True(t, autherr.IsKind(err, autherr.KindDuplicate))
}

func TestUpdateRoleMaxUsersFloor(t *testing.T) {
	f := newFixture(t)
	role := f.newRole("LIMITED")
	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.AssignRole(f.ctx, &db.UserRole{
			ID: uuid.New(), UserID: uuid.New(), RoleID: role.ID, TenantID: f.tenant,
			AssignedBy: "test", AssignedAt: time.Now().UTC(), IsActive: true,
		}))
	}

	_, err := f.svc.Roles.Update(f.ctx, role.ID, UpdateRoleRequest{MaxUsers: ptr(1), UpdatedBy: "bob"})
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))

	updated, err := f.svc.Roles.Update(f.ctx, role.ID, UpdateRoleRequest{MaxUsers: ptr(2), UpdatedBy: "bob"})
	require.NoError(t, err)
	require.NotNil(t, updated.MaxUsers)
	assert.Equal(t, 2, *updated.MaxUsers)
}

func TestDeleteRoleGuards(t *testing.T) {
	f := newFixture(t)

	sys := f.systemRole("TENANT_ADMIN")
	err := f.svc.Roles.Delete(f.ctx, sys.ID, "bob")
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))

	held := f.newRole("HELD")
	f.assign(held.ID)
	err = f.svc.Roles.Delete(f.ctx, held.ID, "bob")
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))

	parent := f.newRole("PARENT")
	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "CHILD", ParentRoleID: &parent.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)
	err = f.svc.Roles.Delete(f.ctx, parent.ID, "bob")
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))
}

func TestDeleteRoleKeepsNameReserved(t *testing.T) {
	f := newFixture(t)
	role := f.newRole("EPHEMERAL")

	require.NoError(t, f.svc.Roles.Delete(f.ctx, role.ID, "bob"))
	assert.Equal(t, events.TypeRoleDeleted, f.sink.last().Type)

	got, err := f.svc.Roles.Get(f.ctx, role.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "EPHEMERAL", CreatedBy: "alice",
	})
	assert.True(t, autherr.IsKind(err, autherr.KindDuplicate))
}

func TestCloneRole(t *testing.T) {
	f := newFixture(t)
	perm := f.permission("DATASET", "READ")
	source := f.systemRole("CURATOR")
	require.NoError(t, f.store.AssignPermission(f.ctx, &db.RolePermission{
		ID: uuid.New(), RoleID: source.ID, PermissionID: perm.ID,
		Constraints: types.Conditions{"env": "prod"},
		GrantedBy:   "test", GrantedAt: time.Now().UTC(),
	}))

	clone, err := f.svc.Roles.Clone(f.ctx, source.ID, "CURATOR_COPY", &f.tenant, "carol")
	require.NoError(t, err)
	assert.False(t, clone.IsSystem)
	assert.Equal(t, source.Priority, clone.Priority)

	grants, err := f.svc.Roles.Permissions(f.ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, perm.ID, grants[0].PermissionID)
	assert.Equal(t, "prod", grants[0].Constraints["env"])
}

func TestCloneRoleParentLink(t *testing.T) {
	f := newFixture(t)
	parent := f.newRole("PARENT")
	source, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "SOURCE", ParentRoleID: &parent.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)

	same, err := f.svc.Roles.Clone(f.ctx, source.ID, "SAME_TENANT", &f.tenant, "carol")
	require.NoError(t, err)
	require.NotNil(t, same.ParentRoleID)
	assert.Equal(t, parent.ID, *same.ParentRoleID)

	otherTenant := uuid.New()
	other, err := f.svc.Roles.Clone(f.ctx, source.ID, "OTHER_TENANT", &otherTenant, "carol")
	require.NoError(t, err)
	assert.Nil(t, other.ParentRoleID)
}

func TestAssignPermissionsIdempotent(t *testing.T) {
	f := newFixture(t)
	p1 := f.permission("DATASET", "READ")
	p2 := f.permission("DATASET", "WRITE")
	role := f.newRole("OPS", p1.ID)

	granted, err := f.svc.Roles.AssignPermissions(f.ctx, role.ID, []uuid.UUID{p1.ID, p2.ID}, "dave")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p2.ID}, granted)
	assert.Equal(t, 1, f.sink.countOf(events.TypePermissionGranted))

	granted, err = f.svc.Roles.AssignPermissions(f.ctx, role.ID, []uuid.UUID{p1.ID, p2.ID}, "dave")
	require.NoError(t, err)
	assert.Empty(t, granted)
	assert.Equal(t, 1, f.sink.countOf(events.TypePermissionGranted))
}

func TestAssignPermissionsCap(t *testing.T) {
	f := newFixtureWithConfig(t, config.AuthzConfig{MaxPermissionsPerRole: 2})
	p1 := f.permission("DATASET", "READ")
	p2 := f.permission("DATASET", "WRITE")
	p3 := f.permission("DATASET", "DELETE")
	role := f.newRole("OPS", p1.ID)

	_, err := f.svc.Roles.AssignPermissions(f.ctx, role.ID, []uuid.UUID{p2.ID, p3.ID}, "dave")
	assert.True(t, autherr.IsKind(err, autherr.KindBusinessRule))
}

func TestRemovePermission(t *testing.T) {
	f := newFixture(t)
	perm := f.permission("DATASET", "READ")
	role := f.newRole("OPS", perm.ID)

	require.NoError(t, f.svc.Roles.RemovePermission(f.ctx, role.ID, perm.ID, "dave"))
	assert.Equal(t, events.TypePermissionRevoked, f.sink.last().Type)

	grants, err := f.svc.Roles.Permissions(f.ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	err = f.svc.Roles.RemovePermission(f.ctx, role.ID, perm.ID, "dave")
	assert.True(t, autherr.IsKind(err, autherr.KindNotFound))
}

func TestGrantExpirationAndConstraints(t *testing.T) {
	f := newFixture(t)
	perm := f.permission("DATASET", "READ")
	role := f.newRole("OPS", perm.ID)

	err := f.svc.Roles.SetPermissionExpiration(f.ctx, role.ID, perm.ID, time.Now().UTC().Add(-time.Hour))
	assert.True(t, autherr.IsKind(err, autherr.KindValidation))

	future := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, f.svc.Roles.SetPermissionExpiration(f.ctx, role.ID, perm.ID, future))

	require.NoError(t, f.svc.Roles.UpdatePermissionConstraints(f.ctx, role.ID, perm.ID, types.Conditions{"env": "prod"}))

	grants, err := f.svc.Roles.Permissions(f.ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].ExpiresAt)
	assert.WithinDuration(t, future, *grants[0].ExpiresAt, time.Second)
	assert.Equal(t, "prod", grants[0].Constraints["env"])

	err = f.svc.Roles.UpdatePermissionConstraints(f.ctx, role.ID, uuid.New(), nil)
	assert.True(t, autherr.IsKind(err, autherr.KindNotFound))
}

func TestInheritedPermissions(t *testing.T) {
	f := newFixture(t)
	read := f.permission("DATASET", "READ")
	write := f.permission("DATASET", "WRITE")
	parent := f.newRole("PARENT", read.ID)
	child, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID:      &f.tenant,
		Name:          "CHILD",
		ParentRoleID:  &parent.ID,
		PermissionIDs: []uuid.UUID{write.ID},
		CreatedBy:     "alice",
	})
	require.NoError(t, err)

	perms, err := f.svc.Roles.GetAllPermissionsIncludingInherited(f.ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "DATASET:READ", perms[0].Name())
	assert.Equal(t, "DATASET:WRITE", perms[1].Name())

	// An inactive parent no longer contributes.
	require.NoError(t, f.store.SetRoleActive(f.ctx, parent.ID, false, "test"))
	perms, err = f.svc.Roles.GetAllPermissionsIncludingInherited(f.ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "DATASET:WRITE", perms[0].Name())
}

func TestGetHierarchy(t *testing.T) {
	f := newFixture(t)
	pa := f.permission("AUDIT", "READ")
	pc := f.permission("REPORT", "READ")
	a := f.newRole("A", pa.ID)
	b, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "B", ParentRoleID: &a.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)
	c, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "C", ParentRoleID: &b.ID,
		PermissionIDs: []uuid.UUID{pc.ID}, CreatedBy: "alice",
	})
	require.NoError(t, err)

	h, err := f.svc.Roles.GetHierarchy(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, h.Role.ID)
	require.Len(t, h.Ancestors, 2)
	assert.Equal(t, b.ID, h.Ancestors[0].ID)
	assert.Equal(t, a.ID, h.Ancestors[1].ID)
	assert.Empty(t, h.Children)
	require.Len(t, h.Permissions, 2)

	mid, err := f.svc.Roles.GetHierarchy(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, mid.Children, 1)
	assert.Equal(t, c.ID, mid.Children[0].ID)
}

func TestGetExpiringPermissions(t *testing.T) {
	f := newFixture(t)
	soon := f.permission("DATASET", "READ")
	open := f.permission("DATASET", "WRITE")
	role := f.newRole("OPS")
	require.NoError(t, f.store.AssignPermission(f.ctx, &db.RolePermission{
		ID: uuid.New(), RoleID: role.ID, PermissionID: soon.ID,
		ExpiresAt: ptr(time.Now().UTC().Add(5 * 24 * time.Hour)),
		GrantedBy: "test", GrantedAt: time.Now().UTC(),
	}))
	require.NoError(t, f.store.AssignPermission(f.ctx, &db.RolePermission{
		ID: uuid.New(), RoleID: role.ID, PermissionID: open.ID,
		GrantedBy: "test", GrantedAt: time.Now().UTC(),
	}))

	expiring, err := f.svc.Roles.GetExpiringPermissions(f.ctx, role.ID, 0)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.ID, expiring[0].PermissionID)

	expiring, err = f.svc.Roles.GetExpiringPermissions(f.ctx, role.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, expiring)

	_, err = f.svc.Roles.GetExpiringPermissions(f.ctx, uuid.New(), 0)
	assert.True(t, autherr.IsKind(err, autherr.KindNotFound))
}

func TestRoleStatistics(t *testing.T) {
	f := newFixture(t)
	p1 := f.permission("DATASET", "READ")
	p2 := f.permission("DATASET", "WRITE")
	role := f.newRole("OPS", p1.ID, p2.ID)
	f.assign(role.ID)
	_, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID: &f.tenant, Name: "JUNIOR_OPS", ParentRoleID: &role.ID, CreatedBy: "alice",
	})
	require.NoError(t, err)

	stats, err := f.svc.Roles.Statistics(f.ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPermissions)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.ChildRoles)
}

func TestRoleCountIgnoresPagination(t *testing.T) {
	f := newFixture(t)
	f.newRole("A")
	f.newRole("B")
	f.newRole("C")

	n, err := f.svc.Roles.Count(f.ctx, db.RoleFilter{TenantID: &f.tenant, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := f.svc.Roles.List(f.ctx, db.RoleFilter{TenantID: &f.tenant, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
