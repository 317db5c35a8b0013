package rest

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/service"
)

func (f *fixture) createRole(name string, priority int) *db.Role {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/roles", CreateRoleRequest{
		TenantID: &f.tenant,
		Name:     name,
		Priority: priority,
	}, "")
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var role db.Role
	f.decode(rec, &role)
	return &role
}

func (f *fixture) createPermission(resourceType, action string) *db.Permission {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/permissions", CreatePermissionRequest{
		ResourceType: resourceType,
		Action:       action,
	}, "")
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var perm db.Permission
	f.decode(rec, &perm)
	return &perm
}

func TestRoleCRUDOverHTTP(t *testing.T) {
	f := newFixture(t)

	role := f.createRole("editor", 500)
	assert.Equal(t, "editor", role.Name)
	assert.True(t, role.IsActive)
	assert.EqualValues(t, 0, role.Version)

	rec := f.do(http.MethodGet, "/api/v1/roles/"+role.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/roles/"+role.ID.String(), UpdateRoleRequest{
		Description: ptr("dataset editors"),
		UpdatedBy:   "ops",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var updated db.Role
	f.decode(rec, &updated)
	assert.Equal(t, "dataset editors", updated.Description)
	assert.EqualValues(t, 1, updated.Version)

	rec = f.do(http.MethodGet, "/api/v1/roles?tenant_id="+f.tenant.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Roles []*db.Role `json:"roles"`
		Count int        `json:"count"`
	}
	f.decode(rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(http.MethodDelete, "/api/v1/roles/"+role.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+role.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoleDuplicateNameOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.createRole("editor", 500)

	rec := f.do(http.MethodPost, "/api/v1/roles", CreateRoleRequest{
		TenantID: &f.tenant,
		Name:     "editor",
		Priority: 100,
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", f.envelope(rec).Error)
}

func TestRoleVersionConflictOverHTTP(t *testing.T) {
	f := newFixture(t)
	role := f.createRole("editor", 500)

	rec := f.do(http.MethodPut, "/api/v1/roles/"+role.ID.String(), UpdateRoleRequest{
		Priority:  ptr(600),
		UpdatedBy: "ops",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/roles/"+role.ID.String(), UpdateRoleRequest{
		Priority:  ptr(700),
		Version:   ptr(int64(0)),
		UpdatedBy: "ops",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", f.envelope(rec).Error)
}

func TestRolePermissionFlowOverHTTP(t *testing.T) {
	f := newFixture(t)
	role := f.createRole("editor", 500)
	read := f.createPermission("DATASET", "READ")
	write := f.createPermission("DATASET", "WRITE")

	rec := f.do(http.MethodPost, "/api/v1/roles/"+role.ID.String()+"/permissions", AssignPermissionsRequest{
		PermissionIDs: []uuid.UUID{read.ID, write.ID},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var assigned struct {
		Assigned []uuid.UUID `json:"assigned"`
		Count    int         `json:"count"`
	}
	f.decode(rec, &assigned)
	assert.Equal(t, 2, assigned.Count)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+role.ID.String()+"/permissions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var grants struct {
		Grants []*db.RoleGrant `json:"grants"`
		Count  int             `json:"count"`
	}
	f.decode(rec, &grants)
	assert.Equal(t, 2, grants.Count)

	expiry := time.Now().Add(5 * 24 * time.Hour).UTC()
	rec = f.do(http.MethodPut, "/api/v1/roles/"+role.ID.String()+"/permissions/"+read.ID.String(), UpdateGrantRequest{
		ExpiresAt: &expiry,
	}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+role.ID.String()+"/expiring-permissions?days=7", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &grants)
	assert.Equal(t, 1, grants.Count)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+role.ID.String()+"/expiring-permissions?days=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &grants)
	assert.Equal(t, 0, grants.Count)

	rec = f.do(http.MethodDelete, "/api/v1/roles/"+role.ID.String()+"/permissions/"+write.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+role.ID.String()+"/permissions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &grants)
	assert.Equal(t, 1, grants.Count)

	// An empty id list never binds.
	rec = f.do(http.MethodPost, "/api/v1/roles/"+role.ID.String()+"/permissions", AssignPermissionsRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoleGrantUpdateRequiresAField(t *testing.T) {
	f := newFixture(t)
	role := f.createRole("editor", 500)
	read := f.createPermission("DATASET", "READ")

	rec := f.do(http.MethodPut, "/api/v1/roles/"+role.ID.String()+"/permissions/"+read.ID.String(), UpdateGrantRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, f.envelope(rec).Message, "expires_at or constraints")
}

func TestRoleHierarchyAndUsersOverHTTP(t *testing.T) {
	f := newFixture(t)
	parent := f.createRole("staff", 100)

	rec := f.do(http.MethodPost, "/api/v1/roles", CreateRoleRequest{
		TenantID:     &f.tenant,
		Name:         "editor",
		Priority:     500,
		ParentRoleID: &parent.ID,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var child db.Role
	f.decode(rec, &child)

	rec = f.do(http.MethodPost, "/api/v1/user-roles", AssignRoleRequest{
		UserID:   f.user,
		RoleID:   child.ID,
		TenantID: f.tenant,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+child.ID.String()+"/hierarchy", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hierarchy service.RoleHierarchy
	f.decode(rec, &hierarchy)
	require.Len(t, hierarchy.Ancestors, 1)
	assert.Equal(t, "staff", hierarchy.Ancestors[0].Name)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+child.ID.String()+"/statistics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats service.RoleStatistics
	f.decode(rec, &stats)
	assert.Equal(t, 1, stats.ActiveUsers)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+child.ID.String()+"/users", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		UserIDs []uuid.UUID `json:"user_ids"`
		Count   int         `json:"count"`
	}
	f.decode(rec, &users)
	require.Equal(t, 1, users.Count)
	assert.Equal(t, f.user, users.UserIDs[0])
}

func TestRoleCloneOverHTTP(t *testing.T) {
	f := newFixture(t)
	read := f.createPermission("DATASET", "READ")
	source := f.createRole("editor", 500)

	rec := f.do(http.MethodPost, "/api/v1/roles/"+source.ID.String()+"/permissions", AssignPermissionsRequest{
		PermissionIDs: []uuid.UUID{read.ID},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/roles/"+source.ID.String()+"/clone", CloneRoleRequest{
		Name: "editor-copy",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var clone db.Role
	f.decode(rec, &clone)
	assert.Equal(t, "editor-copy", clone.Name)
	assert.NotEqual(t, source.ID, clone.ID)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+clone.ID.String()+"/permissions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var grants struct {
		Count int `json:"count"`
	}
	f.decode(rec, &grants)
	assert.Equal(t, 1, grants.Count)
}

func TestRoleInheritedPermissionsOverHTTP(t *testing.T) {
	f := newFixture(t)
	read := f.createPermission("DATASET", "READ")
	write := f.createPermission("DATASET", "WRITE")

	parent := f.createRole("staff", 100)
	rec := f.do(http.MethodPost, "/api/v1/roles/"+parent.ID.String()+"/permissions", AssignPermissionsRequest{
		PermissionIDs: []uuid.UUID{read.ID},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/roles", CreateRoleRequest{
		TenantID:      &f.tenant,
		Name:          "editor",
		Priority:      500,
		ParentRoleID:  &parent.ID,
		PermissionIDs: []uuid.UUID{write.ID},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var child db.Role
	f.decode(rec, &child)

	rec = f.do(http.MethodGet, "/api/v1/roles/"+child.ID.String()+"/permissions?include_inherited=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var perms struct {
		Permissions []*db.Permission `json:"permissions"`
		Count       int              `json:"count"`
	}
	f.decode(rec, &perms)
	assert.Equal(t, 2, perms.Count)
}
