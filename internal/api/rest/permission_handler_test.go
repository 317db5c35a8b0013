package rest

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnipa/authz-service/internal/db"
)

func TestPermissionCatalogOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/permissions", CreatePermissionRequest{
		ResourceType: "DATASET",
		Action:       "READ",
		Description:  "read datasets",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var perm db.Permission
	f.decode(rec, &perm)
	assert.Equal(t, "DATASET:READ", perm.Name())
	assert.True(t, perm.IsActive)

	f.createPermission("DATASET", "WRITE")
	f.createPermission("REPORT", "EXECUTE")

	rec = f.do(http.MethodGet, "/api/v1/permissions/"+perm.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/permissions/by-name?resource_type=DATASET&action=READ", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var byName db.Permission
	f.decode(rec, &byName)
	assert.Equal(t, perm.ID, byName.ID)

	rec = f.do(http.MethodGet, "/api/v1/permissions/by-name?resource_type=DATASET", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/permissions?resource_type=DATASET", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Permissions []*db.Permission `json:"permissions"`
		Count       int              `json:"count"`
	}
	f.decode(rec, &list)
	assert.Equal(t, 2, list.Count)
}

func TestPermissionDuplicateOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.createPermission("DATASET", "READ")

	rec := f.do(http.MethodPost, "/api/v1/permissions", CreatePermissionRequest{
		ResourceType: "DATASET",
		Action:       "READ",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", f.envelope(rec).Error)
}

func TestPermissionEnumerationOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.createPermission("DATASET", "READ")
	f.createPermission("DATASET", "WRITE")
	f.createPermission("REPORT", "EXECUTE")

	rec := f.do(http.MethodGet, "/api/v1/permissions/resource-types", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rt struct {
		ResourceTypes []string `json:"resource_types"`
	}
	f.decode(rec, &rt)
	assert.ElementsMatch(t, []string{"DATASET", "REPORT"}, rt.ResourceTypes)

	rec = f.do(http.MethodGet, "/api/v1/permissions/actions?resource_type=DATASET", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var actions struct {
		Actions []string `json:"actions"`
	}
	f.decode(rec, &actions)
	assert.ElementsMatch(t, []string{"READ", "WRITE"}, actions.Actions)

	// The resource type is mandatory for action enumeration.
	rec = f.do(http.MethodGet, "/api/v1/permissions/actions", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionDeactivateOverHTTP(t *testing.T) {
	f := newFixture(t)
	perm := f.createPermission("DATASET", "PURGE")

	rec := f.do(http.MethodDelete, "/api/v1/permissions/"+perm.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/permissions/"+perm.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got db.Permission
	f.decode(rec, &got)
	assert.False(t, got.IsActive)

	rec = f.do(http.MethodDelete, "/api/v1/permissions/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
