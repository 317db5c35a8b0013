package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthzRequestValidate(t *testing.T) {
	valid := AuthzRequest{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Resource: "REPORT",
		Action:   "READ",
	}

	tests := []struct {
		name    string
		mutate  func(*AuthzRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(r *AuthzRequest) {}},
		{name: "missing user", mutate: func(r *AuthzRequest) { r.UserID = uuid.Nil }, wantErr: "user_id"},
		{name: "missing tenant", mutate: func(r *AuthzRequest) { r.TenantID = uuid.Nil }, wantErr: "tenant_id"},
		{name: "blank resource", mutate: func(r *AuthzRequest) { r.Resource = "  " }, wantErr: "resource"},
		{name: "blank action", mutate: func(r *AuthzRequest) { r.Action = "" }, wantErr: "action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthzRequestCacheKey(t *testing.T) {
	user := uuid.New()
	tenant := uuid.New()

	a := AuthzRequest{UserID: user, TenantID: tenant, Resource: "REPORT", Action: "READ"}
	b := AuthzRequest{UserID: user, TenantID: tenant, Resource: "REPORT", Action: "READ",
		Attributes: map[string]interface{}{"dept": "stats"}, IPAddress: "10.0.0.1"}
	c := AuthzRequest{UserID: user, TenantID: tenant, Resource: "REPORT", Action: "EXPORT"}

	assert.Equal(t, a.CacheKey(), b.CacheKey(), "attributes and IP must not change the key")
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
	assert.Len(t, a.CacheKey(), 32)
}

func TestAuthzRequestIsCrossTenant(t *testing.T) {
	tenant := uuid.New()
	other := uuid.New()

	req := AuthzRequest{UserID: uuid.New(), TenantID: tenant, Resource: "DATASET", Action: "READ"}
	assert.False(t, req.IsCrossTenant())

	req.TargetTenantID = &tenant
	assert.False(t, req.IsCrossTenant(), "same tenant target is not cross-tenant")

	req.TargetTenantID = &other
	assert.True(t, req.IsCrossTenant())
}

func TestResponseConstructors(t *testing.T) {
	allow := Allowed("Direct permission granted", []string{"REPORT:READ"})
	require.True(t, allow.Allowed)
	assert.Equal(t, "Direct permission granted", allow.Reason)
	assert.Equal(t, []string{"REPORT:READ"}, allow.GrantedPermissions)
	assert.False(t, allow.Timestamp.IsZero())

	deny := Denied("No permission for REPORT:READ")
	require.False(t, deny.Allowed)
	assert.Empty(t, deny.GrantedPermissions)
}

func TestConditionsAccessors(t *testing.T) {
	c := Conditions{
		"userId":  "abc",
		"limit":   float64(10),
		"strNum":  "3.5",
		"enabled": true,
		"groups":  []interface{}{"stats", "ml"},
		"typed":   []string{"a", "b"},
	}

	assert.True(t, c.Has("userId"))
	assert.False(t, c.Has("missing"))
	assert.Equal(t, "abc", c.String("userId"))
	assert.Equal(t, "10", c.String("limit"))
	assert.Equal(t, "true", c.String("enabled"))
	assert.Equal(t, "", c.String("missing"))

	n, ok := c.Number("limit")
	require.True(t, ok)
	assert.Equal(t, 10.0, n)
	n, ok = c.Number("strNum")
	require.True(t, ok)
	assert.Equal(t, 3.5, n)
	_, ok = c.Number("userId")
	assert.False(t, ok)

	l, ok := c.StringList("groups")
	require.True(t, ok)
	assert.Equal(t, []string{"stats", "ml"}, l)
	l, ok = c.StringList("typed")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, l)
	_, ok = c.List("userId")
	assert.False(t, ok)
}

func TestPermissionNameHelpers(t *testing.T) {
	assert.Equal(t, "REPORT:READ", PermissionName("REPORT", "READ"))
	names := SortPermissionNames([]string{"REPORT:VIEW", "DATASET:READ", "REPORT:READ"})
	assert.Equal(t, []string{"DATASET:READ", "REPORT:READ", "REPORT:VIEW"}, names)
}
