package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnipa/authz-service/pkg/types"
)

func newRequest(tenantID, userID uuid.UUID, resource, action string) *types.AuthzRequest {
	return &types.AuthzRequest{
		UserID:   userID,
		TenantID: tenantID,
		Resource: resource,
		Action:   action,
	}
}

func TestLRU_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	req := newRequest(uuid.New(), uuid.New(), "DATASET", "READ")

	_, ok := c.Get(ctx, req)
	assert.False(t, ok)

	c.Set(ctx, req, types.Allowed("Direct permission granted", []string{"DATASET:READ"}))

	resp, ok := c.Get(ctx, req)
	require.True(t, ok)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "Direct permission granted", resp.Reason)
	assert.Equal(t, []string{"DATASET:READ"}, resp.GrantedPermissions)
}

func TestLRU_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 20*time.Millisecond)

	req := newRequest(uuid.New(), uuid.New(), "DATASET", "READ")
	c.Set(ctx, req, types.Denied("No permission for DATASET:READ"))

	_, ok := c.Get(ctx, req)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, ok = c.Get(ctx, req)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestLRU_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(3, time.Minute)

	tenantID := uuid.New()
	userID := uuid.New()

	first := newRequest(tenantID, userID, "DATASET", "READ")
	c.Set(ctx, first, types.Allowed("Direct permission granted", nil))
	for i := 0; i < 3; i++ {
		req := newRequest(tenantID, userID, "REPORT", fmt.Sprintf("ACTION_%d", i))
		c.Set(ctx, req, types.Allowed("Direct permission granted", nil))
	}

	assert.Equal(t, 3, c.Stats().Size)

	_, ok := c.Get(ctx, first)
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)

	tenantID := uuid.New()
	userID := uuid.New()

	first := newRequest(tenantID, userID, "DATASET", "READ")
	second := newRequest(tenantID, userID, "DATASET", "WRITE")
	c.Set(ctx, first, types.Allowed("Direct permission granted", nil))
	c.Set(ctx, second, types.Allowed("Direct permission granted", nil))

	// Touch the first entry so the second becomes eviction candidate.
	_, ok := c.Get(ctx, first)
	require.True(t, ok)

	c.Set(ctx, newRequest(tenantID, userID, "DATASET", "DELETE"), types.Denied("No permission for DATASET:DELETE"))

	_, ok = c.Get(ctx, first)
	assert.True(t, ok)
	_, ok = c.Get(ctx, second)
	assert.False(t, ok)
}

func TestLRU_InvalidateUser(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	tenantID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	c.Set(ctx, newRequest(tenantID, alice, "DATASET", "READ"), types.Allowed("Direct permission granted", nil))
	c.Set(ctx, newRequest(tenantID, alice, "DATASET", "WRITE"), types.Allowed("Direct permission granted", nil))
	c.Set(ctx, newRequest(tenantID, bob, "DATASET", "READ"), types.Allowed("Direct permission granted", nil))

	removed := c.InvalidateUser(ctx, tenantID, alice)
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, newRequest(tenantID, alice, "DATASET", "READ"))
	assert.False(t, ok)
	_, ok = c.Get(ctx, newRequest(tenantID, bob, "DATASET", "READ"))
	assert.True(t, ok, "other users' decisions must survive")
}

func TestLRU_InvalidateTenant(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	tenantA := uuid.New()
	tenantB := uuid.New()
	userID := uuid.New()

	c.Set(ctx, newRequest(tenantA, userID, "DATASET", "READ"), types.Allowed("Direct permission granted", nil))
	c.Set(ctx, newRequest(tenantA, uuid.New(), "REPORT", "VIEW"), types.Allowed("Direct permission granted", nil))
	c.Set(ctx, newRequest(tenantB, userID, "DATASET", "READ"), types.Allowed("Direct permission granted", nil))

	removed := c.InvalidateTenant(ctx, tenantA)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Stats().Size)

	_, ok := c.Get(ctx, newRequest(tenantB, userID, "DATASET", "READ"))
	assert.True(t, ok)
}

func TestLRU_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	for i := 0; i < 5; i++ {
		c.Set(ctx, newRequest(uuid.New(), uuid.New(), "DATASET", "READ"), types.Denied("No permission for DATASET:READ"))
	}
	require.Equal(t, 5, c.Stats().Size)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestLRU_Cleanup(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 20*time.Millisecond)

	for i := 0; i < 4; i++ {
		req := newRequest(uuid.New(), uuid.New(), "DATASET", fmt.Sprintf("ACTION_%d", i))
		c.Set(ctx, req, types.Allowed("Direct permission granted", nil))
	}

	time.Sleep(30 * time.Millisecond)

	live := newRequest(uuid.New(), uuid.New(), "DATASET", "READ")
	c.Set(ctx, live, types.Allowed("Direct permission granted", nil))

	removed := c.Cleanup()
	assert.Equal(t, 4, removed)
	assert.Equal(t, 1, c.Stats().Size)

	_, ok := c.Get(ctx, live)
	assert.True(t, ok)
}

func TestLRU_Stats(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	req := newRequest(uuid.New(), uuid.New(), "DATASET", "READ")
	c.Set(ctx, req, types.Allowed("Direct permission granted", nil))

	c.Get(ctx, req)
	c.Get(ctx, req)
	c.Get(ctx, newRequest(uuid.New(), uuid.New(), "DATASET", "READ"))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c DecisionCache = Noop{}

	req := newRequest(uuid.New(), uuid.New(), "DATASET", "READ")
	c.Set(ctx, req, types.Allowed("Direct permission granted", nil))

	_, ok := c.Get(ctx, req)
	assert.False(t, ok)
	assert.Equal(t, 0, c.InvalidateUser(ctx, req.TenantID, req.UserID))
	assert.Equal(t, 0, c.InvalidateTenant(ctx, req.TenantID))
	assert.Equal(t, Stats{}, c.Stats())
	assert.NoError(t, c.Close())
}
