// Package cache provides the authorization decision cache with an
// in-process LRU backend and a Redis backend. Keys embed the tenant and
// user so role and policy changes can evict exactly the decisions they
// invalidate.
package cache

import (
	"context"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// DecisionCache stores authorization responses keyed by request. All
// operations are best effort: backend failures read as misses and never
// fail a decision.
type DecisionCache interface {
	// Get returns a cached decision for the request, if present.
	Get(ctx context.Context, req *types.AuthzRequest) (*types.AuthzResponse, bool)

	// Set caches the decision for the request under the backend TTL.
	Set(ctx context.Context, req *types.AuthzRequest, resp *types.AuthzResponse)

	// InvalidateUser drops every cached decision for the user within the
	// tenant and reports how many were removed.
	InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) int

	// InvalidateTenant drops every cached decision for the tenant.
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) int

	// Clear drops all cached decisions.
	Clear(ctx context.Context)

	// Stats reports hit counters and current size.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// Stats contains cache statistics.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// decisionKey lays out keys as decision:<tenant>:<user>:<request hash> so
// prefix matching can target one user or one tenant.
func decisionKey(req *types.AuthzRequest) string {
	return userPrefix(req.TenantID, req.UserID) + req.CacheKey()
}

func userPrefix(tenantID, userID uuid.UUID) string {
	return tenantPrefix(tenantID) + userID.String() + ":"
}

func tenantPrefix(tenantID uuid.UUID) string {
	return "decision:" + tenantID.String() + ":"
}

// Noop satisfies DecisionCache while caching nothing. Used when the cache
// is disabled.
type Noop struct{}

func (Noop) Get(context.Context, *types.AuthzRequest) (*types.AuthzResponse, bool) {
	return nil, false
}
func (Noop) Set(context.Context, *types.AuthzRequest, *types.AuthzResponse) {}
func (Noop) InvalidateUser(context.Context, uuid.UUID, uuid.UUID) int       { return 0 }
func (Noop) InvalidateTenant(context.Context, uuid.UUID) int                { return 0 }
func (Noop) Clear(context.Context)                                          {}
func (Noop) Stats() Stats                                                   { return Stats{} }
func (Noop) Close() error                                                   { return nil }
