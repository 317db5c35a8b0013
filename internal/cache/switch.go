package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// TTLSetter is implemented by backends whose entry lifetime can be
// retuned at runtime.
type TTLSetter interface {
	SetTTL(ttl time.Duration)
}

// Switch wraps a backend so the config watcher can pause the cache and
// retune its TTL without a restart. While disabled, reads miss and writes
// are dropped; re-enabling starts from an empty cache so no stale
// decision survives the gap.
type Switch struct {
	inner   DecisionCache
	enabled atomic.Bool
}

// NewSwitch wraps a backend in a runtime toggle.
func NewSwitch(inner DecisionCache, enabled bool) *Switch {
	s := &Switch{inner: inner}
	s.enabled.Store(enabled)
	return s
}

// SetEnabled flips the cache on or off. Disabling clears the backend so a
// later enable cannot serve decisions from before the gap.
func (s *Switch) SetEnabled(ctx context.Context, enabled bool) {
	prev := s.enabled.Swap(enabled)
	if prev == enabled {
		return
	}
	if !enabled {
		s.inner.Clear(ctx)
	}
}

// Enabled reports whether the cache is currently serving.
func (s *Switch) Enabled() bool {
	return s.enabled.Load()
}

// SetTTL forwards to the backend when it supports retuning.
func (s *Switch) SetTTL(ttl time.Duration) {
	if t, ok := s.inner.(TTLSetter); ok {
		t.SetTTL(ttl)
	}
}

func (s *Switch) Get(ctx context.Context, req *types.AuthzRequest) (*types.AuthzResponse, bool) {
	if !s.enabled.Load() {
		return nil, false
	}
	return s.inner.Get(ctx, req)
}

func (s *Switch) Set(ctx context.Context, req *types.AuthzRequest, resp *types.AuthzResponse) {
	if !s.enabled.Load() {
		return
	}
	s.inner.Set(ctx, req, resp)
}

func (s *Switch) InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) int {
	return s.inner.InvalidateUser(ctx, tenantID, userID)
}

func (s *Switch) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) int {
	return s.inner.InvalidateTenant(ctx, tenantID)
}

func (s *Switch) Clear(ctx context.Context) {
	s.inner.Clear(ctx)
}

func (s *Switch) Stats() Stats {
	return s.inner.Stats()
}

func (s *Switch) Close() error {
	return s.inner.Close()
}
