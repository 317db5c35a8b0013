package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nnipa/authz-service/internal/conditions"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/internal/policy"
	"github.com/nnipa/authz-service/pkg/types"
)

type captureSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *captureSink) Publish(ev *events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) countOf(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (s *captureSink) last() *events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// recordInvalidator counts evictions so tests can assert that mutations
// reach the decision cache.
type recordInvalidator struct {
	mu      sync.Mutex
	users   int
	tenants int
	all     int
}

func (r *recordInvalidator) InvalidateUser(context.Context, uuid.UUID, uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users++
}

func (r *recordInvalidator) InvalidateTenant(context.Context, uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants++
}

func (r *recordInvalidator) InvalidateAll(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all++
}

func (r *recordInvalidator) counts() (users, tenants, all int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users, r.tenants, r.all
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *db.MemoryStore
	svc    *Services
	sink   *captureSink
	inval  *recordInvalidator
	tenant uuid.UUID
	user   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, config.AuthzConfig{})
}

func newFixtureWithConfig(t *testing.T, cfg config.AuthzConfig) *fixture {
	t.Helper()
	condEngine, err := conditions.NewEngine()
	require.NoError(t, err)

	store := db.NewMemoryStore()
	sink := &captureSink{}
	inval := &recordInvalidator{}
	svc := New(Deps{
		Store:       store,
		Invalidator: inval,
		Events:      sink,
		Evaluator:   policy.NewEvaluator(condEngine, nil),
	}, cfg)

	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		svc:    svc,
		sink:   sink,
		inval:  inval,
		tenant: uuid.New(),
		user:   uuid.New(),
	}
}

// permission seeds a catalog entry directly in the store.
func (f *fixture) permission(resourceType, action string) *db.Permission {
	f.t.Helper()
	now := time.Now().UTC()
	perm := &db.Permission{
		ID:           uuid.New(),
		ResourceType: resourceType,
		Action:       action,
		RiskLevel:    types.RiskLow,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(f.t, f.store.CreatePermission(f.ctx, perm))
	return perm
}

// newRole creates a role in the fixture tenant through the service.
func (f *fixture) newRole(name string, permIDs ...uuid.UUID) *db.Role {
	f.t.Helper()
	role, err := f.svc.Roles.Create(f.ctx, CreateRoleRequest{
		TenantID:      &f.tenant,
		Name:          name,
		PermissionIDs: permIDs,
		CreatedBy:     "test",
	})
	require.NoError(f.t, err)
	return role
}

// systemRole seeds a system role directly in the store.
func (f *fixture) systemRole(name string) *db.Role {
	f.t.Helper()
	now := time.Now().UTC()
	role := &db.Role{
		ID:        uuid.New(),
		TenantID:  &f.tenant,
		Name:      name,
		Priority:  900,
		IsSystem:  true,
		IsActive:  true,
		CreatedBy: "test",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(f.t, f.store.CreateRole(f.ctx, role))
	return role
}

// assign grants a role to the fixture user through the service.
func (f *fixture) assign(roleID uuid.UUID) *db.UserRole {
	f.t.Helper()
	assignment, err := f.svc.UserRoles.Assign(f.ctx, AssignRoleRequest{
		UserID:     f.user,
		RoleID:     roleID,
		TenantID:   f.tenant,
		AssignedBy: "test",
	})
	require.NoError(f.t, err)
	return assignment
}

// newPolicy creates a policy in the fixture tenant through the service.
func (f *fixture) newPolicy(name string, ptype types.PolicyType, effect types.Effect, conds types.Conditions, permIDs ...uuid.UUID) *db.Policy {
	f.t.Helper()
	pol, err := f.svc.Policies.Create(f.ctx, CreatePolicyRequest{
		TenantID:      f.tenant,
		Name:          name,
		PolicyType:    ptype,
		Effect:        effect,
		Priority:      100,
		Conditions:    conds,
		PermissionIDs: permIDs,
		CreatedBy:     "test",
	})
	require.NoError(f.t, err)
	return pol
}

// newResource creates a resource in the fixture tenant through the service.
func (f *fixture) newResource(identifier, resourceType string) *db.Resource {
	f.t.Helper()
	res, err := f.svc.Resources.Create(f.ctx, CreateResourceRequest{
		TenantID:           f.tenant,
		ResourceIdentifier: identifier,
		ResourceType:       resourceType,
	})
	require.NoError(f.t, err)
	return res
}

func ptr[T any](v T) *T {
	return &v
}
