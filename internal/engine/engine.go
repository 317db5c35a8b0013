// Package engine resolves authorization requests through the layered
// decision pipeline: role permissions, tenant and resource policies,
// resource ownership and role inheritance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/cache"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/internal/metrics"
	"github.com/nnipa/authz-service/internal/policy"
	"github.com/nnipa/authz-service/pkg/types"
)

// Decision reasons carry fixed wording; clients and tests match on them.
const (
	ReasonNoRoles       = "User has no active roles"
	ReasonSuperAdmin    = "Super admin access granted"
	ReasonTenantDeny    = "Access denied by tenant policy"
	ReasonDirect        = "Direct permission granted"
	ReasonWildcard      = "Wildcard permission granted"
	ReasonOwner         = "Resource owner access granted"
	ReasonPublic        = "Public resource access granted"
	ReasonResourceDeny  = "Access denied by resource policy"
	ReasonResourceAllow = "Resource policy allows access"
	ReasonTenantAllow   = "Tenant policy allows access"
	ReasonInherited     = "Inherited permission granted"
	ReasonNoCrossTenant = "No cross-tenant access grant"
	ReasonDefaultAllow  = "Default effect allows access"
)

// ReasonNoPermission renders the terminal deny reason for a request.
func ReasonNoPermission(resource, action string) string {
	return fmt.Sprintf("No permission for %s:%s", resource, action)
}

// ReasonFailure renders the reason attached to decisions that failed with
// an error rather than completing the pipeline.
func ReasonFailure(msg string) string {
	return "Authorization check failed: " + msg
}

// Layer labels identifying which pipeline step decided, as recorded in
// metrics and logs.
const (
	LayerCache          = "cache"
	LayerRoles          = "roles"
	LayerSuperAdmin     = "super_admin"
	LayerTenantPolicy   = "tenant_policy"
	LayerDirect         = "direct"
	LayerWildcard       = "wildcard"
	LayerOwner          = "owner"
	LayerPublic         = "public"
	LayerResourcePolicy = "resource_policy"
	LayerInherited      = "inherited"
	LayerCrossTenant    = "cross_tenant"
	LayerDefault        = "default"
	LayerError          = "error"
)

// Actions granted to readers of public resources.
var publicReadActions = map[string]bool{
	"READ": true,
	"VIEW": true,
	"LIST": true,
}

// batchWorkers bounds concurrent evaluation inside BatchAuthorize.
const batchWorkers = 8

// Deps bundles the engine's collaborators. Store and Evaluator are
// required. Cache may be nil to disable decision caching; Events, Metrics
// and Logger fall back to no-ops.
type Deps struct {
	Store     db.Store
	Evaluator *policy.Evaluator
	Cache     cache.DecisionCache
	Events    events.Sink
	Metrics   metrics.Metrics
	Logger    *zap.Logger
}

// Engine runs the decision pipeline.
type Engine struct {
	store     db.Store
	evaluator *policy.Evaluator
	cache     cache.DecisionCache
	events    events.Sink
	metrics   metrics.Metrics
	logger    *zap.Logger
	pool      *WorkerPool

	maxDepth     int
	defaultAllow bool
}

// New creates a decision engine.
func New(deps Deps, cfg config.AuthzConfig) *Engine {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	maxDepth := cfg.MaxHierarchyDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &Engine{
		store:        deps.Store,
		evaluator:    deps.Evaluator,
		cache:        deps.Cache,
		events:       deps.Events,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		pool:         NewWorkerPool(batchWorkers),
		maxDepth:     maxDepth,
		defaultAllow: cfg.DefaultEffect == string(types.EffectAllow),
	}
}

// Close stops the batch worker pool.
func (e *Engine) Close() error {
	e.pool.Stop()
	return nil
}

// Authorize decides one request. Errors never escape: any failure becomes
// a deny carrying the failure reason, so callers always get a decision.
func (e *Engine) Authorize(ctx context.Context, req *types.AuthzRequest) *types.AuthzResponse {
	start := time.Now()
	e.metrics.IncActiveRequests()
	defer e.metrics.DecActiveRequests()

	if err := req.Validate(); err != nil {
		resp := types.Denied(ReasonFailure(err.Error()))
		e.metrics.RecordError(autherr.KindValidation.String())
		e.finish(req, resp, LayerError, start)
		return resp
	}

	if e.cache != nil && cacheable(req) {
		if resp, ok := e.cache.Get(ctx, req); ok {
			e.metrics.RecordCacheHit()
			e.finish(req, resp, LayerCache, start)
			return resp
		}
		e.metrics.RecordCacheMiss()
	}

	resp, layer := e.decide(ctx, req)
	if e.cache != nil && layer != LayerError && cacheable(req) {
		e.cache.Set(ctx, req, resp)
	}
	e.finish(req, resp, layer, start)
	return resp
}

// BatchAuthorize decides a batch, responses index-aligned with requests.
// Requests are isolated and evaluated through the worker pool; one failed
// decision does not affect the rest.
func (e *Engine) BatchAuthorize(ctx context.Context, reqs []*types.AuthzRequest) []*types.AuthzResponse {
	out := make([]*types.AuthzResponse, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		e.pool.Submit(func() {
			defer wg.Done()
			out[i] = e.Authorize(ctx, req)
		})
	}
	wg.Wait()
	return out
}

// HasPermission is the boolean form of Authorize for internal callers.
func (e *Engine) HasPermission(ctx context.Context, userID, tenantID uuid.UUID, resource, action string) bool {
	resp := e.Authorize(ctx, &types.AuthzRequest{
		UserID:   userID,
		TenantID: tenantID,
		Resource: resource,
		Action:   action,
	})
	return resp.Allowed
}

// InvalidateUser drops the user's cached decisions after a grant change.
func (e *Engine) InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) {
	if e.cache != nil {
		e.cache.InvalidateUser(ctx, tenantID, userID)
	}
}

// InvalidateTenant drops a tenant's cached decisions.
func (e *Engine) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) {
	if e.cache != nil {
		e.cache.InvalidateTenant(ctx, tenantID)
	}
}

// InvalidateAll drops every cached decision. Catalog-wide changes and the
// expiry sweep cut across tenants, so they flush the whole cache.
func (e *Engine) InvalidateAll(ctx context.Context) {
	if e.cache != nil {
		e.cache.Clear(ctx)
	}
}

// cacheable reports whether the request is covered by the decision-cache
// key. The key hashes (user, tenant, resource, action) only; requests
// narrowed by a resource id, carrying condition context (attributes,
// client address, user agent) or targeting another tenant would collide
// with plain checks, so they bypass the cache.
func cacheable(req *types.AuthzRequest) bool {
	return req.ResourceID == "" &&
		len(req.Attributes) == 0 &&
		req.IPAddress == "" &&
		req.UserAgent == "" &&
		!req.IsCrossTenant()
}

// decide runs the pipeline and names the layer that decided.
func (e *Engine) decide(ctx context.Context, req *types.AuthzRequest) (*types.AuthzResponse, string) {
	now := time.Now().UTC()

	// Cross-tenant requests need a standing grant before any evaluation.
	if req.IsCrossTenant() {
		grant, err := e.crossTenantGrant(ctx, req, now)
		if err != nil {
			return e.failure(err), LayerError
		}
		if grant == nil {
			return types.Denied(ReasonNoCrossTenant), LayerCrossTenant
		}
	}

	bindings, err := e.store.ListActiveUserRoles(ctx, req.UserID, req.TenantID, now)
	if err != nil {
		return e.failure(err), LayerError
	}
	if len(bindings) == 0 {
		return types.Denied(ReasonNoRoles), LayerRoles
	}

	perms, names := flattenGrants(bindings, now)

	for _, b := range bindings {
		if b.Role != nil && b.Role.Name == types.SuperAdminRole {
			return types.Allowed(ReasonSuperAdmin, []string{types.SuperAdminRole}), LayerSuperAdmin
		}
	}

	tenantPolicies, err := e.store.ListActiveTenantPolicies(ctx, req.TenantID, now)
	if err != nil {
		return e.failure(err), LayerError
	}
	in := &policy.Input{Request: req, Permissions: perms, Now: now}

	// Deny policies gate the whole pipeline: no role or wildcard can
	// override an applicable tenant deny.
	if d := e.evaluator.EvaluateAll(withEffect(tenantPolicies, types.EffectDeny), in); d.Outcome == policy.OutcomeDeny {
		e.notePolicy(d)
		return types.Denied(ReasonTenantDeny), LayerTenantPolicy
	}

	need := types.PermissionName(req.Resource, req.Action)
	for _, name := range names {
		if name == need {
			return types.Allowed(ReasonDirect, names), LayerDirect
		}
	}

	for _, p := range perms {
		if p.ResourceType == req.Resource && p.Action == types.ManageAction {
			return types.Allowed(ReasonWildcard, names), LayerWildcard
		}
		if p.ResourceType == types.WildcardResource && p.Action == req.Action {
			return types.Allowed(ReasonWildcard, names), LayerWildcard
		}
	}

	if req.ResourceID != "" {
		resp, layer, err := e.checkResource(ctx, req, in, names, now)
		if err != nil {
			return e.failure(err), LayerError
		}
		if resp != nil {
			return resp, layer
		}
	}

	if d := e.evaluator.EvaluateAll(withEffect(tenantPolicies, types.EffectAllow), in); d.Outcome != policy.OutcomeNotApplicable {
		e.notePolicy(d)
		if d.Outcome == policy.OutcomeAllow {
			return types.Allowed(ReasonTenantAllow, names), LayerTenantPolicy
		}
		return types.Denied(ReasonTenantDeny), LayerTenantPolicy
	}

	inherited, err := e.inheritedMatch(ctx, bindings, req.Resource, req.Action, now)
	if err != nil {
		return e.failure(err), LayerError
	}
	if inherited {
		return types.Allowed(ReasonInherited, names), LayerInherited
	}

	if e.defaultAllow {
		return types.Allowed(ReasonDefaultAllow, names), LayerDefault
	}
	return types.Denied(ReasonNoPermission(req.Resource, req.Action)), LayerDefault
}

// crossTenantGrant resolves the grant covering the request, nil when no
// usable grant lists the requested action.
func (e *Engine) crossTenantGrant(ctx context.Context, req *types.AuthzRequest, now time.Time) (*db.CrossTenantAccess, error) {
	grant, err := e.store.FindActiveCrossTenantGrant(ctx, req.TenantID, *req.TargetTenantID, req.Resource, now)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !grant.AllowsAction(req.Action) {
		return nil, nil
	}
	return grant, nil
}

// checkResource runs the resource-scoped layer: ownership, public reads,
// then attached policies. A nil response means the layer did not decide.
func (e *Engine) checkResource(ctx context.Context, req *types.AuthzRequest, in *policy.Input, names []string, now time.Time) (*types.AuthzResponse, string, error) {
	res, err := e.store.GetResourceByIdentifier(ctx, req.TenantID, req.ResourceID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	if !res.IsActive {
		return nil, "", nil
	}

	if res.OwnedBy(req.UserID) {
		return types.Allowed(ReasonOwner, []string{"OWNER"}), LayerOwner, nil
	}
	if res.IsPublic && publicReadActions[req.Action] {
		return types.Allowed(ReasonPublic, []string{"PUBLIC_ACCESS"}), LayerPublic, nil
	}

	attached, err := e.store.ListActiveResourcePolicies(ctx, res.ID, now)
	if err != nil {
		return nil, "", err
	}
	if d := e.evaluator.EvaluateAll(attached, in); d.Outcome != policy.OutcomeNotApplicable {
		e.notePolicy(d)
		if d.Outcome == policy.OutcomeDeny {
			return types.Denied(ReasonResourceDeny), LayerResourcePolicy, nil
		}
		return types.Allowed(ReasonResourceAllow, names), LayerResourcePolicy, nil
	}
	return nil, "", nil
}

// inheritedMatch walks each role's ancestor chain looking for an exact
// permission match. The visited set stops cycles and keeps shared
// ancestors from being loaded twice; an inactive ancestor severs its
// chain.
func (e *Engine) inheritedMatch(ctx context.Context, bindings []*db.UserRoleBinding, resource, action string, now time.Time) (bool, error) {
	visited := make(map[uuid.UUID]bool, len(bindings))
	for _, b := range bindings {
		if b.Role == nil {
			continue
		}
		visited[b.Role.ID] = true
	}

	for _, b := range bindings {
		if b.Role == nil || b.Role.ParentRoleID == nil {
			continue
		}
		next := *b.Role.ParentRoleID
		for depth := 0; depth < e.maxDepth; depth++ {
			if visited[next] {
				break
			}
			visited[next] = true

			parent, err := e.store.GetRole(ctx, next)
			if errors.Is(err, db.ErrNotFound) {
				break
			}
			if err != nil {
				return false, err
			}
			if !parent.IsActive {
				break
			}

			grants, err := e.store.ListRoleGrants(ctx, parent.ID)
			if err != nil {
				return false, err
			}
			for _, g := range grants {
				if g.Valid(now) && g.Permission.Matches(resource, action) {
					return true, nil
				}
			}

			if parent.ParentRoleID == nil {
				break
			}
			next = *parent.ParentRoleID
		}
	}
	return false, nil
}

// failure converts an error into a fail-closed decision.
func (e *Engine) failure(err error) *types.AuthzResponse {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "deadline exceeded"
	}
	e.metrics.RecordError(autherr.KindOf(err).String())
	e.logger.Warn("authorization check failed", zap.Error(err))
	return types.Denied(ReasonFailure(msg))
}

// finish records metrics, emits the audit event and logs the decision.
func (e *Engine) finish(req *types.AuthzRequest, resp *types.AuthzResponse, layer string, start time.Time) {
	effect := "deny"
	if resp.Allowed {
		effect = "allow"
	}
	e.metrics.RecordCheck(effect, layer, time.Since(start))
	e.events.Publish(events.AuthorizationChecked(req, resp))

	e.logger.Debug("authorization decided",
		zap.String("user_id", req.UserID.String()),
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("resource", req.Resource),
		zap.String("action", req.Action),
		zap.Bool("allowed", resp.Allowed),
		zap.String("reason", resp.Reason),
		zap.String("layer", layer),
		zap.Duration("duration", time.Since(start)))
}

func (e *Engine) notePolicy(d policy.Decision) {
	if d.Policy != nil {
		e.metrics.RecordPolicyEvaluation(string(d.Policy.PolicyType), string(d.Outcome))
	}
}

// flattenGrants collapses the bindings into the effective permission set
// and its sorted names, deduplicated across roles.
func flattenGrants(bindings []*db.UserRoleBinding, now time.Time) ([]*db.Permission, []string) {
	seen := make(map[string]bool)
	var perms []*db.Permission
	var names []string
	for _, b := range bindings {
		for _, g := range b.Grants {
			if !g.Valid(now) {
				continue
			}
			name := g.Permission.Name()
			if seen[name] {
				continue
			}
			seen[name] = true
			perms = append(perms, g.Permission)
			names = append(names, name)
		}
	}
	return perms, types.SortPermissionNames(names)
}

// withEffect filters policies to one effect, preserving order.
func withEffect(policies []*db.Policy, effect types.Effect) []*db.Policy {
	out := make([]*db.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Effect == effect {
			out = append(out, p)
		}
	}
	return out
}
