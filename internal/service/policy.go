package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/internal/policy"
	"github.com/nnipa/authz-service/pkg/types"
)

// PolicyService manages policies and their on-demand test evaluation.
type PolicyService struct {
	store     db.Store
	inval     Invalidator
	events    events.Sink
	evaluator *policy.Evaluator
	logger    *zap.Logger
}

// NewPolicyService creates a policy service.
func NewPolicyService(deps Deps) *PolicyService {
	deps.fill()
	return &PolicyService{
		store:     deps.Store,
		inval:     deps.Invalidator,
		events:    deps.Events,
		evaluator: deps.Evaluator,
		logger:    deps.Logger,
	}
}

// CreatePolicyRequest carries the fields for a new policy.
type CreatePolicyRequest struct {
	TenantID      uuid.UUID
	Name          string
	Description   string
	PolicyType    types.PolicyType
	Effect        types.Effect
	Priority      int
	Conditions    types.Conditions
	StartDate     *time.Time
	EndDate       *time.Time
	PermissionIDs []uuid.UUID
	CreatedBy     string
}

// UpdatePolicyRequest carries optional field updates; nil fields keep
// their current value. PermissionIDs, when non-nil, replaces the linked
// permission set. Version, when set, must match the stored version.
type UpdatePolicyRequest struct {
	Name           *string
	Description    *string
	PolicyType     *types.PolicyType
	Effect         *types.Effect
	Priority       *int
	Conditions     types.Conditions
	StartDate      *time.Time
	ClearStartDate bool
	EndDate        *time.Time
	ClearEndDate   bool
	IsActive       *bool
	PermissionIDs  []uuid.UUID
	Version        *int64
	UpdatedBy      string
}

// PolicyEvaluationResult reports one test evaluation. Effect echoes the
// policy's configured effect; Evaluated tells whether the policy applied
// to the request.
type PolicyEvaluationResult struct {
	PolicyID    uuid.UUID `json:"policy_id"`
	PolicyName  string    `json:"policy_name"`
	Effect      string    `json:"effect"`
	Evaluated   bool      `json:"evaluated"`
	Reason      string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func validatePolicyDates(start, end *time.Time) error {
	if start != nil && end != nil && !start.Before(*end) {
		return autherr.Validation("start_date must be before end_date")
	}
	return nil
}

// Create inserts a policy with its permission links.
func (s *PolicyService) Create(ctx context.Context, req CreatePolicyRequest) (*db.Policy, error) {
	if req.TenantID == uuid.Nil {
		return nil, autherr.Validation("tenant_id is required")
	}
	if req.Name == "" {
		return nil, autherr.Validation("policy name is required")
	}
	if !req.PolicyType.IsValid() {
		return nil, autherr.Validation("unknown policy type %q", req.PolicyType)
	}
	if !req.Effect.IsValid() {
		return nil, autherr.Validation("unknown effect %q", req.Effect)
	}
	if err := validatePolicyDates(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pol := &db.Policy{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		Name:        req.Name,
		Description: req.Description,
		PolicyType:  req.PolicyType,
		Effect:      req.Effect,
		Priority:    req.Priority,
		Conditions:  req.Conditions,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		IsActive:    true,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		return storeErr(tx.CreatePolicy(ctx, pol, dedupeIDs(req.PermissionIDs)), "policy "+req.Name)
	})
	if err != nil {
		return nil, err
	}

	s.inval.InvalidateTenant(ctx, pol.TenantID)
	s.events.Publish(events.PolicyCreated(pol.TenantID, pol.ID, pol.Name, string(pol.Effect), req.CreatedBy))
	s.logger.Info("policy created",
		zap.String("policy_id", pol.ID.String()),
		zap.String("name", pol.Name),
		zap.String("effect", string(pol.Effect)))
	return pol, nil
}

// Update applies the changed fields and relinks the permission set when
// one is given.
func (s *PolicyService) Update(ctx context.Context, id uuid.UUID, req UpdatePolicyRequest) (*db.Policy, error) {
	var updated *db.Policy

	err := s.store.InTx(ctx, func(tx db.Store) error {
		pol, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return storeErr(err, "policy")
		}

		if req.Name != nil {
			if *req.Name == "" {
				return autherr.Validation("policy name is required")
			}
			pol.Name = *req.Name
		}
		if req.Description != nil {
			pol.Description = *req.Description
		}
		if req.PolicyType != nil {
			if !req.PolicyType.IsValid() {
				return autherr.Validation("unknown policy type %q", *req.PolicyType)
			}
			pol.PolicyType = *req.PolicyType
		}
		if req.Effect != nil {
			if !req.Effect.IsValid() {
				return autherr.Validation("unknown effect %q", *req.Effect)
			}
			pol.Effect = *req.Effect
		}
		if req.Priority != nil {
			pol.Priority = *req.Priority
		}
		if req.Conditions != nil {
			pol.Conditions = req.Conditions
		}
		if req.ClearStartDate {
			pol.StartDate = nil
		} else if req.StartDate != nil {
			pol.StartDate = req.StartDate
		}
		if req.ClearEndDate {
			pol.EndDate = nil
		} else if req.EndDate != nil {
			pol.EndDate = req.EndDate
		}
		if err := validatePolicyDates(pol.StartDate, pol.EndDate); err != nil {
			return err
		}
		if req.IsActive != nil {
			pol.IsActive = *req.IsActive
		}

		permIDs := make([]uuid.UUID, 0, len(pol.Permissions))
		for _, p := range pol.Permissions {
			permIDs = append(permIDs, p.ID)
		}
		if req.PermissionIDs != nil {
			permIDs = dedupeIDs(req.PermissionIDs)
		}

		if req.Version != nil {
			pol.Version = *req.Version
		}
		pol.UpdatedBy = req.UpdatedBy
		pol.UpdatedAt = time.Now().UTC()
		if err := tx.UpdatePolicy(ctx, pol, permIDs); err != nil {
			return storeErr(err, "policy "+pol.Name)
		}
		updated = pol
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.inval.InvalidateTenant(ctx, updated.TenantID)
	s.logger.Info("policy updated",
		zap.String("policy_id", updated.ID.String()),
		zap.String("name", updated.Name))
	return updated, nil
}

// Delete deactivates a policy. The row stays for audit and its name stays
// reserved within the tenant.
func (s *PolicyService) Delete(ctx context.Context, id uuid.UUID, deletedBy string) error {
	var pol *db.Policy

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		pol, err = tx.GetPolicy(ctx, id)
		if err != nil {
			return storeErr(err, "policy")
		}
		return storeErr(tx.SetPolicyActive(ctx, id, false, deletedBy), "policy")
	})
	if err != nil {
		return err
	}

	s.inval.InvalidateTenant(ctx, pol.TenantID)
	return nil
}

// Activate turns a policy on.
func (s *PolicyService) Activate(ctx context.Context, id uuid.UUID, updatedBy string) error {
	return s.setActive(ctx, id, true, updatedBy)
}

// Deactivate turns a policy off.
func (s *PolicyService) Deactivate(ctx context.Context, id uuid.UUID, updatedBy string) error {
	return s.setActive(ctx, id, false, updatedBy)
}

func (s *PolicyService) setActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error {
	var pol *db.Policy

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		pol, err = tx.GetPolicy(ctx, id)
		if err != nil {
			return storeErr(err, "policy")
		}
		return storeErr(tx.SetPolicyActive(ctx, id, active, updatedBy), "policy")
	})
	if err != nil {
		return err
	}

	s.inval.InvalidateTenant(ctx, pol.TenantID)
	return nil
}

// AttachPermission adds one permission to the policy's linked set.
// Attaching a permission already present is a no-op.
func (s *PolicyService) AttachPermission(ctx context.Context, policyID, permissionID uuid.UUID, updatedBy string) error {
	return s.relink(ctx, policyID, updatedBy, func(ids []uuid.UUID) ([]uuid.UUID, error) {
		for _, id := range ids {
			if id == permissionID {
				return nil, nil
			}
		}
		return append(ids, permissionID), nil
	})
}

// DetachPermission removes one permission from the policy's linked set.
func (s *PolicyService) DetachPermission(ctx context.Context, policyID, permissionID uuid.UUID, updatedBy string) error {
	return s.relink(ctx, policyID, updatedBy, func(ids []uuid.UUID) ([]uuid.UUID, error) {
		for i, id := range ids {
			if id == permissionID {
				return append(ids[:i], ids[i+1:]...), nil
			}
		}
		return nil, autherr.NotFound("policy permission not found")
	})
}

// relink rewrites the policy's permission links. rewrite returns the new
// set, or nil to leave the policy untouched.
func (s *PolicyService) relink(ctx context.Context, policyID uuid.UUID, updatedBy string, rewrite func([]uuid.UUID) ([]uuid.UUID, error)) error {
	var pol *db.Policy
	var mutated bool

	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		pol, err = tx.GetPolicy(ctx, policyID)
		if err != nil {
			return storeErr(err, "policy")
		}

		permIDs := make([]uuid.UUID, 0, len(pol.Permissions))
		for _, p := range pol.Permissions {
			permIDs = append(permIDs, p.ID)
		}
		next, err := rewrite(permIDs)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		pol.UpdatedBy = updatedBy
		pol.UpdatedAt = time.Now().UTC()
		if err := tx.UpdatePolicy(ctx, pol, next); err != nil {
			return storeErr(err, "policy "+pol.Name)
		}
		mutated = true
		return nil
	})
	if err != nil {
		return err
	}

	if mutated {
		s.inval.InvalidateTenant(ctx, pol.TenantID)
	}
	return nil
}

// Get retrieves one policy with its permissions loaded.
func (s *PolicyService) Get(ctx context.Context, id uuid.UUID) (*db.Policy, error) {
	pol, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, storeErr(err, "policy")
	}
	return pol, nil
}

// List retrieves policies matching the filter.
func (s *PolicyService) List(ctx context.Context, filter db.PolicyFilter) ([]*db.Policy, error) {
	policies, err := s.store.ListPolicies(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "policies")
	}
	return policies, nil
}

// TestEvaluate runs one policy against a request without touching the
// decision pipeline. The user's effective permission set is resolved so
// identity- and permission-scoped conditions behave as they would in a
// real check. The policy's active window is ignored; testing a disabled
// or expired policy is the point of the endpoint.
func (s *PolicyService) TestEvaluate(ctx context.Context, policyID uuid.UUID, req *types.AuthzRequest) (*PolicyEvaluationResult, error) {
	if s.evaluator == nil {
		return nil, autherr.Internal("policy evaluator not configured", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, autherr.Validation("%v", err)
	}
	pol, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, storeErr(err, "policy")
	}
	if pol.TenantID != req.TenantID {
		return nil, autherr.TenantIsolation("policy belongs to a different tenant")
	}

	perms, err := s.userPermissions(ctx, req.UserID, req.TenantID)
	if err != nil {
		return nil, err
	}

	// Evaluate a copy with the window cleared so a disabled or expired
	// policy still runs its conditions.
	probe := *pol
	probe.IsActive = true
	probe.StartDate = nil
	probe.EndDate = nil

	in := &policy.Input{Request: req, Permissions: perms}
	outcome, evalErr := s.evaluator.Evaluate(&probe, in)

	result := &PolicyEvaluationResult{
		PolicyID:    pol.ID,
		PolicyName:  pol.Name,
		Effect:      string(pol.Effect),
		EvaluatedAt: time.Now().UTC(),
	}
	switch {
	case evalErr != nil:
		result.Reason = "evaluation failed: " + evalErr.Error()
	case outcome == policy.OutcomeNotApplicable:
		result.Reason = "policy conditions not met for this request"
	default:
		result.Evaluated = true
		result.Reason = "policy conditions met"
	}

	s.events.Publish(events.PolicyEvaluated(pol.TenantID, pol.ID, pol.Name, string(outcome)))
	return result, nil
}

func (s *PolicyService) userPermissions(ctx context.Context, userID, tenantID uuid.UUID) ([]*db.Permission, error) {
	now := time.Now().UTC()
	bindings, err := s.store.ListActiveUserRoles(ctx, userID, tenantID, now)
	if err != nil {
		return nil, storeErr(err, "user roles")
	}

	seen := make(map[string]bool)
	var perms []*db.Permission
	for _, b := range bindings {
		for _, g := range b.Grants {
			if !g.Valid(now) || seen[g.Permission.Name()] {
				continue
			}
			seen[g.Permission.Name()] = true
			perms = append(perms, g.Permission)
		}
	}
	return perms, nil
}
