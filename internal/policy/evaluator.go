// Package policy evaluates tenant and resource policies against
// authorization requests. Each policy type carries its own applicability
// rules; the evaluator turns a policy plus a request into ALLOW, DENY or
// NOT_APPLICABLE and combines sets of policies deny-first.
package policy

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/conditions"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/pkg/types"
)

// Outcome is a single policy's verdict for a request.
type Outcome string

const (
	OutcomeAllow         Outcome = "ALLOW"
	OutcomeDeny          Outcome = "DENY"
	OutcomeNotApplicable Outcome = "NOT_APPLICABLE"
)

// Condition keys with flavor-specific meaning.
const (
	KeyUserID     = "userId"
	KeyGroups     = "groups"
	KeyExpression = "expression"
)

// Input is one request plus the caller's effective permission set, as
// resolved from their active roles.
type Input struct {
	Request     *types.AuthzRequest
	Permissions []*db.Permission

	// Now pins the evaluation instant. Zero means wall time.
	Now time.Time

	ec *conditions.EvalContext
}

func (in *Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now().UTC()
	}
	return in.Now
}

func (in *Input) holds(name string) bool {
	for _, p := range in.Permissions {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// groups reads the caller's group memberships from the request attributes.
func (in *Input) groups() []string {
	raw, ok := in.Request.Attributes[KeyGroups]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (in *Input) evalContext() *conditions.EvalContext {
	if in.ec != nil {
		return in.ec
	}
	names := make([]string, 0, len(in.Permissions))
	perms := make([]map[string]interface{}, 0, len(in.Permissions))
	for _, p := range in.Permissions {
		names = append(names, p.Name())
		perms = append(perms, map[string]interface{}{
			"resourceType": p.ResourceType,
			"action":       p.Action,
			"riskLevel":    string(p.RiskLevel),
		})
	}
	in.ec = &conditions.EvalContext{
		UserID:          in.Request.UserID.String(),
		TenantID:        in.Request.TenantID.String(),
		Resource:        in.Request.Resource,
		Action:          in.Request.Action,
		ResourceID:      in.Request.ResourceID,
		IPAddress:       in.Request.IPAddress,
		UserAgent:       in.Request.UserAgent,
		Attributes:      in.Request.Attributes,
		Permissions:     perms,
		PermissionNames: names,
		Now:             in.now(),
	}
	return in.ec
}

// Decision is the combined verdict of a policy set. Policy is the one that
// decided, nil when nothing applied.
type Decision struct {
	Outcome Outcome
	Policy  *db.Policy
}

// Evaluator runs policies against requests.
type Evaluator struct {
	engine *conditions.Engine
	logger *zap.Logger
}

// NewEvaluator creates an evaluator over the given expression engine.
func NewEvaluator(engine *conditions.Engine, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{engine: engine, logger: logger}
}

// Evaluate runs a single policy. Policies that are inactive or outside
// their date window are NOT_APPLICABLE before any flavor logic runs. A
// returned error always pairs with DENY so direct callers fail closed;
// EvaluateAll demotes erroring policies to NOT_APPLICABLE instead.
func (e *Evaluator) Evaluate(p *db.Policy, in *Input) (Outcome, error) {
	if !p.InEffect(in.now()) {
		return OutcomeNotApplicable, nil
	}

	switch p.PolicyType {
	case types.PolicyResourceBased:
		return e.evalResourceBased(p, in)
	case types.PolicyIdentityBased:
		return e.evalIdentityBased(p, in)
	case types.PolicyAttributeBased:
		return e.evalAttributeBased(p, in)
	case types.PolicyTimeBased:
		return e.evalTimeBased(p, in)
	case types.PolicyConditional:
		return e.evalConditional(p, in)
	default:
		return OutcomeDeny, fmt.Errorf("policy %s: unknown type %q", p.Name, p.PolicyType)
	}
}

// EvaluateAll combines a policy set in descending priority order. The first
// DENY wins immediately, so a deny at any priority overrides every allow.
// Otherwise the highest-priority ALLOW wins. Policies that fail to evaluate
// are skipped.
func (e *Evaluator) EvaluateAll(policies []*db.Policy, in *Input) Decision {
	sorted := make([]*db.Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	var allowed *db.Policy
	for _, p := range sorted {
		outcome, err := e.Evaluate(p, in)
		if err != nil {
			e.logger.Warn("policy evaluation failed",
				zap.String("policy_id", p.ID.String()),
				zap.String("policy_name", p.Name),
				zap.Error(err))
			continue
		}
		switch outcome {
		case OutcomeDeny:
			return Decision{Outcome: OutcomeDeny, Policy: p}
		case OutcomeAllow:
			if allowed == nil {
				allowed = p
			}
		}
	}

	if allowed != nil {
		return Decision{Outcome: OutcomeAllow, Policy: allowed}
	}
	return Decision{Outcome: OutcomeNotApplicable}
}

func outcomeFor(effect types.Effect) Outcome {
	if effect == types.EffectDeny {
		return OutcomeDeny
	}
	return OutcomeAllow
}

// evalResourceBased applies when the policy references the request's
// resource, the user holds at least one of the policy's referenced
// permissions and the simple conditions match the request attributes. The
// permission check is an intersection against the user's active set, not a
// match on the request's own (resource, action) pair; that stricter rule
// belongs to IDENTITY_BASED.
func (e *Evaluator) evalResourceBased(p *db.Policy, in *Input) (Outcome, error) {
	if !p.ReferencesResource(in.Request.Resource, in.Request.ResourceID) {
		return OutcomeNotApplicable, nil
	}

	holdsReferenced := false
	for _, perm := range p.Permissions {
		if in.holds(perm.Name()) {
			holdsReferenced = true
			break
		}
	}
	if !holdsReferenced {
		return OutcomeNotApplicable, nil
	}

	if len(p.Conditions) > 0 {
		ok, err := conditions.MatchSimple(p.Conditions, in.Request.Attributes)
		if err != nil {
			return OutcomeDeny, fmt.Errorf("policy %s: %w", p.Name, err)
		}
		if !ok {
			return OutcomeNotApplicable, nil
		}
	}
	return outcomeFor(p.Effect), nil
}

// evalIdentityBased applies when the identity constraints present in the
// conditions (userId, groups) all hold and the policy references a
// permission matching the request.
func (e *Evaluator) evalIdentityBased(p *db.Policy, in *Input) (Outcome, error) {
	uid := p.Conditions.String(KeyUserID)
	groups, hasGroups := p.Conditions.StringList(KeyGroups)
	if uid == "" && !hasGroups {
		return OutcomeNotApplicable, nil
	}
	if uid != "" && uid != in.Request.UserID.String() {
		return OutcomeNotApplicable, nil
	}
	if hasGroups && !intersects(groups, in.groups()) {
		return OutcomeNotApplicable, nil
	}

	need := types.PermissionName(in.Request.Resource, in.Request.Action)
	for _, perm := range p.Permissions {
		if perm.Name() == need {
			return outcomeFor(p.Effect), nil
		}
	}
	return OutcomeNotApplicable, nil
}

// evalAttributeBased treats every condition entry as a boolean expression.
// All must hold for the effect to apply; a false, failing or non-string
// entry makes the policy NOT_APPLICABLE rather than an error.
func (e *Evaluator) evalAttributeBased(p *db.Policy, in *Input) (Outcome, error) {
	if len(p.Conditions) == 0 {
		return OutcomeNotApplicable, nil
	}

	ec := in.evalContext()
	for key, raw := range p.Conditions {
		expr, ok := raw.(string)
		if !ok {
			e.logger.Debug("attribute condition is not an expression",
				zap.String("policy_name", p.Name), zap.String("condition", key))
			return OutcomeNotApplicable, nil
		}
		holds, err := e.engine.EvaluateBool(expr, ec)
		if err != nil {
			e.logger.Debug("attribute condition failed",
				zap.String("policy_name", p.Name),
				zap.String("condition", key),
				zap.Error(err))
			return OutcomeNotApplicable, nil
		}
		if !holds {
			return OutcomeNotApplicable, nil
		}
	}
	return outcomeFor(p.Effect), nil
}

// evalTimeBased checks the clock constraints in the policy's timezone. An
// ALLOW policy grants inside its window. A DENY policy fences its window:
// it denies outside and stands aside inside.
func (e *Evaluator) evalTimeBased(p *db.Policy, in *Input) (Outcome, error) {
	rules, err := conditions.ParseTimeRules(p.Conditions)
	if err != nil {
		return OutcomeDeny, fmt.Errorf("policy %s: %w", p.Name, err)
	}
	if !rules.AppliesTo(in.Request.Action) {
		return OutcomeNotApplicable, nil
	}

	within := rules.Satisfied(in.now())
	if p.Effect == types.EffectDeny {
		if within {
			return OutcomeNotApplicable, nil
		}
		return OutcomeDeny, nil
	}
	if within {
		return OutcomeAllow, nil
	}
	return OutcomeNotApplicable, nil
}

// evalConditional runs the single expression condition.
func (e *Evaluator) evalConditional(p *db.Policy, in *Input) (Outcome, error) {
	expr := p.Conditions.String(KeyExpression)
	if expr == "" {
		return OutcomeNotApplicable, nil
	}
	holds, err := e.engine.EvaluateBool(expr, in.evalContext())
	if err != nil {
		return OutcomeDeny, fmt.Errorf("policy %s: %w", p.Name, err)
	}
	if !holds {
		return OutcomeNotApplicable, nil
	}
	return outcomeFor(p.Effect), nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
