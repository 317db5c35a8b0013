// Package types provides shared types for the authorization service.
package types

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Effect is the outcome a matching policy contributes.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// IsValid reports whether the effect is one of the two recognized values.
func (e Effect) IsValid() bool {
	return e == EffectAllow || e == EffectDeny
}

// PolicyType selects the evaluation flavor for a policy.
type PolicyType string

const (
	PolicyResourceBased  PolicyType = "RESOURCE_BASED"
	PolicyIdentityBased  PolicyType = "IDENTITY_BASED"
	PolicyAttributeBased PolicyType = "ATTRIBUTE_BASED"
	PolicyTimeBased      PolicyType = "TIME_BASED"
	PolicyConditional    PolicyType = "CONDITIONAL"
)

// IsValid reports whether the policy type is recognized.
func (p PolicyType) IsValid() bool {
	switch p {
	case PolicyResourceBased, PolicyIdentityBased, PolicyAttributeBased, PolicyTimeBased, PolicyConditional:
		return true
	}
	return false
}

// RiskLevel classifies how sensitive a permission is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// IsValid reports whether the risk level is recognized.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Reserved role and action names with special pipeline meaning.
const (
	SuperAdminRole   = "SUPER_ADMIN"
	TenantAdminRole  = "TENANT_ADMIN"
	ManageAction     = "MANAGE"
	WildcardResource = "*"
	SystemActor      = "SYSTEM"
)

// AuthzRequest asks whether a user may perform an action on a resource type
// within a tenant. ResourceID optionally narrows the check to one concrete
// resource; TargetTenantID marks a cross-tenant request.
type AuthzRequest struct {
	UserID         uuid.UUID              `json:"user_id" binding:"required"`
	TenantID       uuid.UUID              `json:"tenant_id" binding:"required"`
	Resource       string                 `json:"resource" binding:"required"`
	Action         string                 `json:"action" binding:"required"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	TargetTenantID *uuid.UUID             `json:"target_tenant_id,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
}

// Validate checks the request for the fields every decision needs.
func (r *AuthzRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if r.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id is required")
	}
	if strings.TrimSpace(r.Resource) == "" {
		return fmt.Errorf("resource is required")
	}
	if strings.TrimSpace(r.Action) == "" {
		return fmt.Errorf("action is required")
	}
	return nil
}

// CacheKey derives the decision-cache key for this request. Only the fields
// that determine a cacheable outcome participate: resource id, attributes,
// IP and user agent narrow a decision beyond the key and make it
// uncacheable upstream.
func (r *AuthzRequest) CacheKey() string {
	key := fmt.Sprintf("%s:%s:%s:%s", r.UserID, r.TenantID, r.Resource, r.Action)
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// IsCrossTenant reports whether the request targets a different tenant.
func (r *AuthzRequest) IsCrossTenant() bool {
	return r.TargetTenantID != nil && *r.TargetTenantID != uuid.Nil && *r.TargetTenantID != r.TenantID
}

// AuthzResponse is the decision returned for one request.
type AuthzResponse struct {
	Allowed            bool      `json:"allowed"`
	Reason             string    `json:"reason"`
	GrantedPermissions []string  `json:"granted_permissions,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Allowed builds a positive decision carrying the permissions that justify it.
func Allowed(reason string, permissions []string) *AuthzResponse {
	return &AuthzResponse{
		Allowed:            true,
		Reason:             reason,
		GrantedPermissions: permissions,
		Timestamp:          time.Now().UTC(),
	}
}

// Denied builds a negative decision.
func Denied(reason string) *AuthzResponse {
	return &AuthzResponse{
		Allowed:   false,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// PermissionName renders the canonical "TYPE:ACTION" form.
func PermissionName(resourceType, action string) string {
	return resourceType + ":" + action
}

// SortPermissionNames sorts a permission-name slice in place and returns it.
func SortPermissionNames(names []string) []string {
	sort.Strings(names)
	return names
}
