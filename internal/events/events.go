// Package events carries the service's Redis Streams traffic: outbound
// notifications about authorization activity and inbound tenant lifecycle
// events that drive provisioning.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/pkg/types"
)

// SourceService identifies this service in event metadata.
const SourceService = "authorization-service"

// SchemaVersion is the event schema version stamped into metadata.
const SchemaVersion = "1.0"

// Outbound event types.
const (
	TypeAuthorizationChecked     = "AUTHORIZATION_CHECKED"
	TypeRoleCreated              = "ROLE_CREATED"
	TypeRoleUpdated              = "ROLE_UPDATED"
	TypeRoleDeleted              = "ROLE_DELETED"
	TypeRoleAssigned             = "ROLE_ASSIGNED"
	TypeRoleRevoked              = "ROLE_REVOKED"
	TypePermissionGranted        = "PERMISSION_GRANTED"
	TypePermissionRevoked        = "PERMISSION_REVOKED"
	TypePolicyCreated            = "POLICY_CREATED"
	TypePolicyEvaluated          = "POLICY_EVALUATED"
	TypeCrossTenantAccessGranted = "CROSS_TENANT_ACCESS_GRANTED"
	TypeCrossTenantAccessRevoked = "CROSS_TENANT_ACCESS_REVOKED"
)

// Inbound event types.
const (
	TypeTenantCreated     = "TENANT_CREATED"
	TypeTenantDeactivated = "TENANT_DEACTIVATED"
)

// Metadata identifies an event on the bus.
type Metadata struct {
	EventID       string
	SourceService string
	Version       string
	Timestamp     time.Time
	CorrelationID string
}

// Event is one message on the bus. Only the fields its Type uses are set;
// the codec omits zero values on the wire.
type Event struct {
	Metadata

	Type     string
	TenantID uuid.UUID
	ActorID  string

	// Authorization checks and role assignment
	UserID   uuid.UUID
	Resource string
	Action   string
	Allowed  bool
	Reason   string

	// Role, permission and policy lifecycle
	RoleID       uuid.UUID
	RoleName     string
	PermissionID uuid.UUID
	PolicyID     uuid.UUID
	PolicyName   string
	Effect       string

	// Cross-tenant access
	GrantID        uuid.UUID
	SourceTenantID uuid.UUID
	TargetTenantID uuid.UUID

	// Tenant lifecycle
	TenantName string
}

func newEvent(eventType string, tenantID uuid.UUID) *Event {
	return &Event{
		Metadata: Metadata{
			EventID:       uuid.NewString(),
			SourceService: SourceService,
			Version:       SchemaVersion,
			Timestamp:     time.Now().UTC(),
		},
		Type:     eventType,
		TenantID: tenantID,
	}
}

// AuthorizationChecked reports one completed authorization decision.
func AuthorizationChecked(req *types.AuthzRequest, resp *types.AuthzResponse) *Event {
	ev := newEvent(TypeAuthorizationChecked, req.TenantID)
	ev.UserID = req.UserID
	ev.Resource = req.Resource
	ev.Action = req.Action
	ev.Allowed = resp.Allowed
	ev.Reason = resp.Reason
	return ev
}

// RoleCreated reports a new role.
func RoleCreated(tenantID, roleID uuid.UUID, roleName, actorID string) *Event {
	ev := newEvent(TypeRoleCreated, tenantID)
	ev.RoleID = roleID
	ev.RoleName = roleName
	ev.ActorID = actorID
	return ev
}

// RoleUpdated reports a role change.
func RoleUpdated(tenantID, roleID uuid.UUID, roleName, actorID string) *Event {
	ev := newEvent(TypeRoleUpdated, tenantID)
	ev.RoleID = roleID
	ev.RoleName = roleName
	ev.ActorID = actorID
	return ev
}

// RoleDeleted reports a role removal.
func RoleDeleted(tenantID, roleID uuid.UUID, roleName, actorID string) *Event {
	ev := newEvent(TypeRoleDeleted, tenantID)
	ev.RoleID = roleID
	ev.RoleName = roleName
	ev.ActorID = actorID
	return ev
}

// RoleAssigned reports a role granted to a user.
func RoleAssigned(tenantID, userID, roleID uuid.UUID, actorID string) *Event {
	ev := newEvent(TypeRoleAssigned, tenantID)
	ev.UserID = userID
	ev.RoleID = roleID
	ev.ActorID = actorID
	return ev
}

// RoleRevoked reports a role taken from a user.
func RoleRevoked(tenantID, userID, roleID uuid.UUID, actorID string) *Event {
	ev := newEvent(TypeRoleRevoked, tenantID)
	ev.UserID = userID
	ev.RoleID = roleID
	ev.ActorID = actorID
	return ev
}

// PermissionGranted reports a permission attached to a role.
func PermissionGranted(tenantID, roleID, permissionID uuid.UUID, actorID string) *Event {
	ev := newEvent(TypePermissionGranted, tenantID)
	ev.RoleID = roleID
	ev.PermissionID = permissionID
	ev.ActorID = actorID
	return ev
}

// PermissionRevoked reports a permission detached from a role.
func PermissionRevoked(tenantID, roleID, permissionID uuid.UUID, actorID string) *Event {
	ev := newEvent(TypePermissionRevoked, tenantID)
	ev.RoleID = roleID
	ev.PermissionID = permissionID
	ev.ActorID = actorID
	return ev
}

// PolicyCreated reports a new policy.
func PolicyCreated(tenantID, policyID uuid.UUID, policyName, effect, actorID string) *Event {
	ev := newEvent(TypePolicyCreated, tenantID)
	ev.PolicyID = policyID
	ev.PolicyName = policyName
	ev.Effect = effect
	ev.ActorID = actorID
	return ev
}

// PolicyEvaluated reports an on-demand policy evaluation.
func PolicyEvaluated(tenantID, policyID uuid.UUID, policyName, outcome string) *Event {
	ev := newEvent(TypePolicyEvaluated, tenantID)
	ev.PolicyID = policyID
	ev.PolicyName = policyName
	ev.Effect = outcome
	return ev
}

// CrossTenantAccessGranted reports a new cross-tenant grant.
func CrossTenantAccessGranted(grantID, sourceTenantID, targetTenantID, userID uuid.UUID, actorID string) *Event {
	ev := newEvent(TypeCrossTenantAccessGranted, sourceTenantID)
	ev.GrantID = grantID
	ev.SourceTenantID = sourceTenantID
	ev.TargetTenantID = targetTenantID
	ev.UserID = userID
	ev.ActorID = actorID
	return ev
}

// CrossTenantAccessRevoked reports a revoked cross-tenant grant.
func CrossTenantAccessRevoked(grantID, sourceTenantID, targetTenantID, userID uuid.UUID, actorID string) *Event {
	ev := newEvent(TypeCrossTenantAccessRevoked, sourceTenantID)
	ev.GrantID = grantID
	ev.SourceTenantID = sourceTenantID
	ev.TargetTenantID = targetTenantID
	ev.UserID = userID
	ev.ActorID = actorID
	return ev
}

// TenantCreated builds the inbound tenant-provisioning event. The tenant
// service emits these; this constructor exists for tests and tooling.
func TenantCreated(tenantID, creatorUserID uuid.UUID, tenantName string) *Event {
	ev := newEvent(TypeTenantCreated, tenantID)
	ev.UserID = creatorUserID
	ev.TenantName = tenantName
	return ev
}

// TenantDeactivated builds the inbound tenant-deactivation event.
func TenantDeactivated(tenantID uuid.UUID) *Event {
	return newEvent(TypeTenantDeactivated, tenantID)
}

// TopicFor maps an event type to its stream. Empty when no stream carries
// the type.
func TopicFor(eventType string, topics config.TopicConfig) string {
	switch {
	case eventType == TypeAuthorizationChecked:
		return topics.AuthorizationChecked
	case strings.HasPrefix(eventType, "ROLE_"):
		return topics.RoleEvents
	case strings.HasPrefix(eventType, "PERMISSION_"):
		return topics.PermissionEvents
	case strings.HasPrefix(eventType, "POLICY_"):
		return topics.PolicyEvents
	case strings.HasPrefix(eventType, "CROSS_TENANT_"):
		return topics.CrossTenantEvents
	case eventType == TypeTenantCreated:
		return topics.TenantCreated
	case eventType == TypeTenantDeactivated:
		return topics.TenantDeactivated
	default:
		return ""
	}
}
