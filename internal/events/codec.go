package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Event wire format (protobuf, hand-coded). All fields are optional;
// decoders skip field numbers they do not know.
//
//	 1  event_id          string
//	 2  event_type        string
//	 3  source_service    string
//	 4  version           string
//	 5  timestamp_ms      int64
//	 6  correlation_id    string
//	 7  tenant_id         string (UUID)
//	 8  actor_id          string
//	 9  user_id           string (UUID)
//	10  resource          string
//	11  action            string
//	12  allowed           bool
//	13  reason            string
//	14  role_id           string (UUID)
//	15  role_name         string
//	16  permission_id     string (UUID)
//	17  policy_id         string (UUID)
//	18  policy_name       string
//	19  effect            string
//	20  grant_id          string (UUID)
//	21  source_tenant_id  string (UUID)
//	22  target_tenant_id  string (UUID)
//	23  tenant_name       string
const (
	fieldEventID        = 1
	fieldEventType      = 2
	fieldSourceService  = 3
	fieldVersion        = 4
	fieldTimestampMs    = 5
	fieldCorrelationID  = 6
	fieldTenantID       = 7
	fieldActorID        = 8
	fieldUserID         = 9
	fieldResource       = 10
	fieldAction         = 11
	fieldAllowed        = 12
	fieldReason         = 13
	fieldRoleID         = 14
	fieldRoleName       = 15
	fieldPermissionID   = 16
	fieldPolicyID       = 17
	fieldPolicyName     = 18
	fieldEffect         = 19
	fieldGrantID        = 20
	fieldSourceTenantID = 21
	fieldTargetTenantID = 22
	fieldTenantName     = 23
)

// Encode serializes an event to protobuf wire format. Zero-valued fields
// are omitted.
func Encode(ev *Event) []byte {
	var b []byte
	b = appendString(b, fieldEventID, ev.EventID)
	b = appendString(b, fieldEventType, ev.Type)
	b = appendString(b, fieldSourceService, ev.SourceService)
	b = appendString(b, fieldVersion, ev.Version)
	if !ev.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestampMs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ev.Timestamp.UnixMilli()))
	}
	b = appendString(b, fieldCorrelationID, ev.CorrelationID)
	b = appendUUID(b, fieldTenantID, ev.TenantID)
	b = appendString(b, fieldActorID, ev.ActorID)
	b = appendUUID(b, fieldUserID, ev.UserID)
	b = appendString(b, fieldResource, ev.Resource)
	b = appendString(b, fieldAction, ev.Action)
	if ev.Allowed {
		b = protowire.AppendTag(b, fieldAllowed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = appendString(b, fieldReason, ev.Reason)
	b = appendUUID(b, fieldRoleID, ev.RoleID)
	b = appendString(b, fieldRoleName, ev.RoleName)
	b = appendUUID(b, fieldPermissionID, ev.PermissionID)
	b = appendUUID(b, fieldPolicyID, ev.PolicyID)
	b = appendString(b, fieldPolicyName, ev.PolicyName)
	b = appendString(b, fieldEffect, ev.Effect)
	b = appendUUID(b, fieldGrantID, ev.GrantID)
	b = appendUUID(b, fieldSourceTenantID, ev.SourceTenantID)
	b = appendUUID(b, fieldTargetTenantID, ev.TargetTenantID)
	b = appendString(b, fieldTenantName, ev.TenantName)
	return b
}

// Decode parses an event from protobuf wire format. Unknown fields are
// skipped so producers may evolve the schema ahead of this service.
func Decode(data []byte) (*Event, error) {
	ev := &Event{}
	var err error

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode event: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldEventID:
			ev.EventID, data, err = consumeString(data)
		case fieldEventType:
			ev.Type, data, err = consumeString(data)
		case fieldSourceService:
			ev.SourceService, data, err = consumeString(data)
		case fieldVersion:
			ev.Version, data, err = consumeString(data)
		case fieldTimestampMs:
			var ms uint64
			ms, data, err = consumeVarint(data)
			if err == nil {
				ev.Timestamp = time.UnixMilli(int64(ms)).UTC()
			}
		case fieldCorrelationID:
			ev.CorrelationID, data, err = consumeString(data)
		case fieldTenantID:
			ev.TenantID, data, err = consumeUUID(data)
		case fieldActorID:
			ev.ActorID, data, err = consumeString(data)
		case fieldUserID:
			ev.UserID, data, err = consumeUUID(data)
		case fieldResource:
			ev.Resource, data, err = consumeString(data)
		case fieldAction:
			ev.Action, data, err = consumeString(data)
		case fieldAllowed:
			var v uint64
			v, data, err = consumeVarint(data)
			if err == nil {
				ev.Allowed = v != 0
			}
		case fieldReason:
			ev.Reason, data, err = consumeString(data)
		case fieldRoleID:
			ev.RoleID, data, err = consumeUUID(data)
		case fieldRoleName:
			ev.RoleName, data, err = consumeString(data)
		case fieldPermissionID:
			ev.PermissionID, data, err = consumeUUID(data)
		case fieldPolicyID:
			ev.PolicyID, data, err = consumeUUID(data)
		case fieldPolicyName:
			ev.PolicyName, data, err = consumeString(data)
		case fieldEffect:
			ev.Effect, data, err = consumeString(data)
		case fieldGrantID:
			ev.GrantID, data, err = consumeUUID(data)
		case fieldSourceTenantID:
			ev.SourceTenantID, data, err = consumeUUID(data)
		case fieldTargetTenantID:
			ev.TargetTenantID, data, err = consumeUUID(data)
		case fieldTenantName:
			ev.TenantName, data, err = consumeString(data)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("decode event: field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
		if err != nil {
			return nil, fmt.Errorf("decode event: field %d: %w", num, err)
		}
	}

	if ev.Type == "" {
		return nil, fmt.Errorf("decode event: missing event type")
	}
	return ev, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	if id == uuid.Nil {
		return b
	}
	return appendString(b, num, id.String())
}

func consumeString(b []byte) (string, []byte, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", b, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, b, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeUUID(b []byte) (uuid.UUID, []byte, error) {
	s, rest, err := consumeString(b)
	if err != nil {
		return uuid.Nil, b, err
	}
	if s == "" {
		return uuid.Nil, rest, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, b, err
	}
	return id, rest, nil
}
