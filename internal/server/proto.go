package server

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// Wire formats for authz.v1.AuthorizationService (protobuf, hand-coded).
// Decoders skip field numbers they do not know so the schema can evolve
// ahead of older clients.
//
// CheckRequest:
//
//	1  user_id           string (UUID)
//	2  tenant_id         string (UUID)
//	3  resource          string
//	4  action            string
//	5  resource_id       string
//	6  target_tenant_id  string (UUID)
//	7  attributes        bytes (JSON object)
//	8  ip_address        string
//	9  user_agent        string
const (
	checkReqUserID         = 1
	checkReqTenantID       = 2
	checkReqResource       = 3
	checkReqAction         = 4
	checkReqResourceID     = 5
	checkReqTargetTenantID = 6
	checkReqAttributes     = 7
	checkReqIPAddress      = 8
	checkReqUserAgent      = 9
)

// CheckResponse:
//
//	1  allowed              bool
//	2  reason               string
//	3  granted_permissions  repeated string
//	4  timestamp_ms         int64
const (
	checkRespAllowed     = 1
	checkRespReason      = 2
	checkRespPermissions = 3
	checkRespTimestampMs = 4
)

// BatchCheckRequest: 1 repeated CheckRequest.
// BatchCheckResponse: 1 repeated CheckResponse, index-aligned with the request.
const (
	batchReqRequests   = 1
	batchRespResponses = 1
)

// HasPermissionRequest:
//
//	1  user_id    string (UUID)
//	2  tenant_id  string (UUID)
//	3  resource   string
//	4  action     string
//
// HasPermissionResponse: 1 allowed bool.
const (
	hasPermReqUserID   = 1
	hasPermReqTenantID = 2
	hasPermReqResource = 3
	hasPermReqAction   = 4
	hasPermRespAllowed = 1
)

// CheckRequest asks whether a user may perform an action on a resource type
// within a tenant.
type CheckRequest struct {
	UserID         string
	TenantID       string
	Resource       string
	Action         string
	ResourceID     string
	TargetTenantID string
	Attributes     []byte
	IPAddress      string
	UserAgent      string
}

// CheckResponse carries one decision.
type CheckResponse struct {
	Allowed            bool
	Reason             string
	GrantedPermissions []string
	TimestampMs        int64
}

// BatchCheckRequest evaluates several checks in one round trip.
type BatchCheckRequest struct {
	Requests []*CheckRequest
}

// BatchCheckResponse returns one decision per request, in request order.
type BatchCheckResponse struct {
	Responses []*CheckResponse
}

// HasPermissionRequest is the lightweight boolean probe.
type HasPermissionRequest struct {
	UserID   string
	TenantID string
	Resource string
	Action   string
}

// HasPermissionResponse reports the probe outcome.
type HasPermissionResponse struct {
	Allowed bool
}

// wireMessage is implemented by every hand-coded message in this package.
type wireMessage interface {
	marshal() []byte
	unmarshal(data []byte) error
}

func (m *CheckRequest) marshal() []byte {
	var b []byte
	b = appendString(b, checkReqUserID, m.UserID)
	b = appendString(b, checkReqTenantID, m.TenantID)
	b = appendString(b, checkReqResource, m.Resource)
	b = appendString(b, checkReqAction, m.Action)
	b = appendString(b, checkReqResourceID, m.ResourceID)
	b = appendString(b, checkReqTargetTenantID, m.TargetTenantID)
	if len(m.Attributes) > 0 {
		b = protowire.AppendTag(b, checkReqAttributes, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Attributes)
	}
	b = appendString(b, checkReqIPAddress, m.IPAddress)
	b = appendString(b, checkReqUserAgent, m.UserAgent)
	return b
}

func (m *CheckRequest) unmarshal(data []byte) error {
	var err error
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("check request: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case checkReqUserID:
			m.UserID, data, err = consumeString(data)
		case checkReqTenantID:
			m.TenantID, data, err = consumeString(data)
		case checkReqResource:
			m.Resource, data, err = consumeString(data)
		case checkReqAction:
			m.Action, data, err = consumeString(data)
		case checkReqResourceID:
			m.ResourceID, data, err = consumeString(data)
		case checkReqTargetTenantID:
			m.TargetTenantID, data, err = consumeString(data)
		case checkReqAttributes:
			var raw []byte
			raw, data, err = consumeBytes(data)
			if err == nil {
				// Copied: the transport may reuse the buffer after unmarshal.
				m.Attributes = append([]byte(nil), raw...)
			}
		case checkReqIPAddress:
			m.IPAddress, data, err = consumeString(data)
		case checkReqUserAgent:
			m.UserAgent, data, err = consumeString(data)
		default:
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return fmt.Errorf("check request: field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
		if err != nil {
			return fmt.Errorf("check request: field %d: %w", num, err)
		}
	}
	return nil
}

func (m *CheckResponse) marshal() []byte {
	var b []byte
	if m.Allowed {
		b = protowire.AppendTag(b, checkRespAllowed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = appendString(b, checkRespReason, m.Reason)
	for _, p := range m.GrantedPermissions {
		b = appendString(b, checkRespPermissions, p)
	}
	if m.TimestampMs != 0 {
		b = protowire.AppendTag(b, checkRespTimestampMs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TimestampMs))
	}
	return b
}

func (m *CheckResponse) unmarshal(data []byte) error {
	var err error
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("check response: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case checkRespAllowed:
			var v uint64
			v, data, err = consumeVarint(data)
			if err == nil {
				m.Allowed = v != 0
			}
		case checkRespReason:
			m.Reason, data, err = consumeString(data)
		case checkRespPermissions:
			var p string
			p, data, err = consumeString(data)
			if err == nil {
				m.GrantedPermissions = append(m.GrantedPermissions, p)
			}
		case checkRespTimestampMs:
			var ms uint64
			ms, data, err = consumeVarint(data)
			if err == nil {
				m.TimestampMs = int64(ms)
			}
		default:
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return fmt.Errorf("check response: field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
		if err != nil {
			return fmt.Errorf("check response: field %d: %w", num, err)
		}
	}
	return nil
}

func (m *BatchCheckRequest) marshal() []byte {
	var b []byte
	for _, r := range m.Requests {
		b = protowire.AppendTag(b, batchReqRequests, protowire.BytesType)
		b = protowire.AppendBytes(b, r.marshal())
	}
	return b
}

func (m *BatchCheckRequest) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("batch check request: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case batchReqRequests:
			raw, rest, err := consumeBytes(data)
			if err != nil {
				return fmt.Errorf("batch check request: field %d: %w", num, err)
			}
			req := &CheckRequest{}
			if err := req.unmarshal(raw); err != nil {
				return fmt.Errorf("batch check request: %w", err)
			}
			m.Requests = append(m.Requests, req)
			data = rest
		default:
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return fmt.Errorf("batch check request: field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
	}
	return nil
}

func (m *BatchCheckResponse) marshal() []byte {
	var b []byte
	for _, r := range m.Responses {
		b = protowire.AppendTag(b, batchRespResponses, protowire.BytesType)
		b = protowire.AppendBytes(b, r.marshal())
	}
	return b
}

func (m *BatchCheckResponse) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("batch check response: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case batchRespResponses:
			raw, rest, err := consumeBytes(data)
			if err != nil {
				return fmt.Errorf("batch check response: field %d: %w", num, err)
			}
			resp := &CheckResponse{}
			if err := resp.unmarshal(raw); err != nil {
				return fmt.Errorf("batch check response: %w", err)
			}
			m.Responses = append(m.Responses, resp)
			data = rest
		default:
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return fmt.Errorf("batch check response: field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
	}
	return nil
}

func (m *HasPermissionRequest) marshal() []byte {
	var b []byte
	b = appendString(b, hasPermReqUserID, m.UserID)
	b = appendString(b, hasPermReqTenantID, m.TenantID)
	b = appendString(b, hasPermReqResource, m.Resource)
	b = appendString(b, hasPermReqAction, m.Action)
	return b
}

func (m *HasPermissionRequest) unmarshal(data []byte) error {
	var err error
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("has permission request: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case hasPermReqUserID:
			m.UserID, data, err = consumeString(data)
		case hasPermReqTenantID:
			m.TenantID, data, err = consumeString(data)
		case hasPermReqResource:
			m.Resource, data, err = consumeString(data)
		case hasPermReqAction:
			m.Action, data, err = consumeString(data)
		default:
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return fmt.Errorf("has permission request: field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
		if err != nil {
			return fmt.Errorf("has permission request: field %d: %w", num, err)
		}
	}
	return nil
}

func (m *HasPermissionResponse) marshal() []byte {
	var b []byte
	if m.Allowed {
		b = protowire.AppendTag(b, hasPermRespAllowed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (m *HasPermissionResponse) unmarshal(data []byte) error {
	var err error
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("has permission response: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case hasPermRespAllowed:
			var v uint64
			v, data, err = consumeVarint(data)
			if err == nil {
				m.Allowed = v != 0
			}
		default:
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return fmt.Errorf("has permission response: field %d: %w", num, protowire.ParseError(skip))
			}
			data = data[skip:]
		}
		if err != nil {
			return fmt.Errorf("has permission response: field %d: %w", num, err)
		}
	}
	return nil
}

// Codec serializes the hand-coded messages above and delegates everything
// else to the standard proto codec, so the health and reflection services
// keep working on a server forced to this codec. It answers to the "proto"
// name and is therefore invisible to clients.
type Codec struct{}

var _ encoding.Codec = Codec{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.marshal(), nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("codec: cannot marshal %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case wireMessage:
		return m.unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("codec: cannot unmarshal into %T", v)
	}
}

// Name implements encoding.Codec.
func (Codec) Name() string { return "proto" }

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func consumeString(b []byte) (string, []byte, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", b, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, b, protowire.ParseError(n)
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
