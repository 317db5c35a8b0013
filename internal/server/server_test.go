package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nnipa/authz-service/internal/cache"
	"github.com/nnipa/authz-service/internal/conditions"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/engine"
	"github.com/nnipa/authz-service/internal/policy"
	"github.com/nnipa/authz-service/pkg/types"
)

type grpcFixture struct {
	t      *testing.T
	ctx    context.Context
	store  *db.MemoryStore
	conn   *grpc.ClientConn
	tenant uuid.UUID
	user   uuid.UUID
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	t.Helper()
	condEngine, err := conditions.NewEngine()
	require.NoError(t, err)
	evaluator := policy.NewEvaluator(condEngine, nil)

	store := db.NewMemoryStore()
	eng := engine.New(engine.Deps{
		Store:     store,
		Evaluator: evaluator,
		Cache:     cache.NewLRU(256, time.Minute),
	}, config.AuthzConfig{
		MaxHierarchyDepth: 10,
		DefaultEffect:     "DENY",
	})
	t.Cleanup(func() { eng.Close() })

	srv, err := New(DefaultConfig(), eng, zap.NewNop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &grpcFixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		conn:   conn,
		tenant: uuid.New(),
		user:   uuid.New(),
	}
}

func (f *grpcFixture) invoke(method string, in, out interface{}) error {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	return f.conn.Invoke(ctx, method, in, out)
}

// seedUserPermission gives the fixture user a role carrying one permission.
func (f *grpcFixture) seedUserPermission(resourceType, action string) {
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

	role := &db.Role{
		ID:        uuid.New(),
		TenantID:  &f.tenant,
		Name:      "analyst",
		Priority:  100,
		IsActive:  true,
		CreatedBy: "test",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(f.t, f.store.CreateRole(f.ctx, role))
	require.NoError(f.t, f.store.AssignPermission(f.ctx, &db.RolePermission{
		ID:           uuid.New(),
		RoleID:       role.ID,
		PermissionID: perm.ID,
		GrantedBy:    "test",
		GrantedAt:    now,
	}))
	require.NoError(f.t, f.store.AssignRole(f.ctx, &db.UserRole{
		ID:         uuid.New(),
		UserID:     f.user,
		RoleID:     role.ID,
		TenantID:   f.tenant,
		AssignedBy: "test",
		AssignedAt: now,
		IsActive:   true,
	}))
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.ErrorContains(t, err, "engine is required")
}

func TestGRPC_CheckDirectPermission(t *testing.T) {
	f := newGRPCFixture(t)
	f.seedUserPermission("DATASET", "READ")

	resp := &CheckResponse{}
	err := f.invoke(MethodCheck, &CheckRequest{
		UserID:   f.user.String(),
		TenantID: f.tenant.String(),
		Resource: "DATASET",
		Action:   "READ",
	}, resp)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, engine.ReasonDirect, resp.Reason)
	assert.Contains(t, resp.GrantedPermissions, "DATASET:READ")
	assert.NotZero(t, resp.TimestampMs)
}

func TestGRPC_CheckDeniesWithoutRoles(t *testing.T) {
	f := newGRPCFixture(t)

	resp := &CheckResponse{}
	err := f.invoke(MethodCheck, &CheckRequest{
		UserID:   f.user.String(),
		TenantID: f.tenant.String(),
		Resource: "DATASET",
		Action:   "READ",
	}, resp)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, engine.ReasonNoRoles, resp.Reason)
}

func TestGRPC_CheckRejectsMalformedRequest(t *testing.T) {
	f := newGRPCFixture(t)

	tests := []struct {
		name string
		req  *CheckRequest
	}{
		{"bad user id", &CheckRequest{UserID: "nope", TenantID: f.tenant.String(), Resource: "DATASET", Action: "READ"}},
		{"bad tenant id", &CheckRequest{UserID: f.user.String(), TenantID: "nope", Resource: "DATASET", Action: "READ"}},
		{"missing resource", &CheckRequest{UserID: f.user.String(), TenantID: f.tenant.String(), Action: "READ"}},
		{"bad target tenant", &CheckRequest{UserID: f.user.String(), TenantID: f.tenant.String(), Resource: "DATASET", Action: "READ", TargetTenantID: "nope"}},
		{"bad attributes", &CheckRequest{UserID: f.user.String(), TenantID: f.tenant.String(), Resource: "DATASET", Action: "READ", Attributes: []byte("{")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.invoke(MethodCheck, tt.req, &CheckResponse{})
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestGRPC_BatchCheck(t *testing.T) {
	f := newGRPCFixture(t)
	f.seedUserPermission("DATASET", "READ")

	resp := &BatchCheckResponse{}
	err := f.invoke(MethodBatchCheck, &BatchCheckRequest{
		Requests: []*CheckRequest{
			{UserID: f.user.String(), TenantID: f.tenant.String(), Resource: "DATASET", Action: "READ"},
			{UserID: f.user.String(), TenantID: f.tenant.String(), Resource: "DATASET", Action: "DELETE"},
		},
	}, resp)
	require.NoError(t, err)
	require.Len(t, resp.Responses, 2)
	assert.True(t, resp.Responses[0].Allowed)
	assert.False(t, resp.Responses[1].Allowed)
	assert.Equal(t, engine.ReasonNoPermission("DATASET", "DELETE"), resp.Responses[1].Reason)
}

func TestGRPC_BatchCheckRejectsEmptyBatch(t *testing.T) {
	f := newGRPCFixture(t)

	err := f.invoke(MethodBatchCheck, &BatchCheckRequest{}, &BatchCheckResponse{})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_HasPermission(t *testing.T) {
	f := newGRPCFixture(t)
	f.seedUserPermission("DATASET", "READ")

	resp := &HasPermissionResponse{}
	err := f.invoke(MethodHasPermission, &HasPermissionRequest{
		UserID:   f.user.String(),
		TenantID: f.tenant.String(),
		Resource: "DATASET",
		Action:   "READ",
	}, resp)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)

	resp = &HasPermissionResponse{}
	err = f.invoke(MethodHasPermission, &HasPermissionRequest{
		UserID:   f.user.String(),
		TenantID: f.tenant.String(),
		Resource: "DATASET",
		Action:   "DELETE",
	}, resp)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
}

// The standard health service shares the connection with the hand-coded
// messages; both must survive the forced codec.
func TestGRPC_HealthServing(t *testing.T) {
	f := newGRPCFixture(t)

	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(f.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: ServiceName,
	})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
