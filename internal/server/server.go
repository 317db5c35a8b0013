// Package server exposes the decision engine as the gRPC service
// authz.v1.AuthorizationService. The service descriptor and message codecs
// are hand-coded; no generated stubs are involved.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/nnipa/authz-service/internal/engine"
	"github.com/nnipa/authz-service/pkg/types"
)

// ServiceName is the fully qualified name of the decision service.
const ServiceName = "authz.v1.AuthorizationService"

// Full method names, as a client would dial them.
const (
	MethodCheck         = "/authz.v1.AuthorizationService/Check"
	MethodBatchCheck    = "/authz.v1.AuthorizationService/BatchCheck"
	MethodHasPermission = "/authz.v1.AuthorizationService/HasPermission"
)

// Server is the gRPC authorization server.
type Server struct {
	engine     *engine.Engine
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
	config     Config
}

// Config configures the gRPC server.
type Config struct {
	// Port is the TCP port to listen on
	Port int
	// MaxConcurrentStreams limits concurrent streams per connection
	MaxConcurrentStreams uint32
	// MaxRecvMsgSize is the maximum inbound message size in bytes
	MaxRecvMsgSize int
	// MaxSendMsgSize is the maximum outbound message size in bytes
	MaxSendMsgSize int
	// ConnectionTimeout is the timeout for establishing connections
	ConnectionTimeout time.Duration
	// KeepaliveTime is the interval for keepalive pings
	KeepaliveTime time.Duration
	// KeepaliveTimeout is the timeout for keepalive responses
	KeepaliveTimeout time.Duration
	// EnableReflection enables gRPC reflection for debugging
	EnableReflection bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:                 9090,
		MaxConcurrentStreams: 1000,
		MaxRecvMsgSize:       4 * 1024 * 1024, // 4MB
		MaxSendMsgSize:       4 * 1024 * 1024, // 4MB
		ConnectionTimeout:    30 * time.Second,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
		EnableReflection:     true,
	}
}

// authzServiceServer is the contract the service descriptor dispatches to.
type authzServiceServer interface {
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	BatchCheck(context.Context, *BatchCheckRequest) (*BatchCheckResponse, error)
	HasPermission(context.Context, *HasPermissionRequest) (*HasPermissionResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*authzServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
		{MethodName: "BatchCheck", Handler: batchCheckHandler},
		{MethodName: "HasPermission", Handler: hasPermissionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authz/v1/authorization.proto",
}

// New creates a gRPC server wired to the decision engine.
func New(cfg Config, eng *engine.Engine, logger *zap.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loggingInterceptor := NewLoggingInterceptor(logger)
	recoveryInterceptor := NewRecoveryInterceptor(logger)

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(Codec{}),
		grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
		grpc.ConnectionTimeout(cfg.ConnectionTimeout),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor.Unary(),
			loggingInterceptor.Unary(),
		),
		grpc.ChainStreamInterceptor(
			recoveryInterceptor.Stream(),
			loggingInterceptor.Stream(),
		),
	}

	grpcServer := grpc.NewServer(opts...)

	srv := &Server{
		engine:     eng,
		grpcServer: grpcServer,
		health:     health.NewServer(),
		logger:     logger,
		config:     cfg,
	}

	grpcServer.RegisterService(&serviceDesc, srv)

	grpc_health_v1.RegisterHealthServer(grpcServer, srv.health)
	srv.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	return srv, nil
}

// Start listens on the configured port and serves until Stop is called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis. It blocks until Stop is called or the
// listener fails.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server",
		zap.String("addr", lis.Addr().String()),
		zap.Bool("reflection", s.config.EnableReflection),
	)
	return s.grpcServer.Serve(lis)
}

// Stop flips health to NOT_SERVING so load balancers drain, then waits for
// in-flight RPCs to finish.
func (s *Server) Stop() {
	s.logger.Info("Stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Check evaluates a single authorization request. A denial is a result,
// not an error; only malformed requests fail the RPC.
func (s *Server) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	authzReq, err := toAuthzRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return toCheckResponse(s.engine.Authorize(ctx, authzReq)), nil
}

// BatchCheck evaluates several requests and returns decisions in request
// order. One malformed request fails the whole batch.
func (s *Server) BatchCheck(ctx context.Context, req *BatchCheckRequest) (*BatchCheckResponse, error) {
	if len(req.Requests) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one request is required")
	}

	reqs := make([]*types.AuthzRequest, len(req.Requests))
	for i, r := range req.Requests {
		authzReq, err := toAuthzRequest(r)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "request %d: %v", i, err)
		}
		reqs[i] = authzReq
	}

	results := s.engine.BatchAuthorize(ctx, reqs)
	out := &BatchCheckResponse{Responses: make([]*CheckResponse, len(results))}
	for i, resp := range results {
		out.Responses[i] = toCheckResponse(resp)
	}
	return out, nil
}

// HasPermission answers the lightweight boolean probe.
func (s *Server) HasPermission(ctx context.Context, req *HasPermissionRequest) (*HasPermissionResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "user_id must be a UUID")
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "tenant_id must be a UUID")
	}
	if req.Resource == "" || req.Action == "" {
		return nil, status.Error(codes.InvalidArgument, "resource and action are required")
	}

	allowed := s.engine.HasPermission(ctx, userID, tenantID, req.Resource, req.Action)
	return &HasPermissionResponse{Allowed: allowed}, nil
}

func checkHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(authzServiceServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCheck}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(authzServiceServer).Check(ctx, req.(*CheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func batchCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BatchCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(authzServiceServer).BatchCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodBatchCheck}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(authzServiceServer).BatchCheck(ctx, req.(*BatchCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func hasPermissionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HasPermissionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(authzServiceServer).HasPermission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodHasPermission}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(authzServiceServer).HasPermission(ctx, req.(*HasPermissionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// toAuthzRequest validates and converts a wire request.
func toAuthzRequest(req *CheckRequest) (*types.AuthzRequest, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("user_id must be a UUID")
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant_id must be a UUID")
	}

	out := &types.AuthzRequest{
		UserID:     userID,
		TenantID:   tenantID,
		Resource:   req.Resource,
		Action:     req.Action,
		ResourceID: req.ResourceID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}
	if req.TargetTenantID != "" {
		target, err := uuid.Parse(req.TargetTenantID)
		if err != nil {
			return nil, fmt.Errorf("target_tenant_id must be a UUID")
		}
		out.TargetTenantID = &target
	}
	if len(req.Attributes) > 0 {
		if err := json.Unmarshal(req.Attributes, &out.Attributes); err != nil {
			return nil, fmt.Errorf("attributes must be a JSON object")
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func toCheckResponse(resp *types.AuthzResponse) *CheckResponse {
	return &CheckResponse{
		Allowed:            resp.Allowed,
		Reason:             resp.Reason,
		GrantedPermissions: resp.GrantedPermissions,
		TimestampMs:        resp.Timestamp.UnixMilli(),
	}
}
