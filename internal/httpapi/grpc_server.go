package httpapi

import (
	"context"
	"errors"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/obs"
	"ristoro.dev/internal/users"
)

const (
	authzServiceName = "ristoro.v1.AuthzService"
	authzCheckMethod = "/" + authzServiceName + "/Check"
)

// AuthzServer answers permission questions for internal callers such as the
// kitchen display. Messages are google.protobuf.Struct so no generated code
// is needed:
//
//	request:  {"token": "...", "permission": "orders:write"}
//	response: {"allowed": true, "role": "staff", "reason": ""}
type AuthzServer interface {
	Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// UserResolver maps verified claims to the stored user. It returns
// users.ErrBlocked for blocked accounts.
type UserResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (users.User, error)
}

// GRPCServer implements AuthzServer and drives the standard health service.
type GRPCServer struct {
	verifier  *auth.TokenVerifier
	users     UserResolver
	readiness ReadyProbe
	version   string
	health    *health.Server
}

// NewGRPCServer creates the gRPC service wrapper. r may be nil.
func NewGRPCServer(verifier *auth.TokenVerifier, resolver UserResolver, r ReadyProbe, version string) *GRPCServer {
	if r == nil {
		r = AlwaysReady
	}
	return &GRPCServer{
		verifier:  verifier,
		users:     resolver,
		readiness: r,
		version:   version,
		health:    health.NewServer(),
	}
}

// Register attaches the authz and health services to server.
func (s *GRPCServer) Register(server *grpc.Server) {
	server.RegisterService(&authzServiceDesc, s)
	healthpb.RegisterHealthServer(server, s.health)
}

// RefreshHealth probes readiness and publishes the result.
func (s *GRPCServer) RefreshHealth(ctx context.Context) bool {
	st := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := s.readiness.Ping(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
	}
	obs.SetReady(ok)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(authzServiceName, st)
	return ok
}

// WatchHealth refreshes health every interval until ctx is done.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	s.RefreshHealth(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.RefreshHealth(ctx)
		}
	}
}

// Check verifies the token, rejects blocked users and evaluates the
// permission against the token roles.
func (s *GRPCServer) Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	perm := fields["permission"].GetStringValue()
	if !slices.Contains(auth.Vocabulary, perm) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown permission %q", perm)
	}
	token := fields["token"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "token is required")
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	role := auth.PrimaryRole(claims)
	reason := ""
	if _, err := s.users.Resolve(ctx, claims); err != nil {
		if !errors.Is(err, users.ErrBlocked) {
			obs.Error("grpc_resolve_user_failed", err, map[string]any{"subject": claims.Subject})
			return nil, status.Error(codes.Internal, "resolve user")
		}
		reason = err.Error()
	} else if err := auth.RequirePermission(claims, perm); err != nil {
		reason = err.Error()
	}
	return structpb.NewStruct(map[string]any{
		"allowed": reason == "",
		"role":    string(role),
		"reason":  reason,
		"version": s.version,
	})
}

func authzCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthzServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: authzCheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthzServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var authzServiceDesc = grpc.ServiceDesc{
	ServiceName: authzServiceName,
	HandlerType: (*AuthzServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: authzCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ristoro/v1/authz.proto",
}

// CheckPermission is the client side of AuthzService.Check.
func CheckPermission(ctx context.Context, conn grpc.ClientConnInterface, token, permission string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"token": token, "permission": permission})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, authzCheckMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
