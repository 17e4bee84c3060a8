package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// ContextServiceName is the fully qualified name of the tenant context service.
const ContextServiceName = "tenantctx.v1.TenantContext"

// TenantContextServer is the server API of the tenant context service.
type TenantContextServer interface {
	GetContext(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CheckFeature(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	CheckLimit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ContextServer answers tenant context and decision queries for the tenant
// the interceptor scoped the call to. Messages are protobuf well-known types,
// so clients need no generated stubs.
type ContextServer struct {
	guard *enforce.Guard
}

func NewContextServer(guard *enforce.Guard) *ContextServer {
	return &ContextServer{guard: guard}
}

// RegisterContextServer registers srv on s. The server must run
// UnaryServerInterceptor.
func RegisterContextServer(s grpc.ServiceRegistrar, srv TenantContextServer) {
	s.RegisterService(&contextServiceDesc, srv)
}

// GetContext returns the resolved configuration of the caller's tenant.
func (s *ContextServer) GetContext(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	tc, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := toValue(tc.Config())
	if err != nil {
		return nil, status.Error(codes.Internal, "Failed to encode tenant configuration")
	}
	return structpb.NewStruct(map[string]any{
		"tenant":      tc.Slug(),
		"displayName": tc.DisplayName(),
		"status":      string(tc.Status()),
		"version":     tc.Version(),
		"resolvedAt":  tc.ResolvedAt().Format(time.RFC3339Nano),
		"config":      cfg,
	})
}

// CheckFeature reports whether the caller's tenant may use a feature.
func (s *ContextServer) CheckFeature(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	tc, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	return decisionStruct(s.guard.CheckFeature(tc, req.GetValue()))
}

// CheckLimit reports whether the caller's tenant may consume delta more units
// of a resource. The request carries "resource" and an optional "delta"
// defaulting to 1.
func (s *ContextServer) CheckLimit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tc, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	resource := fields["resource"].GetStringValue()
	if resource == "" {
		return nil, status.Error(codes.InvalidArgument, "resource is required")
	}
	delta := int64(1)
	if v, ok := fields["delta"]; ok {
		n := v.GetNumberValue()
		if n != float64(int64(n)) {
			return nil, status.Error(codes.InvalidArgument, "delta must be an integer")
		}
		delta = int64(n)
	}
	d, err := s.guard.CheckLimit(ctx, tc, model.Resource(resource), delta)
	if err != nil {
		log.Error().Err(err).Str("tenant", tc.Slug()).Msg("Failed to read usage counters")
		return nil, StatusError(model.ErrStoreUnavailable)
	}
	return decisionStruct(d)
}

func tenantFrom(ctx context.Context) (*model.TenantContext, error) {
	tc := model.TenantFromContext(ctx)
	if tc == nil {
		return nil, status.Error(codes.FailedPrecondition, "No tenant context")
	}
	return tc, nil
}

func decisionStruct(d enforce.Decision) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"allowed": d.Allowed,
		"reason":  string(d.Reason),
		"subject": d.Subject,
		"limit":   d.Limit,
		"current": d.Current,
		"delta":   d.Delta,
	})
}

// toValue converts v into the generic form structpb accepts.
func toValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unaryHandler[Req any](method string, call func(TenantContextServer, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ContextServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TenantContextServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TenantContextServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var contextServiceDesc = grpc.ServiceDesc{
	ServiceName: ContextServiceName,
	HandlerType: (*TenantContextServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetContext", TenantContextServer.GetContext),
		unaryHandler("CheckFeature", TenantContextServer.CheckFeature),
		unaryHandler("CheckLimit", TenantContextServer.CheckLimit),
	},
	Metadata: "tenantctx/v1/context.proto",
}
