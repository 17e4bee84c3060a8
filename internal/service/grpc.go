package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

// IdentityFunc extracts the authenticated caller from a request context.
type IdentityFunc func(ctx context.Context) *model.Identity

// untenantedMethods are served without a tenant context.
var untenantedMethods = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

// UnaryServerInterceptor resolves the caller's tenant from incoming metadata
// and stores it in the handler's context. Requests that cannot be scoped to
// an active tenant never reach the handler.
func UnaryServerInterceptor(engine *Engine, identity IdentityFunc) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		for _, prefix := range untenantedMethods {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		var id *model.Identity
		if identity != nil {
			id = identity(ctx)
		}
		tc, _, err := engine.Resolve(ctx, descriptorFromMetadata(ctx), id)
		if err != nil {
			return nil, StatusError(err)
		}
		return handler(model.WithTenant(ctx, tc), req)
	}
}

func descriptorFromMetadata(ctx context.Context) model.RequestDescriptor {
	desc := model.RequestDescriptor{Headers: map[string]string{}}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return desc
	}
	for key, values := range md {
		if len(values) == 0 {
			continue
		}
		if key == ":authority" {
			desc.Host = values[0]
			continue
		}
		desc.Headers[key] = values[0]
	}
	if desc.Host == "" {
		desc.Host = desc.Headers["host"]
	}
	return desc
}

// StatusError maps engine errors to gRPC status errors with client-safe
// messages.
func StatusError(err error) error {
	var denied *enforce.DeniedError
	var cfgErr *model.ConfigError
	switch {
	case errors.Is(err, model.ErrNotIdentified):
		return status.Error(codes.NotFound, "Tenant not identified")
	case errors.Is(err, model.ErrTenantNotFound):
		return status.Error(codes.NotFound, "Tenant not found")
	case errors.Is(err, model.ErrTenantInactive):
		return status.Error(codes.PermissionDenied, "Tenant is not active")
	case errors.As(err, &denied):
		return status.Errorf(codes.PermissionDenied, "Denied: %s", denied.Reason)
	case errors.As(err, &cfgErr):
		return status.Error(codes.Internal, "Tenant configuration is invalid")
	case model.Retryable(err):
		return status.Error(codes.Unavailable, "Tenant configuration temporarily unavailable")
	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrConflict):
		return status.Error(codes.AlreadyExists, "Already exists")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "Request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "Deadline exceeded")
	default:
		log.Error().Err(err).Msg("Unhandled tenant resolution error")
		return status.Error(codes.Internal, "Internal server error")
	}
}
