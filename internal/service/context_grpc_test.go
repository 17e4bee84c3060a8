package service

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

func startContextServer(t *testing.T, f *fixture, usage *store.MemoryUsage) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptor(f.engine, nil)))
	RegisterContextServer(srv, NewContextServer(enforce.NewGuard(usage)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func tenantCall(slug string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-tenant-id", slug)
}

func TestContextServer_GetContext(t *testing.T) {
	f := setupTestService(t)
	_, err := f.admin.PutOverride(context.Background(), "acme", []byte(`{"limits":{"maxUsers":10}}`))
	require.NoError(t, err)
	conn := startContextServer(t, f, store.NewMemoryUsage())

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(tenantCall("acme"), "/"+ContextServiceName+"/GetContext", &emptypb.Empty{}, out))

	got := out.AsMap()
	assert.Equal(t, "acme", got["tenant"])
	assert.Equal(t, float64(1), got["version"])
	limits := got["config"].(map[string]any)["limits"].(map[string]any)
	assert.Equal(t, float64(10), limits["maxUsers"])
}

func TestContextServer_Decisions(t *testing.T) {
	f := setupTestService(t)
	_, err := f.admin.PutOverride(context.Background(), "acme", []byte(`{"limits":{"maxUsers":10},"features":{"polls":{"enabled":false}}}`))
	require.NoError(t, err)
	usage := store.NewMemoryUsage()
	_, err = usage.Add(context.Background(), "acme", model.ResourceUsers, 10)
	require.NoError(t, err)
	conn := startContextServer(t, f, usage)

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(tenantCall("acme"), "/"+ContextServiceName+"/CheckFeature", wrapperspb.String("polls"), out))
	assert.Equal(t, false, out.AsMap()["allowed"])
	assert.Equal(t, string(enforce.FeatureDisabled), out.AsMap()["reason"])

	req, err := structpb.NewStruct(map[string]any{"resource": "users"})
	require.NoError(t, err)
	require.NoError(t, conn.Invoke(tenantCall("acme"), "/"+ContextServiceName+"/CheckLimit", req, out))
	assert.Equal(t, false, out.AsMap()["allowed"])
	assert.Equal(t, string(enforce.LimitExceeded), out.AsMap()["reason"])

	req, err = structpb.NewStruct(map[string]any{"resource": "users", "delta": 0})
	require.NoError(t, err)
	require.NoError(t, conn.Invoke(tenantCall("acme"), "/"+ContextServiceName+"/CheckLimit", req, out))
	assert.Equal(t, true, out.AsMap()["allowed"])

	req, err = structpb.NewStruct(map[string]any{"delta": 1})
	require.NoError(t, err)
	err = conn.Invoke(tenantCall("acme"), "/"+ContextServiceName+"/CheckLimit", req, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestContextServer_InactiveTenantNeverReachesHandler(t *testing.T) {
	f := setupTestService(t)
	_, err := f.admin.SetStatus(context.Background(), "acme", model.StatusSuspended)
	require.NoError(t, err)
	conn := startContextServer(t, f, store.NewMemoryUsage())

	err = conn.Invoke(tenantCall("acme"), "/"+ContextServiceName+"/GetContext", &emptypb.Empty{}, new(structpb.Struct))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
