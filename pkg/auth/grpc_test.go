package auth

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hopguard/hopguard-core/internal/testutil/fixtures"
)

func unaryInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func inboundContext(rawToken string) context.Context {
	md := metadata.New(nil)
	if rawToken != "" {
		md.Set(metadataAuthKey, BearerHeader(rawToken))
	}
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestUnaryServerInterceptor_ValidTokenReachesHandler(t *testing.T) {
	key := fixtures.NewSigningKey(t, fixtures.KeyID)
	srv := fixtures.ServeJWKS(t, key.JWK())
	gate := newTestGate(t, srv, fixtures.Audience)

	interceptor := UnaryServerInterceptor(gate, MethodRequirements{
		"/orders.Orders/Get": RequireRoles("user"),
	})

	raw := key.Sign(t, fixtures.Claims(nil))
	var gotPrincipal *Principal
	resp, err := interceptor(inboundContext(raw), "req", unaryInfo("/orders.Orders/Get"),
		func(ctx context.Context, _ any) (any, error) {
			gotPrincipal = PrincipalFromContext(ctx)
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	require.NotNil(t, gotPrincipal)
	assert.Equal(t, fixtures.Subject, gotPrincipal.Subject)
}

func TestUnaryServerInterceptor_StatusMapping(t *testing.T) {
	key := fixtures.NewSigningKey(t, fixtures.KeyID)

	expired := key.Sign(t, fixtures.Claims(map[string]any{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}))
	valid := key.Sign(t, fixtures.Claims(nil))

	tests := []struct {
		name      string
		token     string
		breakJWKS bool
		req       RouteRequirement
		wantCode  codes.Code
	}{
		{"missing token", "", false, RequireAuthenticated(), codes.Unauthenticated},
		{"expired token", expired, false, RequireAuthenticated(), codes.Unauthenticated},
		{"insufficient role", valid, false, RequireRoles("orders-admin"), codes.PermissionDenied},
		{"issuer unreachable", valid, true, RequireAuthenticated(), codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fixtures.ServeJWKS(t, key.JWK())
			srv.SetFailing(tt.breakJWKS)
			gate := newTestGate(t, srv, fixtures.Audience)

			interceptor := UnaryServerInterceptor(gate, MethodRequirements{
				"/orders.Orders/Get": tt.req,
			})

			_, err := interceptor(inboundContext(tt.token), "req", unaryInfo("/orders.Orders/Get"),
				func(context.Context, any) (any, error) {
					t.Fatal("handler must not run")
					return nil, nil
				})

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}

func TestUnaryServerInterceptor_UnlistedMethodStillGated(t *testing.T) {
	key := fixtures.NewSigningKey(t, fixtures.KeyID)
	srv := fixtures.ServeJWKS(t, key.JWK())
	gate := newTestGate(t, srv, fixtures.Audience)

	interceptor := UnaryServerInterceptor(gate, MethodRequirements{})

	_, err := interceptor(inboundContext(""), "req", unaryInfo("/orders.Orders/Unregistered"),
		func(context.Context, any) (any, error) { return "ok", nil })

	assert.Equal(t, codes.Unauthenticated, status.Code(err),
		"unregistered methods must fail closed")
}

func TestUnaryServerInterceptor_PublicMethodSkipsGate(t *testing.T) {
	key := fixtures.NewSigningKey(t, fixtures.KeyID)
	srv := fixtures.ServeJWKS(t, key.JWK())
	gate := newTestGate(t, srv, fixtures.Audience)

	interceptor := UnaryServerInterceptor(gate, MethodRequirements{
		"/grpc.health.v1.Health/Check": PublicRoute(),
	})

	resp, err := interceptor(context.Background(), "req", unaryInfo("/grpc.health.v1.Health/Check"),
		func(context.Context, any) (any, error) { return "serving", nil })

	require.NoError(t, err)
	assert.Equal(t, "serving", resp)
}

type captureStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *captureStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor_EnrichesStreamContext(t *testing.T) {
	key := fixtures.NewSigningKey(t, fixtures.KeyID)
	srv := fixtures.ServeJWKS(t, key.JWK())
	gate := newTestGate(t, srv, fixtures.Audience)

	interceptor := StreamServerInterceptor(gate, MethodRequirements{})
	raw := key.Sign(t, fixtures.Claims(nil))

	var gotToken string
	err := interceptor(nil, &captureStream{ctx: inboundContext(raw)},
		&grpc.StreamServerInfo{FullMethod: "/orders.Orders/Watch"},
		func(_ any, ss grpc.ServerStream) error {
			gotToken = RawTokenFromContext(ss.Context())
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, raw, gotToken)
}

func TestUnaryClientInterceptor_PropagatesToken(t *testing.T) {
	t.Parallel()
	interceptor := UnaryClientInterceptor()

	ctx := WithRawToken(context.Background(), "tok.en.1")
	ctx = WithRequestID(ctx, "req-9")

	var gotMD metadata.MD
	err := interceptor(ctx, "/orders.Orders/Get", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			gotMD, _ = metadata.FromOutgoingContext(ctx)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer tok.en.1"}, gotMD.Get(metadataAuthKey))
	assert.Equal(t, []string{"req-9"}, gotMD.Get(metadataRequestIDKey))
}

func TestUnaryClientInterceptor_ReplacesExistingCredential(t *testing.T) {
	t.Parallel()
	interceptor := UnaryClientInterceptor()

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		metadataAuthKey, "Bearer stale-token")
	ctx = WithRawToken(ctx, "fresh.token.1")

	var gotMD metadata.MD
	err := interceptor(ctx, "/orders.Orders/Get", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			gotMD, _ = metadata.FromOutgoingContext(ctx)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer fresh.token.1"}, gotMD.Get(metadataAuthKey),
		"exactly one credential leaves this hop")
}

// Not parallel: swaps the default logger to observe the warning.
func TestUnaryClientInterceptor_NoTokenAddsNothingAndWarns(t *testing.T) {
	var logBuf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logBuf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	interceptor := UnaryClientInterceptor()

	var gotMD metadata.MD
	var hadMD bool
	err := interceptor(context.Background(), "/orders.Orders/Get", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			gotMD, hadMD = metadata.FromOutgoingContext(ctx)
			return nil
		})

	require.NoError(t, err)
	if hadMD {
		assert.Empty(t, gotMD.Get(metadataAuthKey))
	}
	assert.Contains(t, logBuf.String(), "no token to propagate",
		"omitting the credential must be logged, not silent")
	assert.Contains(t, logBuf.String(), "/orders.Orders/Get")
}
