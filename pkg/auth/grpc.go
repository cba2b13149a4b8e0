package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// metadataAuthKey is the lowercase metadata key gRPC uses for the
// Authorization header.
const metadataAuthKey = "authorization"

// metadataRequestIDKey carries the request correlation ID in gRPC
// metadata.
const metadataRequestIDKey = "x-request-id"

// MethodRequirements maps fully qualified gRPC method names
// ("/package.Service/Method") to route requirements. Methods not listed
// fall back to the interceptor's default requirement.
type MethodRequirements map[string]RouteRequirement

// requirementFor returns the requirement for a method, defaulting to
// authentication-only. Unlisted methods are still gated: forgetting to
// register a method must fail closed, not open.
func (m MethodRequirements) requirementFor(fullMethod string) RouteRequirement {
	if req, ok := m[fullMethod]; ok {
		return req
	}
	return RequireAuthenticated()
}

// UnaryServerInterceptor returns a gRPC unary interceptor that runs the
// gate against each call's bearer token, mirroring the HTTP middleware:
// the token comes from the authorization metadata entry, and gate
// failures map to Unauthenticated, PermissionDenied, or Unavailable
// status codes by error category.
func UnaryServerInterceptor(gate *Gate, reqs MethodRequirements) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := gateInbound(ctx, gate, reqs.requirementFor(info.FullMethod))
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns the stream-side equivalent of
// [UnaryServerInterceptor]. The gate runs once at stream open.
func StreamServerInterceptor(gate *Gate, reqs MethodRequirements) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := gateInbound(ss.Context(), gate, reqs.requirementFor(info.FullMethod))
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// gateInbound extracts the bearer token from inbound metadata, runs the
// gate, and converts failures to gRPC status errors.
func gateInbound(ctx context.Context, gate *Gate, req RouteRequirement) (context.Context, error) {
	var rawToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataAuthKey); len(vals) > 0 {
			rawToken = ExtractBearerToken(vals[0])
		}
		if vals := md.Get(metadataRequestIDKey); len(vals) > 0 {
			ctx = WithRequestID(ctx, vals[0])
		}
	}

	ctx, err := gate.Check(ctx, rawToken, req)
	if err != nil {
		return ctx, statusFromError(err)
	}
	return ctx, nil
}

// statusFromError maps a gate error to a gRPC status using the error
// code's category. The status message carries the stable code so clients
// can diagnose without parsing prose.
func statusFromError(err error) error {
	e, ok := hgerr.AsError(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}

	var code codes.Code
	switch {
	case hgerr.IsUnauthenticated(e):
		code = codes.Unauthenticated
	case hgerr.IsForbidden(e):
		code = codes.PermissionDenied
	case hgerr.IsUnavailable(e):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Errorf(code, "%s: %s", e.Code, e.Message)
}

// wrappedStream overrides the stream context with the gate-enriched one
// so handlers see the principal and the raw token.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *wrappedStream) Context() context.Context { return s.ctx }

// UnaryClientInterceptor returns a client interceptor that attaches the
// context's validated raw token to outbound calls, byte for byte, the
// gRPC counterpart of [PropagatingRoundTripper].
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = propagateOutbound(ctx, method)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the stream-side counterpart of
// [UnaryClientInterceptor].
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx = propagateOutbound(ctx, method)
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// propagateOutbound copies the context's token and request ID into
// outbound metadata. Existing authorization metadata is replaced, never
// appended to: exactly one credential leaves this hop. Like the HTTP
// round tripper, a context without a token produces a warning and an
// unauthenticated outbound call for the downstream gate to judge.
func propagateOutbound(ctx context.Context, method string) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}

	if rawToken := RawTokenFromContext(ctx); rawToken != "" {
		md.Set(metadataAuthKey, BearerHeader(rawToken))
	} else {
		slog.Default().WarnContext(ctx, "auth: outbound call has no token to propagate",
			"method", method)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		md.Set(metadataRequestIDKey, requestID)
	}

	if md.Len() == 0 {
		return ctx
	}
	return metadata.NewOutgoingContext(ctx, md)
}
