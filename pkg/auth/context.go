package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type for request-scoped auth values, so no
// other package can collide with or forge these keys.
type contextKey int

const (
	rawTokenKey contextKey = iota
	claimsKey
	principalKey
	requestIDKey
)

// WithRawToken returns a context carrying the validated raw token. The
// propagation layer reads it back when making outbound calls. Only store
// tokens that have passed validation; the context is how downstream code
// knows the credential was checked.
func WithRawToken(ctx context.Context, rawToken string) context.Context {
	return context.WithValue(ctx, rawTokenKey, rawToken)
}

// RawTokenFromContext returns the validated raw token for this request,
// or "" when the request is unauthenticated.
func RawTokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(rawTokenKey).(string)
	return s
}

// WithClaims returns a context carrying the validated claims.
func WithClaims(ctx context.Context, claims *ValidatedClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the validated claims, or nil.
func ClaimsFromContext(ctx context.Context) *ValidatedClaims {
	c, _ := ctx.Value(claimsKey).(*ValidatedClaims)
	return c
}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or nil when
// the request is unauthenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// WithRequestID returns a context carrying the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request correlation ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

// TraceIDFromContext returns the current OpenTelemetry trace ID as a hex
// string, or "" when no recording span is active. Useful for correlating
// auth log entries with traces.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
