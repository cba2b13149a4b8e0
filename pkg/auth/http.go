package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// GateConfig configures a validation [Gate]. Fields carry config tags so
// services can load the whole gate from environment variables and an
// optional file via pkg/config.
type GateConfig struct {
	// Issuer is the trusted identity provider base URL.
	Issuer string `env:"AUTH_ISSUER" yaml:"issuer" json:"issuer" required:"true"`

	// Audience is this service's identifier, which validated tokens must
	// name in their "aud" claim.
	Audience string `env:"AUTH_AUDIENCE" yaml:"audience" json:"audience" required:"true"`

	// JWKSURL optionally fixes the key set URL, bypassing OIDC discovery.
	JWKSURL string `env:"AUTH_JWKS_URL" yaml:"jwks_url" json:"jwks_url"`

	// KeySetTTL is how long fetched signing keys are served from cache.
	KeySetTTL time.Duration `env:"AUTH_KEYSET_TTL" envDefault:"10m" yaml:"keyset_ttl" json:"keyset_ttl"`

	// HTTPTimeout bounds discovery and key set fetches. Ignored when a
	// custom HTTP client is supplied via [WithHTTPClient].
	HTTPTimeout time.Duration `env:"AUTH_HTTP_TIMEOUT" envDefault:"10s" yaml:"http_timeout" json:"http_timeout"`

	// ClockSkew is the tolerance for token time claims.
	ClockSkew time.Duration `env:"AUTH_CLOCK_SKEW" envDefault:"30s" yaml:"clock_skew" json:"clock_skew"`

	// RolesClaimPath is the dot-separated claim path holding role names.
	RolesClaimPath string `env:"AUTH_ROLES_CLAIM" envDefault:"realm_access.roles" yaml:"roles_claim" json:"roles_claim"`

	// UsernameClaim names the claim used for Principal.Username.
	UsernameClaim string `env:"AUTH_USERNAME_CLAIM" envDefault:"preferred_username" yaml:"username_claim" json:"username_claim"`

	// AllowedAlgorithms restricts acceptable signature algorithms.
	AllowedAlgorithms []string `env:"AUTH_ALGORITHMS" yaml:"allowed_algorithms" json:"allowed_algorithms"`
}

// GateOption customizes Gate construction beyond what GateConfig carries.
type GateOption func(*gateOptions)

type gateOptions struct {
	httpClient HTTPClient
	store      SnapshotStore
	logger     *slog.Logger
}

// WithHTTPClient sets the client used for key set fetches.
func WithHTTPClient(c HTTPClient) GateOption {
	return func(o *gateOptions) { o.httpClient = c }
}

// WithSnapshotStore sets a cross-replica key set snapshot store, used as
// a fallback when the issuer is unreachable.
func WithSnapshotStore(s SnapshotStore) GateOption {
	return func(o *gateOptions) { o.store = s }
}

// WithLogger sets the logger for gate and validator events.
func WithLogger(l *slog.Logger) GateOption {
	return func(o *gateOptions) { o.logger = l }
}

// Gate composes the full per-hop check sequence: token extraction,
// validation, principal extraction, and route authorization. One Gate
// serves a whole process; HTTP middleware and gRPC interceptors are thin
// adapters over [Gate.Check].
type Gate struct {
	validator *Validator
	extractor *Extractor
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewGate builds a Gate from configuration. Returns an error with
// [hgerr.CodeInternalConfiguration] when the configuration cannot produce
// a safe gate.
func NewGate(cfg GateConfig, opts ...GateOption) (*Gate, error) {
	var o gateOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	var overrides map[string]string
	if cfg.JWKSURL != "" {
		overrides = map[string]string{cfg.Issuer: cfg.JWKSURL}
	}

	httpClient := o.httpClient
	if httpClient == nil && cfg.HTTPTimeout > 0 {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	cache := NewKeySetCache(KeySetCacheConfig{
		TTL:           cfg.KeySetTTL,
		HTTPClient:    httpClient,
		JWKSOverrides: overrides,
		Store:         o.store,
		Logger:        logger,
	})

	validator, err := NewValidator(ValidatorConfig{
		ExpectedIssuer:    cfg.Issuer,
		ExpectedAudience:  cfg.Audience,
		ClockSkew:         cfg.ClockSkew,
		AllowedAlgorithms: cfg.AllowedAlgorithms,
		Logger:            logger,
	}, cache)
	if err != nil {
		return nil, err
	}

	return &Gate{
		validator: validator,
		extractor: NewExtractor(ExtractorConfig{
			RolesClaimPath: cfg.RolesClaimPath,
			UsernameClaim:  cfg.UsernameClaim,
		}),
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Check runs the gate against a raw token for a route requirement and
// returns a context enriched with the token, claims, and principal.
//
// The returned error's code category tells the transport adapter what to
// do: AUTH means reject as unauthenticated, AUTHZ as forbidden, UNAVAIL
// as a dependency failure that says nothing about the token.
func (g *Gate) Check(ctx context.Context, rawToken string, req RouteRequirement) (context.Context, error) {
	if req.Public {
		return ctx, nil
	}

	ctx, span := startSpan(ctx, g.tracer, "auth.GateCheck")
	defer span.End()

	if rawToken == "" {
		err := hgerr.New(hgerr.CodeTokenMissing, "auth: no bearer token presented")
		finishSpan(span, err)
		return ctx, err
	}

	claims, err := g.validator.Validate(ctx, rawToken)
	if err != nil {
		finishSpan(span, err)
		return ctx, err
	}

	principal := g.extractor.Extract(claims)
	span.SetAttributes(attribute.String("auth.subject", principal.Subject))

	if err := Authorize(principal, req); err != nil {
		g.logger.WarnContext(ctx, "auth: request forbidden",
			"subject", principal.Subject,
			"required_any_of", strings.Join(req.RequiredRoles, ","),
		)
		finishSpan(span, err)
		return ctx, err
	}

	ctx = WithRawToken(ctx, rawToken)
	ctx = WithClaims(ctx, claims)
	ctx = WithPrincipal(ctx, principal)
	return ctx, nil
}

// Middleware wraps an HTTP handler with the gate. Requests that fail the
// gate receive a JSON error body and the status the error's category maps
// to; requests that pass reach the handler with an enriched context.
//
// Each request is assigned a correlation ID, reusing an inbound
// X-Request-Id when present.
func (g *Gate) Middleware(req RouteRequirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx = WithRequestID(ctx, requestID)
			w.Header().Set(HeaderRequestID, requestID)

			rawToken := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			ctx, err := g.Check(ctx, rawToken, req)
			if err != nil {
				g.writeError(ctx, w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// errorResponse is the JSON body returned for gate failures.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders a gate failure. The body carries the stable code and
// a short message; causes and details stay in the logs, where a token
// appears only as a digest.
func (g *Gate) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := hgerr.CodeInternal
	message := "internal error"

	if e, ok := hgerr.AsError(err); ok {
		status = e.HTTPStatus()
		code = e.Code
		message = e.Message
	}

	g.logger.InfoContext(ctx, "auth: request rejected",
		"status", status,
		"code", code,
		"request_id", RequestIDFromContext(ctx),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: code.String(), Message: message})
}

// PropagatingRoundTripper is an [http.RoundTripper] that re-attaches the
// request context's validated bearer token to every outbound request,
// byte for byte. Wrap a service's outbound transport with it once and
// every call the service makes carries the caller's credential forward.
type PropagatingRoundTripper struct {
	// Base performs the actual request. If nil, http.DefaultTransport
	// is used.
	Base http.RoundTripper

	// Logger receives a warning when an outbound request leaves without
	// a token. If nil, slog.Default is used.
	Logger *slog.Logger
}

// RoundTrip clones the request and sets the Authorization and
// X-Request-Id headers from the request context. A context without a
// token produces a warning and an unauthenticated outbound request, which
// the downstream gate will reject on its own; propagation never invents a
// credential.
func (t *PropagatingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	out := req.Clone(req.Context())

	if rawToken := RawTokenFromContext(req.Context()); rawToken != "" {
		out.Header.Set(HeaderAuthorization, BearerHeader(rawToken))
	} else {
		logger := t.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(req.Context(), "auth: outbound request has no token to propagate",
			"url", req.URL.Redacted())
	}

	if requestID := RequestIDFromContext(req.Context()); requestID != "" {
		out.Header.Set(HeaderRequestID, requestID)
	}

	return base.RoundTrip(out)
}

// ServiceResolver maps a logical service name to a base URL. It is the
// seam between token propagation, which this package owns, and service
// discovery, which it does not.
type ServiceResolver interface {
	Resolve(name string) (string, error)
}

// StaticResolver resolves service names from a fixed map.
type StaticResolver map[string]string

// Resolve returns the configured base URL for name, or an error with
// [hgerr.CodeNotFound].
func (r StaticResolver) Resolve(name string) (string, error) {
	base, ok := r[name]
	if !ok {
		return "", hgerr.Newf(hgerr.CodeNotFound, "auth: no address for service %q", name)
	}
	return base, nil
}

// ForwardingClient issues calls to named downstream services with the
// inbound token propagated. It performs no retries: a failed downstream
// call surfaces immediately, because the failure may be the downstream
// hop's own verdict on the token.
type ForwardingClient struct {
	client   *http.Client
	resolver ServiceResolver
}

// NewForwardingClient builds a ForwardingClient around a resolver. The
// base client's transport is wrapped with a [PropagatingRoundTripper];
// pass nil to start from default settings with a 10-second timeout.
func NewForwardingClient(resolver ServiceResolver, base *http.Client) *ForwardingClient {
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}
	wrapped := *base
	wrapped.Transport = &PropagatingRoundTripper{Base: base.Transport}
	return &ForwardingClient{client: &wrapped, resolver: resolver}
}

// Call sends a request to a named service. The path is joined to the
// resolved base URL. Returns the response with its body open; the caller
// owns closing it.
func (c *ForwardingClient) Call(ctx context.Context, method, service, path string, body io.Reader) (*http.Response, error) {
	base, err := c.resolver.Resolve(service)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, hgerr.Wrapf(err, hgerr.CodeInternal,
			"auth: failed to build request to service %q", service)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, hgerr.Wrapf(err, hgerr.CodeUnavailable,
			"auth: call to service %q failed", service)
	}
	return resp, nil
}

// Get issues a GET to a named service.
func (c *ForwardingClient) Get(ctx context.Context, service, path string) (*http.Response, error) {
	return c.Call(ctx, http.MethodGet, service, path, nil)
}
