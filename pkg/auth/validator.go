package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// defaultClockSkew is the tolerance applied to time-based claim checks to
// absorb clock drift between the issuer and validating services.
const defaultClockSkew = 30 * time.Second

// defaultAlgorithms are the signature algorithms accepted when the
// configuration names none. Symmetric algorithms are never accepted:
// validation uses only the issuer's published public keys.
var defaultAlgorithms = []string{"RS256", "ES256"}

// ValidatedClaims is the decoded, verified payload of a token that passed
// every validation check. It retains the raw compact serialization so the
// propagation layer can forward the exact bytes that were validated.
type ValidatedClaims struct {
	raw    string
	header map[string]any
	claims map[string]any
}

// Raw returns the token's compact serialization exactly as received.
func (c *ValidatedClaims) Raw() string { return c.raw }

// Claim resolves a dot-separated path into the claims object, descending
// through nested JSON objects. Returns false when any segment is absent or
// a non-object is traversed.
func (c *ValidatedClaims) Claim(path string) (any, bool) {
	var current any = map[string]any(c.claims)
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// StringClaim returns the claim at path as a string, or "" if it is
// absent or not a string.
func (c *ValidatedClaims) StringClaim(path string) string {
	v, ok := c.Claim(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Subject returns the "sub" claim.
func (c *ValidatedClaims) Subject() string { return c.StringClaim("sub") }

// ExpiresAt returns the "exp" claim as a time, or the zero time if the
// claim is absent or not numeric.
func (c *ValidatedClaims) ExpiresAt() time.Time {
	v, ok := c.claims["exp"]
	if !ok {
		return time.Time{}
	}
	f, ok := v.(float64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(int64(f), 0)
}

// ValidatorConfig configures a [Validator].
type ValidatorConfig struct {
	// ExpectedIssuer is the trusted identity provider. Signing keys are
	// fetched from this issuer only, never from a URL a token names, and
	// the token's "iss" claim must match it exactly.
	ExpectedIssuer string

	// ExpectedAudience must appear in the token's "aud" claim. Must be
	// non-empty: a validator with no expected audience would accept
	// tokens minted for any other service.
	ExpectedAudience string

	// ClockSkew is the tolerance for time-based claim checks. Defaults
	// to 30 seconds when zero.
	ClockSkew time.Duration

	// AllowedAlgorithms lists acceptable "alg" header values. Defaults
	// to RS256 and ES256 when empty.
	AllowedAlgorithms []string

	// Logger receives validation failure events. If nil, slog.Default
	// is used. Log entries identify tokens by digest, never by value.
	Logger *slog.Logger
}

// Validator runs the full check sequence against a raw bearer token:
// structural decoding, signature verification against the issuer's
// published keys, expiry, issuer, and audience, in that order, stopping
// at the first failure.
//
// A Validator is stateless apart from its key set cache and is safe for
// concurrent use.
type Validator struct {
	cfg    ValidatorConfig
	keys   *KeySetCache
	parser *jwt.Parser
	logger *slog.Logger
	tracer trace.Tracer
}

// NewValidator creates a Validator using the given key set cache.
// Returns an error with [hgerr.CodeInternalConfiguration] when the
// expected issuer or audience is empty.
func NewValidator(cfg ValidatorConfig, keys *KeySetCache) (*Validator, error) {
	if cfg.ExpectedIssuer == "" {
		return nil, hgerr.New(hgerr.CodeInternalConfiguration,
			"auth: validator requires a non-empty expected issuer")
	}
	if cfg.ExpectedAudience == "" {
		return nil, hgerr.New(hgerr.CodeInternalConfiguration,
			"auth: validator requires a non-empty expected audience")
	}
	if keys == nil {
		return nil, hgerr.New(hgerr.CodeInternalConfiguration,
			"auth: validator requires a key set cache")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	if len(cfg.AllowedAlgorithms) == 0 {
		cfg.AllowedAlgorithms = defaultAlgorithms
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Validator{
		cfg:  cfg,
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.AllowedAlgorithms),
			// Claim checks run explicitly below so each failure maps to
			// its own error code; the parser verifies signatures only.
			jwt.WithoutClaimsValidation(),
		),
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Validate runs the full check sequence and returns the verified claims.
//
// Every returned error is a *hgerr.Error: AUTH_003 for structural
// failures, AUTH_004 for signature failures, AUTH_002 for expired tokens,
// AUTH_005 for issuer mismatch, AUTH_006 for audience mismatch, and
// UNAVAIL_002 when the issuer's key set cannot be obtained. Checks
// short-circuit: a token failing an early check never reaches the later
// ones, and a structurally invalid token never triggers a key fetch.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*ValidatedClaims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Validate")
	defer span.End()

	claims, err := v.parseStructure(rawToken)
	if err != nil {
		v.logFailure(ctx, rawToken, err)
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.token_digest", TokenDigest(rawToken)))

	for _, check := range []func(context.Context, *ValidatedClaims) *hgerr.Error{
		v.checkSignature,
		v.checkExpiry,
		v.checkIssuer,
		v.checkAudience,
	} {
		if err := check(ctx, claims); err != nil {
			v.logFailure(ctx, rawToken, err)
			finishSpan(span, err)
			return nil, err
		}
	}

	return claims, nil
}

// parseStructure decodes the token's compact serialization without
// verifying anything cryptographic. All failures map to AUTH_003 so that
// garbage input is rejected before any network activity.
func (v *Validator) parseStructure(rawToken string) (*ValidatedClaims, *hgerr.Error) {
	if rawToken == "" {
		return nil, hgerr.New(hgerr.CodeTokenMalformed, "auth: token is empty")
	}
	if len(rawToken) > maxTokenSize {
		return nil, hgerr.New(hgerr.CodeTokenMalformed, "auth: token exceeds maximum size")
	}

	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return nil, hgerr.New(hgerr.CodeTokenMalformed,
			"auth: token is not a three-part compact serialization")
	}
	for _, part := range parts {
		if part == "" {
			// An empty segment (e.g. a stripped signature) is a shape
			// problem, not a crypto problem.
			return nil, hgerr.New(hgerr.CodeTokenMalformed,
				"auth: token has an empty segment")
		}
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return nil, hgerr.Wrap(err, hgerr.CodeTokenMalformed,
			"auth: token header is not decodable")
	}
	claims, err := decodeSegment(parts[1])
	if err != nil {
		return nil, hgerr.Wrap(err, hgerr.CodeTokenMalformed,
			"auth: token claims are not decodable")
	}

	alg, _ := header["alg"].(string)
	if alg == "" || strings.EqualFold(alg, "none") {
		return nil, hgerr.New(hgerr.CodeTokenMalformed,
			"auth: token does not declare a signature algorithm")
	}

	return &ValidatedClaims{raw: rawToken, header: header, claims: claims}, nil
}

// checkSignature verifies the token signature against the configured
// issuer's key set. The token's own "iss" claim is deliberately not
// consulted for key lookup.
func (v *Validator) checkSignature(ctx context.Context, c *ValidatedClaims) *hgerr.Error {
	_, err := v.parser.Parse(c.raw, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, hgerr.New(hgerr.CodeTokenSignature,
				"auth: token header has no key ID")
		}
		entry, err := v.keys.Key(ctx, v.cfg.ExpectedIssuer, kid)
		if err != nil {
			return nil, err
		}
		return entry.Key, nil
	})
	if err == nil {
		return nil
	}

	// Keyfunc errors come back wrapped by the parser; recover our own
	// classification first.
	if hge, ok := hgerr.AsError(err); ok {
		if hge.Code == hgerr.CodeKeySetUnavailable {
			return hge
		}
		if hge.Code == hgerr.CodeNotFound {
			// The issuer does not publish this key, so the signature
			// cannot be genuine.
			return hgerr.Wrap(hge, hgerr.CodeTokenSignature,
				"auth: token is signed with an unknown key")
		}
		if hgerr.IsUnauthenticated(hge) {
			return hge
		}
	}

	if errors.Is(err, jwt.ErrTokenMalformed) {
		return hgerr.Wrap(err, hgerr.CodeTokenMalformed, "auth: token failed to parse")
	}
	return hgerr.Wrap(err, hgerr.CodeTokenSignature, "auth: token signature is invalid")
}

// checkExpiry rejects tokens past their "exp" claim, with clock skew
// tolerance. A token without an expiry is treated as expired rather than
// immortal.
func (v *Validator) checkExpiry(_ context.Context, c *ValidatedClaims) *hgerr.Error {
	exp := c.ExpiresAt()
	if exp.IsZero() {
		return hgerr.New(hgerr.CodeTokenExpired, "auth: token has no expiry claim")
	}
	if time.Now().After(exp.Add(v.cfg.ClockSkew)) {
		return hgerr.New(hgerr.CodeTokenExpired, "auth: token is expired").
			WithDetail("expired_at", exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// checkIssuer requires an exact match between the token's "iss" claim and
// the configured issuer.
func (v *Validator) checkIssuer(_ context.Context, c *ValidatedClaims) *hgerr.Error {
	iss := c.StringClaim("iss")
	if iss != v.cfg.ExpectedIssuer {
		return hgerr.New(hgerr.CodeTokenIssuer, "auth: token issuer is not trusted").
			WithDetail("issuer", iss)
	}
	return nil
}

// checkAudience requires the configured audience to appear in the token's
// "aud" claim, which may be a single string or an array. An absent claim
// fails: a token minted without this service in its audience was not
// minted for this service.
func (v *Validator) checkAudience(_ context.Context, c *ValidatedClaims) *hgerr.Error {
	mismatch := hgerr.New(hgerr.CodeTokenAudience,
		"auth: token audience does not include this service").
		WithDetail("expected", v.cfg.ExpectedAudience)

	raw, ok := c.claims["aud"]
	if !ok {
		return mismatch
	}

	switch aud := raw.(type) {
	case string:
		if aud == v.cfg.ExpectedAudience {
			return nil
		}
	case []any:
		for _, entry := range aud {
			if s, ok := entry.(string); ok && s == v.cfg.ExpectedAudience {
				return nil
			}
		}
	}
	return mismatch
}

// logFailure records a rejected token at warn level, identified by digest.
func (v *Validator) logFailure(ctx context.Context, rawToken string, err *hgerr.Error) {
	v.logger.WarnContext(ctx, "auth: token rejected",
		"code", err.Code,
		"reason", err.Message,
		"token_digest", TokenDigest(rawToken),
	)
}

// decodeSegment base64url-decodes one token segment and unmarshals it as
// a JSON object.
func decodeSegment(segment string) (map[string]any, error) {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
