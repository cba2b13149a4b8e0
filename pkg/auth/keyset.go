package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// HTTPClient abstracts the HTTP client used for key set and discovery
// fetches, allowing callers to supply clients with custom timeouts or
// transports. The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SnapshotStore is an optional shared store for raw JWKS documents,
// consulted only when the issuer's endpoint cannot be reached. A snapshot
// is written after every successful fetch and read back as a fallback, so
// a fleet of replicas can survive a transient issuer outage as long as one
// replica fetched recently.
//
// The store never bypasses verification: snapshot keys go through the same
// parsing and the same signature checks as freshly fetched ones.
type SnapshotStore interface {
	// PutSnapshot stores the raw JWKS document for an issuer with the
	// given retention. Failures are non-fatal for the caller.
	PutSnapshot(ctx context.Context, issuer string, jwks []byte, ttl time.Duration) error

	// GetSnapshot returns the stored JWKS document for an issuer, or an
	// error with [hgerr.CodeNotFound] if no snapshot exists.
	GetSnapshot(ctx context.Context, issuer string) ([]byte, error)
}

// KeySetEntry is one public signing key from an issuer's key set.
// Entries are immutable: a refresh replaces the whole per-issuer map,
// never an individual entry.
type KeySetEntry struct {
	// KeyID is the "kid" the issuer assigned to this key.
	KeyID string

	// Algorithm is the "alg" hint from the JWKS document, if present.
	Algorithm string

	// Key is the reconstructed public key (*rsa.PublicKey or
	// *ecdsa.PublicKey).
	Key any
}

// ErrKeyNotFound is returned by [KeySetCache.Key] when the issuer's key
// set, even after a fresh fetch, contains no key with the requested ID.
// This is a property of the token (it references a key the issuer no
// longer publishes), distinct from [hgerr.CodeKeySetUnavailable], which
// means the key set could not be obtained at all.
var ErrKeyNotFound = hgerr.New(hgerr.CodeNotFound, "auth: key ID not found in issuer key set")

// KeySetCacheConfig configures a [KeySetCache].
type KeySetCacheConfig struct {
	// TTL is the maximum age of a cached key set before the next lookup
	// triggers a refresh. Zero disables age-based refresh; refresh on
	// key-ID miss still applies.
	TTL time.Duration

	// HTTPClient performs discovery and JWKS fetches. If nil, a default
	// client with a 10-second timeout is used.
	HTTPClient HTTPClient

	// JWKSOverrides maps an issuer to a fixed JWKS URL, bypassing OIDC
	// discovery for that issuer. Useful for issuers that publish keys
	// outside the standard well-known location, and for tests.
	JWKSOverrides map[string]string

	// Store is an optional cross-replica snapshot fallback.
	Store SnapshotStore

	// Logger receives refresh and fallback events. If nil, slog.Default
	// is used.
	Logger *slog.Logger
}

// issuerKeys is the cached state for one issuer. The keys map is treated
// as immutable after construction; a refresh swaps the whole value under
// the cache's write lock so readers never observe a partial key set.
type issuerKeys struct {
	keys      map[string]KeySetEntry
	jwksURL   string
	fetchedAt time.Time
}

// KeySetCache fetches and caches issuer public signing keys.
//
// It is the only component in this package with shared mutable state and
// is safe for concurrent use by many simultaneously-validating requests.
// Reads take a shared lock; the rare refresh swaps the per-issuer map
// wholesale. Concurrent misses for the same issuer coalesce into a single
// network fetch via singleflight, so a cold cache under load performs one
// fetch, not one per request.
type KeySetCache struct {
	mu      sync.RWMutex
	issuers map[string]*issuerKeys

	sf        singleflight.Group
	ttl       time.Duration
	client    HTTPClient
	overrides map[string]string
	store     SnapshotStore
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewKeySetCache creates a KeySetCache from the given configuration.
func NewKeySetCache(cfg KeySetCacheConfig) *KeySetCache {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySetCache{
		issuers:   make(map[string]*issuerKeys),
		ttl:       cfg.TTL,
		client:    client,
		overrides: cfg.JWKSOverrides,
		store:     cfg.Store,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Key returns the issuer's public key with the given key ID.
//
// On a cache miss (unknown issuer, unknown key ID, or stale entry) the
// issuer's key set is refreshed; concurrent misses for the same issuer
// share one fetch. Returns [ErrKeyNotFound] when a fresh key set has no
// such key ID, or an error with [hgerr.CodeKeySetUnavailable] when the
// key set cannot be obtained.
func (c *KeySetCache) Key(ctx context.Context, issuer, kid string) (KeySetEntry, error) {
	c.mu.RLock()
	entry, ok := c.issuers[issuer]
	if ok && (c.ttl == 0 || time.Since(entry.fetchedAt) < c.ttl) {
		key, exists := entry.keys[kid]
		c.mu.RUnlock()
		if exists {
			return key, nil
		}
		// Unknown kid in a fresh set: possible key rotation, refetch.
	} else {
		c.mu.RUnlock()
	}

	keys, err := c.refresh(ctx, issuer)
	if err != nil {
		return KeySetEntry{}, err
	}

	key, exists := keys[kid]
	if !exists {
		return KeySetEntry{}, ErrKeyNotFound.WithDetail("kid", kid)
	}
	return key, nil
}

// refresh fetches the issuer's key set and atomically replaces the cached
// map. Concurrent callers for the same issuer coalesce into one fetch and
// share its result.
func (c *KeySetCache) refresh(ctx context.Context, issuer string) (map[string]KeySetEntry, error) {
	v, err, _ := c.sf.Do(issuer, func() (any, error) {
		ctx, span := startSpan(ctx, c.tracer, "auth.KeySetRefresh")
		defer span.End()
		span.SetAttributes(attribute.String("auth.issuer", issuer))

		jwksURL, err := c.jwksURL(ctx, issuer)
		if err != nil {
			finishSpan(span, err)
			return nil, err
		}

		raw, fetchErr := c.fetchRaw(ctx, jwksURL)
		if fetchErr != nil {
			raw, err = c.snapshotFallback(ctx, issuer, fetchErr)
			if err != nil {
				finishSpan(span, err)
				return nil, err
			}
		}

		keys, err := parseJWKS(raw)
		if err != nil {
			wrapped := hgerr.Wrap(err, hgerr.CodeKeySetUnavailable,
				"auth: issuer returned an unparseable key set")
			finishSpan(span, wrapped)
			return nil, wrapped
		}

		if fetchErr == nil && c.store != nil {
			// Best effort; a dead store must not fail validation.
			if putErr := c.store.PutSnapshot(ctx, issuer, raw, c.snapshotTTL()); putErr != nil {
				c.logger.WarnContext(ctx, "auth: failed to store key set snapshot",
					"issuer", issuer, "error", putErr)
			}
		}

		c.mu.Lock()
		c.issuers[issuer] = &issuerKeys{
			keys:      keys,
			jwksURL:   jwksURL,
			fetchedAt: time.Now(),
		}
		c.mu.Unlock()

		span.SetAttributes(attribute.Int("auth.key_count", len(keys)))
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]KeySetEntry), nil
}

// snapshotFallback consults the snapshot store after a failed fetch.
// Without a store, or without a snapshot, the original fetch failure is
// surfaced as KeySetUnavailable.
func (c *KeySetCache) snapshotFallback(ctx context.Context, issuer string, fetchErr error) ([]byte, error) {
	unavailable := hgerr.Wrap(fetchErr, hgerr.CodeKeySetUnavailable,
		"auth: failed to fetch issuer key set")

	if c.store == nil {
		return nil, unavailable
	}

	raw, err := c.store.GetSnapshot(ctx, issuer)
	if err != nil {
		c.logger.WarnContext(ctx, "auth: key set fetch failed and no snapshot available",
			"issuer", issuer, "fetch_error", fetchErr, "snapshot_error", err)
		return nil, unavailable
	}

	c.logger.WarnContext(ctx, "auth: issuer unreachable, using key set snapshot",
		"issuer", issuer, "fetch_error", fetchErr)
	return raw, nil
}

// snapshotTTL returns the retention for stored snapshots: the cache TTL
// when set, otherwise one hour.
func (c *KeySetCache) snapshotTTL() time.Duration {
	if c.ttl > 0 {
		return c.ttl
	}
	return time.Hour
}

// jwksURL resolves the key set URL for an issuer: a configured override,
// a previously discovered URL, or the issuer's OIDC discovery document.
func (c *KeySetCache) jwksURL(ctx context.Context, issuer string) (string, error) {
	if url, ok := c.overrides[issuer]; ok {
		return url, nil
	}

	c.mu.RLock()
	entry, ok := c.issuers[issuer]
	c.mu.RUnlock()
	if ok && entry.jwksURL != "" {
		return entry.jwksURL, nil
	}

	discoveryURL := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	body, err := c.fetchRaw(ctx, discoveryURL)
	if err != nil {
		return "", hgerr.Wrap(err, hgerr.CodeKeySetUnavailable,
			"auth: issuer discovery failed")
	}

	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", hgerr.Wrap(err, hgerr.CodeKeySetUnavailable,
			"auth: issuer discovery document is not valid JSON")
	}
	if doc.JWKSURI == "" {
		return "", hgerr.New(hgerr.CodeKeySetUnavailable,
			"auth: issuer discovery document is missing jwks_uri")
	}
	return doc.JWKSURI, nil
}

// fetchRaw performs a GET and returns the response body, limited to 1 MB.
// Non-200 responses are errors: a 5xx from the issuer means the key set is
// unavailable, not that any token is invalid.
func (c *KeySetCache) fetchRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to build key set request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: key set request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read key set response: %w", err)
	}
	return body, nil
}

// jwkDocument is the JSON shape of a JWKS endpoint response. Only the
// fields needed to reconstruct RSA and EC verification keys are read.
type jwkDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Alg string `json:"alg"`
		// RSA fields
		N string `json:"n"`
		E string `json:"e"`
		// EC fields
		Crv string `json:"crv"`
		X   string `json:"x"`
		Y   string `json:"y"`
	} `json:"keys"`
}

// parseJWKS decodes a JWKS document into a kid-indexed entry map.
// Keys without a kid and keys of unsupported types are skipped; a key
// that fails to parse is skipped rather than failing the whole set, so
// one malformed rotation entry cannot take the issuer offline.
func parseJWKS(raw []byte) (map[string]KeySetEntry, error) {
	var doc jwkDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]KeySetEntry, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pub, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue
			}
			keys[k.Kid] = KeySetEntry{KeyID: k.Kid, Algorithm: k.Alg, Key: pub}
		case "EC":
			pub, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			keys[k.Kid] = KeySetEntry{KeyID: k.Kid, Algorithm: k.Alg, Key: pub}
		}
	}
	return keys, nil
}

// parseRSAPublicKey reconstructs an *rsa.PublicKey from base64url-encoded
// modulus and exponent values.
func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// parseECPublicKey reconstructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded coordinates.
func parseECPublicKey(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
