// Package fixtures provides signing keys, token factories, and fake JWKS
// servers for the HopGuard test suite.
//
// Using common constants for test identities prevents magic strings in
// tests and keeps issuer and audience values consistent across packages.
package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Standard identity values used across the auth tests.
const (
	// Issuer is the default token issuer for unit tests.
	Issuer = "https://idp.hopguard.test/realms/main"

	// Audience is the default expected audience for unit tests.
	Audience = "orders-service"

	// AltAudience is an audience belonging to a different service, for
	// mismatch tests.
	AltAudience = "billing-service"

	// Subject is the default subject claim for test identities.
	Subject = "user-abc-123"

	// Username is the default preferred_username claim.
	Username = "jdoe"

	// KeyID is the default signing key ID.
	KeyID = "test-key-1"
)

// SigningKey is an RSA key pair with a key ID, for minting test tokens
// and publishing the matching JWKS entry.
type SigningKey struct {
	KeyID string
	Key   *rsa.PrivateKey
}

// NewSigningKey generates a 2048-bit RSA signing key with the given key
// ID.
func NewSigningKey(t testing.TB, kid string) *SigningKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generating RSA test key")
	return &SigningKey{KeyID: kid, Key: key}
}

// Claims returns a claims map for a token that passes the full check
// sequence against the default issuer and audience: valid expiry, roles
// under realm_access.roles, and a preferred_username. Override entries as
// needed per test.
func Claims(overrides map[string]any) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss":                Issuer,
		"aud":                Audience,
		"sub":                Subject,
		"preferred_username": Username,
		"exp":                time.Now().Add(5 * time.Minute).Unix(),
		"iat":                time.Now().Unix(),
		"realm_access": map[string]any{
			"roles": []any{"user"},
		},
	}
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return claims
}

// Sign mints an RS256 token with the key's key ID in the header.
func (k *SigningKey) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.KeyID
	signed, err := token.SignedString(k.Key)
	require.NoError(t, err, "signing test token")
	return signed
}

// JWK returns the key's public half as a JWKS entry.
func (k *SigningKey) JWK() map[string]any {
	pub := &k.Key.PublicKey
	return map[string]any{
		"kty": "RSA",
		"kid": k.KeyID,
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ECSigningKey is a P-256 key pair for ES256 token tests.
type ECSigningKey struct {
	KeyID string
	Key   *ecdsa.PrivateKey
}

// NewECSigningKey generates a P-256 signing key with the given key ID.
func NewECSigningKey(t testing.TB, kid string) *ECSigningKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "generating EC test key")
	return &ECSigningKey{KeyID: kid, Key: key}
}

// Sign mints an ES256 token with the key's key ID in the header.
func (k *ECSigningKey) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = k.KeyID
	signed, err := token.SignedString(k.Key)
	require.NoError(t, err, "signing test token")
	return signed
}

// JWK returns the key's public half as a JWKS entry.
func (k *ECSigningKey) JWK() map[string]any {
	pub := &k.Key.PublicKey
	size := (pub.Curve.Params().BitSize + 7) / 8
	return map[string]any{
		"kty": "EC",
		"kid": k.KeyID,
		"alg": "ES256",
		"use": "sig",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

// JWKSDocument renders a JWKS JSON document from JWKS entries produced by
// the JWK methods.
func JWKSDocument(t testing.TB, jwks ...map[string]any) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]any{"keys": jwks})
	require.NoError(t, err, "marshaling JWKS document")
	return doc
}

// JWKSServer is a fake issuer key endpoint. It serves the current JWKS
// document and counts fetches, so tests can assert coalescing and the
// absence of fetches for tokens that fail structurally.
type JWKSServer struct {
	*httptest.Server

	fetches atomic.Int64
	doc     atomic.Value // []byte
	failing atomic.Bool
}

// ServeJWKS starts a fake key endpoint serving the given JWKS entries.
// The server is shut down with the test. Point a key set cache at it with
// a JWKS URL override.
func ServeJWKS(t testing.TB, jwks ...map[string]any) *JWKSServer {
	t.Helper()

	s := &JWKSServer{}
	s.doc.Store(JWKSDocument(t, jwks...))

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		if s.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.doc.Load().([]byte))
	}))
	t.Cleanup(s.Close)
	return s
}

// Fetches returns the number of requests the server has received.
func (s *JWKSServer) Fetches() int64 {
	return s.fetches.Load()
}

// Rotate replaces the served JWKS document with new entries.
func (s *JWKSServer) Rotate(t testing.TB, jwks ...map[string]any) {
	t.Helper()
	s.doc.Store(JWKSDocument(t, jwks...))
}

// SetFailing toggles whether the server answers with a 500 instead of the
// document, for unavailability tests.
func (s *JWKSServer) SetFailing(failing bool) {
	s.failing.Store(failing)
}
