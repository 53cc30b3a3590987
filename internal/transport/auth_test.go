package transport

import (
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
	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/internal/config"
)

// jwksFixture bundles a signing key with a JWKS endpoint serving its public
// half.
type jwksFixture struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server
	hits   atomic.Int64
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	f := &jwksFixture{key: key, kid: "test-key-1"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.hits.Add(1)
		jwk := map[string]any{
			"kty": "RSA",
			"kid": f.kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}
		json.NewEncoder(w).Encode(map[string]any{"keys": []any{jwk}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func identityConfig(issuer, audience string) config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     issuer,
		Audience:   audience,
		Algorithms: []string{"RS256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"iss":   "https://auth.example.com",
		"aud":   "tripdesk-api",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": []any{"approver"},
	}
}

// authProbe runs a request with the given Authorization header through the
// JWT middleware and reports status plus the claims seen by the handler.
func authProbe(t *testing.T, f *jwksFixture, cfg config.IdentityConfig, header string) (int, map[string]any) {
	t.Helper()
	jwks := NewJWKSClient(f.server.URL, time.Hour, zap.NewNop())

	var seen map[string]any
	handler := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/approvals", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Code, seen
}

func TestJWTAuthenticator_validToken(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	status, claims := authProbe(t, f, cfg, "Bearer "+f.sign(t, validClaims()))
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if claims["sub"] != "user-1" {
		t.Errorf("sub = %v, want user-1", claims["sub"])
	}
}

func TestJWTAuthenticator_missingHeader(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	status, _ := authProbe(t, f, cfg, "")
	if status != 401 {
		t.Errorf("status = %d, want 401", status)
	}
}

func TestJWTAuthenticator_malformedHeader(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	status, _ := authProbe(t, f, cfg, "Basic dXNlcjpwYXNz")
	if status != 401 {
		t.Errorf("status = %d, want 401", status)
	}
}

func TestJWTAuthenticator_expiredToken(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	status, _ := authProbe(t, f, cfg, "Bearer "+f.sign(t, claims))
	if status != 401 {
		t.Errorf("status = %d, want 401 for expired token", status)
	}
}

func TestJWTAuthenticator_wrongIssuer(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	claims := validClaims()
	claims["iss"] = "https://evil.example.com"

	status, _ := authProbe(t, f, cfg, "Bearer "+f.sign(t, claims))
	if status != 401 {
		t.Errorf("status = %d, want 401 for wrong issuer", status)
	}
}

func TestJWTAuthenticator_wrongAudience(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	claims := validClaims()
	claims["aud"] = "other-api"

	status, _ := authProbe(t, f, cfg, "Bearer "+f.sign(t, claims))
	if status != 401 {
		t.Errorf("status = %d, want 401 for wrong audience", status)
	}
}

func TestJWTAuthenticator_missingExpiry(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	claims := validClaims()
	delete(claims, "exp")

	status, _ := authProbe(t, f, cfg, "Bearer "+f.sign(t, claims))
	if status != 401 {
		t.Errorf("status = %d, want 401 without exp claim", status)
	}
}

func TestJWTAuthenticator_wrongKey(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := identityConfig("https://auth.example.com", "tripdesk-api")

	// Sign with a different key but the same kid.
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(otherKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	status, _ := authProbe(t, f, cfg, "Bearer "+signed)
	if status != 401 {
		t.Errorf("status = %d, want 401 for bad signature", status)
	}
}

func TestJWKSClient_cachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	jwks := NewJWKSClient(f.server.URL, time.Hour, zap.NewNop())

	if _, err := jwks.GetKey(f.kid); err != nil {
		t.Fatalf("first GetKey: %v", err)
	}
	if _, err := jwks.GetKey(f.kid); err != nil {
		t.Fatalf("second GetKey: %v", err)
	}
	if got := f.hits.Load(); got != 1 {
		t.Errorf("jwks fetches = %d, want 1 (second lookup should hit cache)", got)
	}
}

func TestJWKSClient_unknownKid(t *testing.T) {
	f := newJWKSFixture(t)
	jwks := NewJWKSClient(f.server.URL, time.Hour, zap.NewNop())

	if _, err := jwks.GetKey("no-such-kid"); err == nil {
		t.Error("expected error for unknown kid")
	}
}

func TestJWKSClient_degradedMode(t *testing.T) {
	f := newJWKSFixture(t)
	jwks := NewJWKSClient(f.server.URL, 0, zap.NewNop()) // zero TTL forces refresh every call
	jwks.minRefresh = 0

	if _, err := jwks.GetKey(f.kid); err != nil {
		t.Fatalf("initial GetKey: %v", err)
	}

	// Endpoint goes away; the cached key should still be served.
	f.server.Close()
	if _, err := jwks.GetKey(f.kid); err != nil {
		t.Errorf("GetKey after endpoint loss: %v, want cached key", err)
	}
}
