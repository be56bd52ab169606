package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv           *httptest.Server
	issuer        string
	jwksPath      string
	discoveryHits atomic.Int64
	jwksHits      atomic.Int64
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys"}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		m.discoveryHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 m.issuer,
			"jwks_uri":               m.issuer + m.jwksPath,
			"authorization_endpoint": m.issuer + "/oauth2/auth",
			"token_endpoint":         m.issuer + "/oauth2/token",
		})
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		m.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	return m
}

func (m *mockOIDC) Close() { m.srv.Close() }

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseConfig(issuer, aud string) *Config {
	cfg := DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audience = aud
	cfg.Leeway = 0
	return cfg
}

func baseClaims(issuer, aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func TestVerify_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	aud := "https://api.example.com"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signToken(t, pk, kid, baseClaims(oidcSrv.issuer, aud))
	id, err := v.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Principal != "user-123" {
		t.Fatalf("want principal user-123, got %s", id.Principal)
	}
	if got, _ := id.Claims["aud"].(string); got != aud {
		t.Fatalf("claims not carried through: aud=%q", got)
	}
}

func TestVerify_StaticJWKSSkipsDiscovery(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	cfg := baseConfig(oidcSrv.issuer, "")
	cfg.JWKSURI = oidcSrv.issuer + oidcSrv.jwksPath
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signToken(t, pk, kid, baseClaims(oidcSrv.issuer, "anything"))
	if _, err := v.Verify(ctx, tok); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n := oidcSrv.discoveryHits.Load(); n != 0 {
		t.Fatalf("expected no discovery fetches with static jwks uri, got %d", n)
	}
	if n := oidcSrv.jwksHits.Load(); n == 0 {
		t.Fatalf("expected the configured jwks uri to be fetched")
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	aud := "https://api.example.com"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidcSrv.issuer, aud)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tok := signToken(t, pk, kid, claims)
	if _, err := v.Verify(ctx, tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for expired token, got %v", err)
	}
}

func TestVerify_UnknownKid(t *testing.T) {
	_, _, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	// Sign with a key whose kid the published JWKS never contains.
	rogue, _, _ := genRSA(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, ""))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signToken(t, rogue, "rogue-key", baseClaims(oidcSrv.issuer, ""))
	if _, err := v.Verify(ctx, tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown kid, got %v", err)
	}
}

func TestVerify_IssuerMismatch(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	aud := "https://api.example.com"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims("https://evil.example.com", aud)
	tok := signToken(t, pk, kid, claims)
	if _, err := v.Verify(ctx, tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerify_AudienceArray(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	aud := "https://api.example.com"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidcSrv.issuer, aud)
	claims["aud"] = []string{"https://other", aud}
	tok := signToken(t, pk, kid, claims)
	if _, err := v.Verify(ctx, tok); err != nil {
		t.Fatalf("verify: %v", err)
	}

	claims["aud"] = "https://unknown"
	tok2 := signToken(t, pk, kid, claims)
	if _, err := v.Verify(ctx, tok2); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown audience, got %v", err)
	}
}

func TestVerify_NoAudienceConfigured(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, ""))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	claims := baseClaims(oidcSrv.issuer, "https://whoever")
	tok := signToken(t, pk, kid, claims)
	if _, err := v.Verify(ctx, tok); err != nil {
		t.Fatalf("audience check should be skipped when unconfigured: %v", err)
	}
}

func TestVerify_PrincipalPriority(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, ""))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cases := []struct {
		name  string
		claim map[string]any
		want  string
	}{
		{"sub wins", map[string]any{"sub": "s", "email": "e@x", "preferred_username": "p"}, "s"},
		{"email next", map[string]any{"email": "e@x", "preferred_username": "p"}, "e@x"},
		{"preferred_username next", map[string]any{"preferred_username": "p"}, "p"},
		{"fallback", map[string]any{}, "unknown"},
	}
	for _, tc := range cases {
		claims := jwt.MapClaims{
			"iss": oidcSrv.issuer,
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
		}
		for k, val := range tc.claim {
			claims[k] = val
		}
		tok := signToken(t, pk, kid, claims)
		id, err := v.Verify(ctx, tok)
		if err != nil {
			t.Fatalf("%s: verify: %v", tc.name, err)
		}
		if id.Principal != tc.want {
			t.Fatalf("%s: want principal %q, got %q", tc.name, tc.want, id.Principal)
		}
	}
}

func TestVerify_DiscoverySingleFlight(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidcSrv := newMockOIDC(t, jwks)
	defer oidcSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := New(ctx, baseConfig(oidcSrv.issuer, ""))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signToken(t, pk, kid, baseClaims(oidcSrv.issuer, ""))

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Verify(ctx, tok); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent verify: %v", err)
	}

	if n := oidcSrv.discoveryHits.Load(); n != 1 {
		t.Fatalf("want exactly one discovery fetch, got %d", n)
	}
}

func TestVerify_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := baseConfig(srv.URL, "")
	cfg.DiscoveryTimeout = 2 * time.Second
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := v.Verify(ctx, "some.token.value"); !errors.Is(err, ErrDiscovery) {
		t.Fatalf("want ErrDiscovery, got %v", err)
	}
	if err := v.Ready(ctx); !errors.Is(err, ErrDiscovery) {
		t.Fatalf("Ready should report discovery failure, got %v", err)
	}
}
