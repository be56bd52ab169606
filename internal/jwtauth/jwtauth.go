package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/authgate/authgate/internal/wellknown"
)

// Config controls validation behavior for bearer tokens.
type Config struct {
	Issuer string
	// Audience, when non-empty, must be contained in the token's "aud" claim.
	// When empty no audience check is performed.
	Audience string
	// JWKSURI, when non-empty, is used directly and no discovery request is
	// ever issued. When empty the JWKS location is discovered lazily from
	// {Issuer}/.well-known/openid-configuration.
	JWKSURI     string
	AllowedAlgs []string
	Leeway      time.Duration
	// DiscoveryTimeout bounds the discovery round trip and the initial JWKS
	// fetch. Defaults to 10s.
	DiscoveryTimeout time.Duration
	// HTTPClient overrides the client used for discovery. Tests inject one;
	// production leaves it nil.
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// ErrUnauthorized indicates the token failed validation (signature, issuer,
// audience, exp/nbf). The caller must not surface which check failed.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrDiscovery indicates the identity provider's metadata or key set could
// not be resolved. This is an infrastructure/configuration failure, not a
// judgment on the presented credential.
var ErrDiscovery = errors.New("jwtauth: discovery failed")

// principalClaims is the ordered list of claims tried when deriving a
// principal from a verified token. Extend the list, never reorder it.
var principalClaims = []string{"sub", "email", "preferred_username"}

// Identity is the verified result of a token check.
type Identity struct {
	Principal string
	Claims    jwt.MapClaims
}

// Verifier validates bearer tokens against a remote signing key set. The
// key set location is resolved at most once per process: eagerly via Ready,
// or lazily single-flighted on the first verification that needs it.
// Resolution failures are never cached, so a later request retries.
type Verifier struct {
	cfg *Config

	// lifeCtx scopes the background JWKS refresh goroutine.
	lifeCtx context.Context

	group singleflight.Group

	mu sync.RWMutex
	kf jwt.Keyfunc // non-nil once resolution succeeded
}

// New builds a Verifier. ctx scopes the background JWKS refresh and should
// live for the process lifetime. No network I/O happens here.
func New(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = 10 * time.Second
	}
	return &Verifier{cfg: cfg, lifeCtx: ctx}, nil
}

// Ready forces key set resolution. Call it at startup to detect broken
// issuer configuration before serving traffic.
func (v *Verifier) Ready(ctx context.Context) error {
	_, err := v.resolve(ctx)
	return err
}

// resolve returns the keyfunc, performing discovery and JWKS initialization
// on first use. Concurrent callers share one outbound attempt.
func (v *Verifier) resolve(ctx context.Context) (jwt.Keyfunc, error) {
	v.mu.RLock()
	kf := v.kf
	v.mu.RUnlock()
	if kf != nil {
		return kf, nil
	}

	res, err, _ := v.group.Do("resolve", func() (any, error) {
		// Re-check: a racing caller may have populated it already.
		v.mu.RLock()
		kf := v.kf
		v.mu.RUnlock()
		if kf != nil {
			return kf, nil
		}

		jwksURI := v.cfg.JWKSURI
		if jwksURI == "" {
			uri, err := v.discoverJWKSURI(ctx)
			if err != nil {
				return nil, err
			}
			jwksURI = uri
		}

		// The keyfunc context governs background refresh for the rest of
		// the process lifetime, not just this request, so it must not carry
		// this request's deadline.
		k, err := keyfunc.NewDefaultCtx(v.lifeCtx, []string{jwksURI})
		if err != nil {
			return nil, fmt.Errorf("%w: jwks init: %v", ErrDiscovery, err)
		}

		allowed := v.cfg.AllowedAlgs
		wrapped := jwt.Keyfunc(func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			ok := false
			for _, a := range allowed {
				if alg == a {
					ok = true
					break
				}
			}
			if !ok {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return k.Keyfunc(t)
		})

		v.mu.Lock()
		v.kf = wrapped
		v.mu.Unlock()
		return wrapped, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(jwt.Keyfunc), nil
}

// discoverJWKSURI fetches the issuer's openid-configuration document and
// extracts jwks_uri.
func (v *Verifier) discoverJWKSURI(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.DiscoveryTimeout)
	defer cancel()
	if v.cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, v.cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, v.cfg.Issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var meta wellknown.ProviderMetadata
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("%w: invalid metadata document: %v", ErrDiscovery, err)
	}
	if meta.JwksURI == "" {
		return "", fmt.Errorf("%w: metadata document has no jwks_uri", ErrDiscovery)
	}
	return meta.JwksURI, nil
}

// Verify checks the token's signature, issuer, audience and time claims and
// returns the verified identity. Credential failures wrap ErrUnauthorized;
// key set resolution failures wrap ErrDiscovery.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Identity, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	kf, err := v.resolve(ctx)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, kf)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if iss, _ := claims["iss"].(string); iss == "" || iss != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	}
	if v.cfg.Audience != "" && !audContains(claims["aud"], v.cfg.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	return &Identity{Principal: derivePrincipal(claims), Claims: claims}, nil
}

// derivePrincipal walks the claim priority list and returns the first
// non-empty string value, else "unknown".
func derivePrincipal(claims jwt.MapClaims) string {
	for _, name := range principalClaims {
		if s, _ := claims[name].(string); s != "" {
			return s
		}
	}
	return "unknown"
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
