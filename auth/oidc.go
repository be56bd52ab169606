package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/authgate/authgate/internal/jwtauth"
)

// OIDCConfig describes how bearer tokens are verified against an identity
// provider.
type OIDCConfig struct {
	// Issuer is the identity provider's issuer URL. Required.
	Issuer string
	// ClientID is the OAuth2 client this service is registered as. Carried
	// for completeness of the provider relationship; token verification
	// never uses it.
	ClientID string
	// ClientSecret likewise belongs to flows outside this package.
	ClientSecret string
	// Audience, when non-empty, must appear in the token's "aud" claim.
	Audience string
	// JWKSURI, when set, is used directly. Otherwise the key set location is
	// discovered from {Issuer}/.well-known/openid-configuration, once,
	// memoized for the process lifetime.
	JWKSURI string
	// Leeway is the clock-skew allowance for time claims. Defaults to 60s.
	Leeway time.Duration
	// HTTPClient overrides the discovery client. Tests inject one.
	HTTPClient *http.Client
}

// OIDCVerifier validates Authorization: Bearer tokens. All verification
// failures surface as the single generic ErrInvalidOrExpiredToken; only key
// set resolution problems surface as ErrDiscovery.
type OIDCVerifier struct {
	verifier *jwtauth.Verifier
	realm    string
	log      *slog.Logger
}

// OIDCOption customizes an OIDCVerifier.
type OIDCOption func(*OIDCVerifier)

// WithOIDCRealm sets the realm advertised in Bearer challenges.
func WithOIDCRealm(realm string) OIDCOption {
	return func(v *OIDCVerifier) { v.realm = realm }
}

// WithOIDCLogger sets the logger for diagnostic events.
func WithOIDCLogger(log *slog.Logger) OIDCOption {
	return func(v *OIDCVerifier) { v.log = log }
}

// NewOIDCVerifier builds a bearer-token verifier. ctx scopes the background
// JWKS refresh and should live for the process lifetime; no network I/O
// happens until Ready or the first verification.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig, opts ...OIDCOption) (*OIDCVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("auth: oidc issuer is required")
	}
	jc := jwtauth.DefaultConfig()
	jc.Issuer = cfg.Issuer
	jc.Audience = cfg.Audience
	jc.JWKSURI = cfg.JWKSURI
	jc.HTTPClient = cfg.HTTPClient
	if cfg.Leeway != 0 {
		jc.Leeway = cfg.Leeway
	}
	inner, err := jwtauth.New(ctx, jc)
	if err != nil {
		return nil, err
	}
	v := &OIDCVerifier{verifier: inner, log: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Ready forces key set resolution, surfacing broken issuer configuration at
// startup instead of on the first authenticated request.
func (v *OIDCVerifier) Ready(ctx context.Context) error {
	if err := v.verifier.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	return nil
}

func (v *OIDCVerifier) Method() Method { return MethodOIDC }

const bearerPrefix = "Bearer "

// Verify extracts and validates a bearer token. The specific failed check
// is logged but never returned to the caller.
func (v *OIDCVerifier) Verify(ctx context.Context, r *http.Request) Result {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return Skip()
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		v.log.InfoContext(ctx, "auth.oidc.fail", slog.String("err", "empty bearer token"))
		return Reject(fmt.Errorf("%w: empty bearer token", ErrMalformedCredentials)).
			WithChallenge(BearerChallenge(v.realm, "invalid_request", "empty bearer token"))
	}

	id, err := v.verifier.Verify(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrDiscovery) {
			v.log.ErrorContext(ctx, "auth.oidc.discovery_fail", slog.String("err", err.Error()))
			return Reject(fmt.Errorf("%w: %v", ErrDiscovery, err))
		}
		v.log.InfoContext(ctx, "auth.oidc.fail", slog.String("err", err.Error()))
		return Reject(ErrInvalidOrExpiredToken).
			WithChallenge(BearerChallenge(v.realm, "invalid_token", "invalid or expired token"))
	}

	v.log.InfoContext(ctx, "auth.oidc.ok", slog.String("principal", id.Principal))
	return Accept(&AuthContext{Method: MethodOIDC, Principal: id.Principal, Claims: id.Claims})
}
