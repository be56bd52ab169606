// Package authgate assembles the authentication orchestrator from validated
// configuration and exposes it as standard net/http middleware. The
// lower-level pieces live in the auth package; this one only wires them.
package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/authgate/authgate/auth"
	"github.com/authgate/authgate/config"
	"github.com/authgate/authgate/internal/logctx"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	plainMediaType = contenttype.NewMediaType("text/plain")
	errorBodyTypes = []contenttype.MediaType{jsonMediaType, plainMediaType}
)

// Gate is the assembled authentication front for an HTTP API surface.
type Gate struct {
	orch              *auth.Orchestrator
	log               *slog.Logger
	realm             string
	defaultChallenges []string
	closers           []io.Closer
}

type gateOptions struct {
	log            *slog.Logger
	httpClient     *http.Client
	eagerDiscovery bool
}

// Option customizes gate construction.
type Option func(*gateOptions)

// WithLogger sets the logger used by the gate and every verifier.
func WithLogger(log *slog.Logger) Option {
	return func(o *gateOptions) { o.log = log }
}

// WithHTTPClient overrides the client used for OIDC discovery. Tests inject
// one; production leaves the default.
func WithHTTPClient(c *http.Client) Option {
	return func(o *gateOptions) { o.httpClient = c }
}

// WithEagerDiscovery resolves the OIDC key set during New instead of on the
// first authenticated request, so broken issuer configuration aborts
// startup.
func WithEagerDiscovery() Option {
	return func(o *gateOptions) { o.eagerDiscovery = true }
}

// multiLookup consults lookups in order; used when both static keys and a
// key file are configured.
type multiLookup []auth.KeyLookup

func (m multiLookup) Contains(key string) bool {
	for _, l := range m {
		if l.Contains(key) {
			return true
		}
	}
	return false
}

// New builds a Gate from validated configuration. Methods whose
// configuration is incomplete are refused here, with a logged reason, and
// never attempted per request. ctx should live for the process lifetime; it
// scopes background JWKS refresh.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gate, error) {
	o := gateOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	enabled, refused, err := cfg.EnabledMethods()
	if err != nil {
		return nil, err
	}
	for m, reason := range refused {
		o.log.Warn("auth method refused", slog.String("method", string(m)), slog.String("reason", reason))
	}

	g := &Gate{log: o.log, realm: cfg.Realm}

	var verifiers []auth.Verifier
	for _, m := range enabled {
		switch m {
		case auth.MethodAPIKey:
			var lookups multiLookup
			if keys := cfg.APIKeySet(); len(keys) > 0 {
				lookups = append(lookups, auth.NewKeyRegistry(keys...))
			}
			if cfg.APIKeyFile != "" {
				fr, err := auth.NewFileRegistry(cfg.APIKeyFile, o.log)
				if err != nil {
					g.close()
					return nil, err
				}
				g.closers = append(g.closers, fr)
				lookups = append(lookups, fr)
			}
			var lookup auth.KeyLookup = lookups
			if len(lookups) == 1 {
				lookup = lookups[0]
			}
			verifiers = append(verifiers, auth.NewAPIKeyVerifier(lookup,
				auth.WithAPIKeyHeader(cfg.APIKeyHeader),
				auth.WithAPIKeyQueryParam(cfg.APIKeyQueryParam),
				auth.WithAPIKeyLogger(o.log)))

		case auth.MethodBasic:
			store, err := cfg.BasicCredentials()
			if err != nil {
				g.close()
				return nil, err
			}
			verifiers = append(verifiers, auth.NewBasicVerifier(store, cfg.Realm, auth.WithBasicLogger(o.log)))
			g.defaultChallenges = append(g.defaultChallenges, auth.BasicChallenge(cfg.Realm))

		case auth.MethodOIDC:
			ov, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
				Issuer:       cfg.OIDCIssuer,
				ClientID:     cfg.OIDCClientID,
				ClientSecret: cfg.OIDCClientSecret,
				Audience:     cfg.OIDCAudience,
				JWKSURI:      cfg.OIDCJWKSURI,
				HTTPClient:   o.httpClient,
			}, auth.WithOIDCRealm(cfg.Realm), auth.WithOIDCLogger(o.log))
			if err != nil {
				g.close()
				return nil, err
			}
			if o.eagerDiscovery {
				if err := ov.Ready(ctx); err != nil {
					g.close()
					return nil, err
				}
			}
			verifiers = append(verifiers, ov)
			g.defaultChallenges = append(g.defaultChallenges, auth.BearerChallenge(cfg.Realm, "", ""))
		}
	}

	g.orch = auth.NewOrchestrator(o.log, verifiers...)
	return g, nil
}

// Authenticate evaluates the configured verifiers against the request.
func (g *Gate) Authenticate(ctx context.Context, r *http.Request) (*auth.AuthContext, error) {
	return g.orch.Authenticate(ctx, r)
}

// Enabled reports whether any authentication method is active.
func (g *Gate) Enabled() bool { return g.orch.Enabled() }

// Close releases watcher resources held by file-backed credential stores.
func (g *Gate) Close() error { return g.close() }

func (g *Gate) close() error {
	var first error
	for _, c := range g.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Middleware wraps next so that only authenticated requests reach it. On
// success the AuthContext rides the request context; on failure the
// response is a 401 with WWW-Authenticate challenges, or a 503 when the
// identity provider could not be reached.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  uuid.NewString(),
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})

		ac, err := g.orch.Authenticate(ctx, r)
		if err != nil {
			g.renderError(ctx, w, r, err)
			return
		}
		if ac != nil {
			ctx = auth.WithContext(ctx, ac)
			ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Method: string(ac.Method), Principal: ac.Principal})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) renderError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrDiscovery) {
		g.log.ErrorContext(ctx, "auth.gate.discovery_unavailable", slog.String("err", err.Error()))
		writeErrorBody(w, r, http.StatusServiceUnavailable, "identity provider unavailable", nil)
		return
	}

	var attempted []string
	challenges := g.defaultChallenges
	var f *auth.Failure
	if errors.As(err, &f) {
		for _, m := range f.Attempted {
			attempted = append(attempted, string(m))
		}
		if ch := f.Challenges(); len(ch) > 0 {
			challenges = ch
		}
	}
	for _, ch := range challenges {
		w.Header().Add("WWW-Authenticate", ch)
	}
	g.log.InfoContext(ctx, "auth.gate.denied", slog.Any("attempted", attempted))
	writeErrorBody(w, r, http.StatusUnauthorized, "unauthorized", attempted)
}

// writeErrorBody renders the error in the client's preferred representation,
// JSON unless it asked for plain text.
func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, msg string, attempted []string) {
	accepted, _, err := contenttype.GetAcceptableMediaType(r, errorBodyTypes)
	if err == nil && accepted.Matches(plainMediaType) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		if len(attempted) > 0 {
			fmt.Fprintf(w, "%s (attempted methods: %s)\n", msg, strings.Join(attempted, ", "))
		} else {
			fmt.Fprintln(w, msg)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"error": msg}
	if len(attempted) > 0 {
		body["attempted_methods"] = attempted
	}
	_ = json.NewEncoder(w).Encode(body)
}

// NewLogHandler wraps h so that log records emitted during request handling
// carry the request and authentication attributes added by Middleware.
func NewLogHandler(h slog.Handler) slog.Handler {
	return logctx.Handler{Handler: h}
}
