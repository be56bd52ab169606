package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	// DefaultAPIKeyHeader is the header checked for an API key candidate.
	DefaultAPIKeyHeader = "x-api-key"
	// DefaultAPIKeyQueryParam is consulted only when the header is absent.
	DefaultAPIKeyQueryParam = "api_key"
)

// KeyLookup answers membership queries against a set of valid API keys.
// Implementations must be safe for concurrent use.
type KeyLookup interface {
	Contains(key string) bool
}

// KeyRegistry is an immutable in-memory key set, built once at startup.
type KeyRegistry map[string]struct{}

// NewKeyRegistry builds a registry from the given keys. Empty keys are ignored.
func NewKeyRegistry(keys ...string) KeyRegistry {
	r := make(KeyRegistry, len(keys))
	for _, k := range keys {
		if k != "" {
			r[k] = struct{}{}
		}
	}
	return r
}

func (r KeyRegistry) Contains(key string) bool {
	_, ok := r[key]
	return ok
}

// APIKeyVerifier validates static API keys presented via a header or, when
// the header is absent, a query parameter.
type APIKeyVerifier struct {
	keys   KeyLookup
	header string
	query  string
	log    *slog.Logger
}

// APIKeyOption customizes an APIKeyVerifier.
type APIKeyOption func(*APIKeyVerifier)

// WithAPIKeyHeader overrides the header name checked for a key.
func WithAPIKeyHeader(name string) APIKeyOption {
	return func(v *APIKeyVerifier) { v.header = name }
}

// WithAPIKeyQueryParam overrides the query parameter checked when the
// header is absent.
func WithAPIKeyQueryParam(name string) APIKeyOption {
	return func(v *APIKeyVerifier) { v.query = name }
}

// WithAPIKeyLogger sets the logger for diagnostic events.
func WithAPIKeyLogger(log *slog.Logger) APIKeyOption {
	return func(v *APIKeyVerifier) { v.log = log }
}

// NewAPIKeyVerifier builds a verifier over the given key set.
func NewAPIKeyVerifier(keys KeyLookup, opts ...APIKeyOption) *APIKeyVerifier {
	v := &APIKeyVerifier{
		keys:   keys,
		header: DefaultAPIKeyHeader,
		query:  DefaultAPIKeyQueryParam,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *APIKeyVerifier) Method() Method { return MethodAPIKey }

// Verify extracts a candidate key (header beats query) and checks it for
// exact membership. The raw key is never logged.
func (v *APIKeyVerifier) Verify(ctx context.Context, r *http.Request) Result {
	candidate := r.Header.Get(v.header)
	source := "header"
	if candidate == "" {
		candidate = r.URL.Query().Get(v.query)
		source = "query"
	}
	if candidate == "" {
		return Skip()
	}

	principal := maskKey(candidate)
	if !v.keys.Contains(candidate) {
		v.log.InfoContext(ctx, "auth.apikey.fail",
			slog.String("source", source),
			slog.String("candidate", principal))
		return Reject(fmt.Errorf("%w: unrecognized api key", ErrInvalidCredentials))
	}

	v.log.InfoContext(ctx, "auth.apikey.ok",
		slog.String("source", source),
		slog.String("principal", principal))
	return Accept(&AuthContext{Method: MethodAPIKey, Principal: principal})
}

// maskKey derives the exposed principal: a short prefix of the key, never
// the full secret.
func maskKey(key string) string {
	prefix := key
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "api-key-" + prefix + "..."
}
