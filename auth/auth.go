package auth

import (
	"context"
	"net/http"
)

// Method identifies a credential scheme.
type Method string

const (
	MethodAPIKey Method = "api-key"
	MethodBasic  Method = "basic"
	MethodOIDC   Method = "oidc"
)

// AuthContext describes a successfully authenticated request. It is created
// exactly once per request, never mutated, and discarded when the request
// completes.
type AuthContext struct {
	Method    Method
	Principal string
	// Claims carries the full verified claim set for token-based methods.
	// Nil for methods that have no claims.
	Claims map[string]any
}

// Verifier checks one credential scheme against a request. Implementations
// must be stateless with respect to a single request and safe for
// concurrent use. Verify performs no downstream dispatch; it only reports.
type Verifier interface {
	Method() Method
	Verify(ctx context.Context, r *http.Request) Result
}

type authContextKey struct{}

// WithContext attaches the AuthContext to a request-scoped context.
func WithContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext returns the AuthContext attached by WithContext, if any.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok
}
