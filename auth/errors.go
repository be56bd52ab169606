package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying authentication outcomes. Verifiers wrap these
// with fmt.Errorf("%w: ...") so callers classify with errors.Is.
var (
	// ErrMissingCredentials: no configured verifier found a credential to check.
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrMalformedCredentials: a credential was presented but could not be
	// decoded (bad base64, missing separator).
	ErrMalformedCredentials = errors.New("auth: malformed credentials")

	// ErrInvalidCredentials covers unknown users, wrong passwords and
	// unregistered API keys. The three are deliberately indistinguishable to
	// callers.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidOrExpiredToken collapses every bearer-token verification
	// failure (signature, issuer, audience, expiry) into one visible kind.
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired token")

	// ErrDiscovery: the identity provider's metadata or key set could not be
	// resolved. Infrastructure-class; render as 5xx, never 401.
	ErrDiscovery = errors.New("auth: identity provider discovery failed")

	// ErrAllMethodsExhausted: every configured verifier either skipped or
	// failed. The terminal aggregate; see Failure.
	ErrAllMethodsExhausted = errors.New("auth: all authentication methods exhausted")
)

// Failure aggregates the per-method outcomes of an exhausted authentication
// attempt. Causes exist for diagnostics only; user-facing rendering must
// stick to Error(), which names the attempted methods but not why each one
// failed.
type Failure struct {
	// Attempted lists methods that found a credential and rejected it, in
	// evaluation order. Skipped methods never appear.
	Attempted []Method

	// Causes maps each attempted method to its local error.
	Causes map[Method]error

	challenges []string
}

func (f *Failure) Error() string {
	if len(f.Attempted) == 0 {
		return "authentication failed: no credentials provided"
	}
	names := make([]string, len(f.Attempted))
	for i, m := range f.Attempted {
		names[i] = string(m)
	}
	return fmt.Sprintf("authentication failed: attempted methods [%s]", strings.Join(names, ", "))
}

func (f *Failure) Unwrap() error {
	if len(f.Attempted) == 0 {
		return ErrMissingCredentials
	}
	return ErrAllMethodsExhausted
}

// Challenges returns the WWW-Authenticate values collected from the failed
// verifiers, in evaluation order.
func (f *Failure) Challenges() []string {
	return append([]string(nil), f.challenges...)
}
