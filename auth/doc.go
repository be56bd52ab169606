// Package auth implements multi-method request authentication for an HTTP
// API surface. Three credential schemes are supported: static API keys,
// HTTP Basic credentials, and OIDC/OAuth2 bearer tokens verified against a
// remote key set.
//
// Each scheme is a Verifier: a pure function from a request to a tagged
// Result that is either Skipped (no credential of that kind was presented),
// Authenticated (carrying an immutable AuthContext), or Failed (carrying a
// typed error and optionally a WWW-Authenticate challenge). Verifiers never
// transfer control; the Orchestrator alone decides what happens next.
//
// The Orchestrator applies the configured verifiers in a fixed order and is
// first-match-wins: the first verifier that both extracts and validates a
// credential settles the request, regardless of what other credentials the
// request carries. A verifier that finds no credential of its kind is
// skipped without recording an error. When every verifier either skipped or
// failed, the orchestrator produces a single aggregate Failure naming the
// attempted methods but never the per-method reasons.
//
// Example:
//
//	orch := auth.NewOrchestrator(log,
//	    auth.NewAPIKeyVerifier(auth.NewKeyRegistry("k1", "k2")),
//	    auth.NewBasicVerifier(users, "my-api"),
//	)
//	ac, err := orch.Authenticate(r.Context(), r)
//	if err != nil { /* render 401 (or 503 for ErrDiscovery) */ }
//	if ac != nil { ctx = auth.WithContext(r.Context(), ac) }
//
// # Errors
//
// ErrInvalidCredentials covers both unknown users and wrong passwords so
// that callers cannot enumerate accounts. ErrInvalidOrExpiredToken collapses
// every bearer-token check into one externally visible kind. ErrDiscovery is
// an infrastructure failure (unreachable or malformed identity provider
// metadata) and should surface as a 5xx, not a 401.
package auth
