package auth

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAuthenticated
	outcomeFailed
)

// Result is the tagged outcome of a single verifier invocation: exactly one
// of Skipped, Authenticated or Failed. The zero value is Skipped.
type Result struct {
	outcome   outcome
	authCtx   *AuthContext
	err       error
	challenge string
}

// Skip reports that no credential of the verifier's kind was presented.
// Absence is not a failure signal.
func Skip() Result {
	return Result{outcome: outcomeSkipped}
}

// Accept reports a validated credential.
func Accept(ac *AuthContext) Result {
	return Result{outcome: outcomeAuthenticated, authCtx: ac}
}

// Reject reports that a credential was presented and failed validation.
func Reject(err error) Result {
	return Result{outcome: outcomeFailed, err: err}
}

// WithChallenge attaches a WWW-Authenticate value to a failed result.
func (r Result) WithChallenge(challenge string) Result {
	r.challenge = challenge
	return r
}

// Skipped reports whether the verifier found no credential to check.
func (r Result) Skipped() bool { return r.outcome == outcomeSkipped }

// Context returns the AuthContext for an authenticated result.
func (r Result) Context() (*AuthContext, bool) {
	return r.authCtx, r.outcome == outcomeAuthenticated
}

// Err returns the failure cause, nil unless the result is failed.
func (r Result) Err() error {
	if r.outcome != outcomeFailed {
		return nil
	}
	return r.err
}

// Challenge returns the WWW-Authenticate value attached to a failed result,
// or "".
func (r Result) Challenge() string { return r.challenge }
