package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// BasicStore maps usernames to SHA-256 hex digests of their passwords.
// Built once at startup, read-only afterwards.
type BasicStore map[string]string

// HashPassword returns the stored form of a password: the lowercase hex
// SHA-256 digest of its UTF-8 bytes.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// dummyDigest is compared against when the username is unknown, so lookup
// misses and digest mismatches take the same time.
var dummyDigest = HashPassword("")

// BasicVerifier validates HTTP Basic credentials against a BasicStore.
// Unknown users and wrong passwords are indistinguishable to the caller.
type BasicVerifier struct {
	store BasicStore
	realm string
	log   *slog.Logger
}

// BasicOption customizes a BasicVerifier.
type BasicOption func(*BasicVerifier)

// WithBasicLogger sets the logger for diagnostic events.
func WithBasicLogger(log *slog.Logger) BasicOption {
	return func(v *BasicVerifier) { v.log = log }
}

// NewBasicVerifier builds a verifier over the given credential store. The
// realm is advertised in WWW-Authenticate challenges on failure.
func NewBasicVerifier(store BasicStore, realm string, opts ...BasicOption) *BasicVerifier {
	v := &BasicVerifier{store: store, realm: realm, log: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *BasicVerifier) Method() Method { return MethodBasic }

const basicPrefix = "Basic "

// Verify decodes the Authorization header's Basic payload and compares the
// password digest in constant time relative to the digest length.
func (v *BasicVerifier) Verify(ctx context.Context, r *http.Request) Result {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, basicPrefix) {
		return Skip()
	}

	raw, err := base64.StdEncoding.DecodeString(header[len(basicPrefix):])
	if err != nil {
		v.log.InfoContext(ctx, "auth.basic.fail", slog.String("err", "undecodable payload"))
		return Reject(fmt.Errorf("%w: undecodable basic payload", ErrMalformedCredentials)).
			WithChallenge(BasicChallenge(v.realm))
	}
	username, password, found := strings.Cut(string(raw), ":")
	if !found {
		v.log.InfoContext(ctx, "auth.basic.fail", slog.String("err", "missing separator"))
		return Reject(fmt.Errorf("%w: missing credential separator", ErrMalformedCredentials)).
			WithChallenge(BasicChallenge(v.realm))
	}

	stored, known := v.store[username]
	if !known {
		stored = dummyDigest
	}
	supplied := HashPassword(password)
	match := subtle.ConstantTimeCompare([]byte(supplied), []byte(strings.ToLower(stored))) == 1
	if !known || !match {
		v.log.InfoContext(ctx, "auth.basic.fail", slog.String("username", username))
		return Reject(fmt.Errorf("%w: bad username or password", ErrInvalidCredentials)).
			WithChallenge(BasicChallenge(v.realm))
	}

	v.log.InfoContext(ctx, "auth.basic.ok", slog.String("principal", username))
	return Accept(&AuthContext{Method: MethodBasic, Principal: username})
}
