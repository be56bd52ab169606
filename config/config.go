// Package config loads and validates gateway configuration from the
// environment. The authentication packages consume the already-validated
// result; they never re-read the environment themselves.
package config

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/joeshaw/envdecode"

	"github.com/authgate/authgate/auth"
)

// Config is the environment-driven gateway configuration. Defaults are
// provided via struct tags; FromEnv applies them.
type Config struct {
	// Methods is the ordered, comma-separated list of authentication methods
	// to enable: any of "api-key", "basic", "oidc". Order is the try-order.
	// Empty disables authentication entirely.
	Methods string `env:"AUTH_METHODS" json:"methods,omitempty" jsonschema:"description=Ordered comma-separated list of enabled methods (api-key, basic, oidc)"`

	// Realm is advertised in WWW-Authenticate challenges.
	Realm string `env:"AUTH_REALM,default=authgate" json:"realm,omitempty"`

	APIKeys          string `env:"AUTH_API_KEYS" json:"api_keys,omitempty" jsonschema:"description=Comma-separated static API keys"`
	APIKeyFile       string `env:"AUTH_API_KEY_FILE" json:"api_key_file,omitempty" jsonschema:"description=Path to a file with one API key per line; reloaded on change"`
	APIKeyHeader     string `env:"AUTH_API_KEY_HEADER,default=x-api-key" json:"api_key_header,omitempty"`
	APIKeyQueryParam string `env:"AUTH_API_KEY_QUERY,default=api_key" json:"api_key_query,omitempty"`

	// BasicUsers holds comma-separated user:sha256hex pairs.
	BasicUsers string `env:"AUTH_BASIC_USERS" json:"basic_users,omitempty" jsonschema:"description=Comma-separated username:sha256-hex pairs"`

	OIDCIssuer       string `env:"OIDC_ISSUER" json:"oidc_issuer,omitempty"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID" json:"oidc_client_id,omitempty"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET" json:"oidc_client_secret,omitempty"`
	OIDCAudience     string `env:"OIDC_AUDIENCE" json:"oidc_audience,omitempty"`
	OIDCJWKSURI      string `env:"OIDC_JWKS_URI" json:"oidc_jwks_uri,omitempty" jsonschema:"description=Explicit JWKS endpoint; discovered from the issuer when unset"`
}

// FromEnv populates a Config from the environment, applying tag defaults.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// MethodNames parses the ordered method list. Unknown names are an error.
func (c *Config) MethodNames() ([]auth.Method, error) {
	if strings.TrimSpace(c.Methods) == "" {
		return nil, nil
	}
	var out []auth.Method
	for _, raw := range strings.Split(c.Methods, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		switch m := auth.Method(name); m {
		case auth.MethodAPIKey, auth.MethodBasic, auth.MethodOIDC:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("config: unknown auth method %q", name)
		}
	}
	return out, nil
}

// EnabledMethods returns the methods whose configuration is complete, in
// configured order, plus the reason each incomplete method was refused.
// An incomplete method is excluded here, at startup, never attempted and
// failed per request.
func (c *Config) EnabledMethods() ([]auth.Method, map[auth.Method]string, error) {
	requested, err := c.MethodNames()
	if err != nil {
		return nil, nil, err
	}
	var enabled []auth.Method
	refused := make(map[auth.Method]string)
	for _, m := range requested {
		if reason := c.incomplete(m); reason != "" {
			refused[m] = reason
			continue
		}
		enabled = append(enabled, m)
	}
	return enabled, refused, nil
}

func (c *Config) incomplete(m auth.Method) string {
	switch m {
	case auth.MethodAPIKey:
		if c.APIKeys == "" && c.APIKeyFile == "" {
			return "no API keys configured (AUTH_API_KEYS or AUTH_API_KEY_FILE)"
		}
	case auth.MethodBasic:
		if c.BasicUsers == "" {
			return "no basic credentials configured (AUTH_BASIC_USERS)"
		}
	case auth.MethodOIDC:
		if c.OIDCIssuer == "" {
			return "no issuer configured (OIDC_ISSUER)"
		}
		if c.OIDCClientID == "" {
			return "no client id configured (OIDC_CLIENT_ID)"
		}
	}
	return ""
}

// APIKeySet parses the comma-separated static key list.
func (c *Config) APIKeySet() []string {
	if c.APIKeys == "" {
		return nil
	}
	var keys []string
	for _, raw := range strings.Split(c.APIKeys, ",") {
		if k := strings.TrimSpace(raw); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// BasicCredentials parses the user:sha256hex pair list into a store.
func (c *Config) BasicCredentials() (auth.BasicStore, error) {
	if c.BasicUsers == "" {
		return nil, nil
	}
	store := make(auth.BasicStore)
	for _, raw := range strings.Split(c.BasicUsers, ",") {
		pair := strings.TrimSpace(raw)
		if pair == "" {
			continue
		}
		user, digest, found := strings.Cut(pair, ":")
		if !found || user == "" || len(digest) != 64 {
			return nil, fmt.Errorf("config: malformed basic credential entry %q (want user:sha256hex)", pair)
		}
		store[user] = strings.ToLower(digest)
	}
	return store, nil
}

// Schema derives a JSON schema document describing the configuration
// surface, for operator tooling.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&Config{})
}
