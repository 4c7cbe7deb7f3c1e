package oauth2

import (
	"strings"
	"time"
)

// DefaultScope is requested when a provider has no scope configured.
const DefaultScope = "openid email profile"

// ProviderConfig describes one authorization-code provider by its endpoints.
// All providers share the same protocol, so there is no per-provider type.
type ProviderConfig struct {
	Name                  string
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserinfoEndpoint      string
	Scopes                []string
}

// TokenResult is the outcome of a code exchange or a refresh.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresAt is nil when the provider did not report a lifetime.
	ExpiresAt *time.Time
}

// RawProfile is the untyped userinfo document. Numbers are json.Number.
type RawProfile map[string]any

// ParseScopes splits a configured scope string on whitespace, dropping empty
// tokens and keeping order. A blank string yields the default scopes.
func ParseScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		scope = DefaultScope
	}
	return strings.Fields(scope)
}
