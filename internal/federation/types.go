package federation

import (
	"time"

	"oauthfed/pkg/oauth2"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Identities holds the linked identities loaded or created alongside the user.
	Identities []*LinkedIdentity `json:"identities"`
}

// Identity returns the attached identity for provider, or nil.
func (u *User) Identity(provider string) *LinkedIdentity {
	for _, li := range u.Identities {
		if li.Provider == provider {
			return li
		}
	}
	return nil
}

// LinkedIdentity binds one provider account to a local user.
// RemoteUserID never changes after creation.
type LinkedIdentity struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Provider        string     `json:"provider"`
	RemoteUserID    string     `json:"remote_user_id"`
	RemoteEmail     string     `json:"remote_email,omitempty"`
	RemoteName      string     `json:"remote_name,omitempty"`
	RemoteAvatarURL string     `json:"remote_avatar_url,omitempty"`
	AccessToken     string     `json:"-"`
	RefreshToken    string     `json:"-"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsTokenExpired reports whether the access token is past its expiry.
// A token without a known expiry never expires.
func (li *LinkedIdentity) IsTokenExpired(now time.Time) bool {
	if li.TokenExpiresAt == nil {
		return false
	}
	return now.After(*li.TokenExpiresAt)
}

func (li *LinkedIdentity) applyToken(token *oauth2.TokenResult) {
	li.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		li.RefreshToken = token.RefreshToken
	}
	li.TokenExpiresAt = token.ExpiresAt
}

// ProviderSetting is the administrator-managed configuration of one provider.
type ProviderSetting struct {
	Provider              string    `json:"provider"`
	Enabled               bool      `json:"enabled"`
	ClientID              string    `json:"client_id"`
	ClientSecret          string    `json:"-"`
	AuthorizationEndpoint string    `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string    `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string    `json:"userinfo_endpoint,omitempty"`
	Scope                 string    `json:"scope,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (s *ProviderSetting) ClientConfig() oauth2.ProviderConfig {
	return oauth2.ProviderConfig{
		Name:                  s.Provider,
		ClientID:              s.ClientID,
		ClientSecret:          s.ClientSecret,
		AuthorizationEndpoint: s.AuthorizationEndpoint,
		TokenEndpoint:         s.TokenEndpoint,
		UserinfoEndpoint:      s.UserinfoEndpoint,
		Scopes:                oauth2.ParseScopes(s.Scope),
	}
}

type CallbackRequest struct {
	Provider string
	Origin   string
	State    string
	Code     string
	Error    string
}

type ProvidersResponse struct {
	OAuthEnabled bool     `json:"oauth_enabled"`
	Providers    []string `json:"providers"`
}
