package federation

import (
	"context"

	"oauthfed/pkg/oauth2"
)

// AccountStore persists users and their linked identities.
// Finders return ErrNotFound when nothing matches.
type AccountStore interface {
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindLinkedIdentity(ctx context.Context, provider, remoteUserID string) (*LinkedIdentity, error)
	FindUserIdentity(ctx context.Context, userID int64, provider string) (*LinkedIdentity, error)
	ListLinkedIdentities(ctx context.Context, userID int64) ([]*LinkedIdentity, error)
	// SaveUser writes the user and every attached identity in one transaction.
	SaveUser(ctx context.Context, user *User) error
	SaveIdentity(ctx context.Context, identity *LinkedIdentity) error
}

// SettingsReader is the read side of the provider configuration store.
type SettingsReader interface {
	FindSetting(ctx context.Context, provider string) (*ProviderSetting, error)
	ListEnabledSettings(ctx context.Context) ([]*ProviderSetting, error)
}

// Session is the per-visitor state the flow reads and writes.
type Session interface {
	Set(ctx context.Context, key, value string) error
	// Take returns the value and removes it atomically. A missing key yields "".
	Take(ctx context.Context, key string) (string, error)
	// Rotate moves the session to a new id so a pre-login id never becomes
	// an authenticated one.
	Rotate(ctx context.Context) error
	SetCurrentUser(ctx context.Context, userID int64) error
	MarkLoginComplete(ctx context.Context) error
}

type ProviderClient interface {
	AuthCodeURL(cfg oauth2.ProviderConfig, redirectURI, state string) (string, error)
	ExchangeCode(ctx context.Context, cfg oauth2.ProviderConfig, code, redirectURI string) (*oauth2.TokenResult, error)
	RefreshToken(ctx context.Context, cfg oauth2.ProviderConfig, refreshToken string) (*oauth2.TokenResult, error)
	FetchProfile(ctx context.Context, cfg oauth2.ProviderConfig, accessToken string) (oauth2.RawProfile, error)
}

var _ ProviderClient = (*oauth2.Client)(nil)
