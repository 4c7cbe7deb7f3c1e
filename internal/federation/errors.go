package federation

import (
	"errors"

	"oauthfed/pkg/oauth2"
)

var (
	// ErrNotFound is returned by stores when a lookup matches nothing.
	ErrNotFound = errors.New("not found")

	ErrProviderUnavailable = errors.New("oauth provider is not available")
	ErrAuthorizationURL    = errors.New("failed to build authorization url")
	ErrInvalidState        = errors.New("invalid oauth state")
	ErrProviderDenied      = errors.New("provider denied the authorization request")
	ErrMissingCode         = errors.New("missing authorization code")
	ErrMalformedProfile    = errors.New("malformed provider profile")
	ErrNoEmailAvailable    = errors.New("provider profile has no usable email")
)

// IdentityProviderError is returned when a token or userinfo call fails.
type IdentityProviderError = oauth2.IdentityProviderError
