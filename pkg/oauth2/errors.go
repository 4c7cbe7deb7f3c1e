package oauth2

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidEndpoint = errors.New("oauth2: invalid endpoint")
	ErrNoRefreshToken  = errors.New("oauth2: no refresh token available")
)

const (
	OpExchange = "exchange"
	OpRefresh  = "refresh"
	OpUserinfo = "userinfo"
)

// IdentityProviderError reports a failed call to a provider's token or
// userinfo endpoint. Body holds the raw provider payload for logging only.
type IdentityProviderError struct {
	Provider    string
	Op          string
	StatusCode  int
	Code        string
	Description string
	Body        string
	Err         error
}

func (e *IdentityProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "oauth2: %s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " error=%s", e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, " (%s)", e.Description)
	}
	if e.Err != nil && e.StatusCode == 0 {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IdentityProviderError) Unwrap() error {
	return e.Err
}
