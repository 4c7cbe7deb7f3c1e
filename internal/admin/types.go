package admin

import (
	"fmt"
	"net/http"
	"time"

	"oauthfed/internal/federation"
)

type ErrorCode string

const (
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeValidation      ErrorCode = "VALIDATION_FAILED"
	ErrorCodeDiscovery       ErrorCode = "DISCOVERY_FAILED"
	ErrorCodeInternalFailure ErrorCode = "INTERNAL_FAILURE"
)

type AppError struct {
	Status  int
	Code    ErrorCode
	Message string
	Fields  map[string]string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errNotFound(provider string) *AppError {
	return &AppError{
		Status:  http.StatusNotFound,
		Code:    ErrorCodeNotFound,
		Message: fmt.Sprintf("OAuth provider setting %q not found", provider),
	}
}

// SettingRequest creates or updates a provider. Omitted fields keep their stored value.
type SettingRequest struct {
	Provider              string  `json:"provider" example:"google"`
	Enabled               *bool   `json:"enabled,omitempty" example:"true"`
	ClientID              *string `json:"client_id,omitempty" example:"client_id_xyz"`
	ClientSecret          *string `json:"client_secret,omitempty" example:"client_secret_xyz"`
	AuthorizationEndpoint *string `json:"authorization_endpoint,omitempty" example:"https://accounts.google.com/o/oauth2/auth"`
	TokenEndpoint         *string `json:"token_endpoint,omitempty" example:"https://oauth2.googleapis.com/token"`
	UserinfoEndpoint      *string `json:"userinfo_endpoint,omitempty" example:"https://www.googleapis.com/oauth2/v2/userinfo"`
	Scope                 *string `json:"scope,omitempty" example:"openid email profile"`
	// Issuer, when set, fills missing endpoints from OpenID discovery.
	Issuer string `json:"issuer,omitempty" example:"https://accounts.google.com"`
}

// SettingResponse never carries the client secret itself.
type SettingResponse struct {
	Provider              string    `json:"provider"`
	Enabled               bool      `json:"enabled"`
	ClientID              string    `json:"client_id"`
	ClientSecretSet       bool      `json:"client_secret_set"`
	AuthorizationEndpoint string    `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string    `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string    `json:"userinfo_endpoint,omitempty"`
	Scope                 string    `json:"scope,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newSettingResponse(s *federation.ProviderSetting) SettingResponse {
	return SettingResponse{
		Provider:              s.Provider,
		Enabled:               s.Enabled,
		ClientID:              s.ClientID,
		ClientSecretSet:       s.ClientSecret != "",
		AuthorizationEndpoint: s.AuthorizationEndpoint,
		TokenEndpoint:         s.TokenEndpoint,
		UserinfoEndpoint:      s.UserinfoEndpoint,
		Scope:                 s.Scope,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

type Status struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}
