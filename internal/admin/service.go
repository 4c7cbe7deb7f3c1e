package admin

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"oauthfed/internal/federation"
	"oauthfed/pkg/logger"
)

var providerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,49}$`)

type SettingsStore interface {
	FindSetting(ctx context.Context, provider string) (*federation.ProviderSetting, error)
	ListSettings(ctx context.Context) ([]*federation.ProviderSetting, error)
	SaveSetting(ctx context.Context, setting *federation.ProviderSetting) error
	DeleteSetting(ctx context.Context, provider string) error
}

type Service struct {
	store      SettingsStore
	discoverer Discoverer
	logger     logger.Client
	now        func() time.Time
}

func NewService(store SettingsStore, discoverer Discoverer, logger logger.Client) *Service {
	return &Service{
		store:      store,
		discoverer: discoverer,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) List(ctx context.Context) ([]SettingResponse, error) {
	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SettingResponse, 0, len(settings))
	for _, setting := range settings {
		out = append(out, newSettingResponse(setting))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, provider string) (*SettingResponse, error) {
	setting, err := s.store.FindSetting(ctx, provider)
	if errors.Is(err, federation.ErrNotFound) {
		return nil, errNotFound(provider)
	}
	if err != nil {
		return nil, err
	}
	resp := newSettingResponse(setting)
	return &resp, nil
}

// Upsert creates the provider setting or merges the request into the stored one.
func (s *Service) Upsert(ctx context.Context, req SettingRequest) (*SettingResponse, error) {
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return nil, &AppError{Status: http.StatusBadRequest, Code: ErrorCodeBadRequest, Message: "Provider is required."}
	}

	now := s.now().UTC()
	setting, err := s.store.FindSetting(ctx, provider)
	switch {
	case errors.Is(err, federation.ErrNotFound):
		setting = &federation.ProviderSetting{Provider: provider, CreatedAt: now}
	case err != nil:
		return nil, err
	}

	applyRequest(setting, req)

	if req.Issuer != "" {
		if err := s.fillFromDiscovery(ctx, setting, req.Issuer); err != nil {
			return nil, err
		}
	}

	if fields := validate(setting); len(fields) > 0 {
		return nil, &AppError{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrorCodeValidation,
			Message: "Validation failed",
			Fields:  fields,
		}
	}

	setting.UpdatedAt = now
	if err := s.store.SaveSetting(ctx, setting); err != nil {
		return nil, err
	}

	s.logger.Info("oauth provider setting saved",
		logger.Field{Key: "provider", Value: setting.Provider},
		logger.Field{Key: "enabled", Value: setting.Enabled},
	)
	resp := newSettingResponse(setting)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, provider string) error {
	err := s.store.DeleteSetting(ctx, provider)
	if errors.Is(err, federation.ErrNotFound) {
		return errNotFound(provider)
	}
	if err != nil {
		return err
	}
	s.logger.Info("oauth provider setting deleted", logger.Field{Key: "provider", Value: provider})
	return nil
}

func (s *Service) fillFromDiscovery(ctx context.Context, setting *federation.ProviderSetting, issuer string) error {
	if s.discoverer == nil {
		return &AppError{Status: http.StatusUnprocessableEntity, Code: ErrorCodeDiscovery, Message: "OpenID discovery is not configured"}
	}

	ep, err := s.discoverer.Discover(ctx, issuer)
	if err != nil {
		s.logger.Warn("oidc discovery failed",
			logger.Field{Key: "issuer", Value: issuer}, logger.Err(err))
		return &AppError{Status: http.StatusUnprocessableEntity, Code: ErrorCodeDiscovery, Message: "OpenID discovery failed for issuer"}
	}

	if setting.AuthorizationEndpoint == "" {
		setting.AuthorizationEndpoint = ep.Authorization
	}
	if setting.TokenEndpoint == "" {
		setting.TokenEndpoint = ep.Token
	}
	if setting.UserinfoEndpoint == "" {
		setting.UserinfoEndpoint = ep.Userinfo
	}
	return nil
}

func applyRequest(setting *federation.ProviderSetting, req SettingRequest) {
	if req.Enabled != nil {
		setting.Enabled = *req.Enabled
	}
	setString(&setting.ClientID, req.ClientID)
	setString(&setting.ClientSecret, req.ClientSecret)
	setString(&setting.AuthorizationEndpoint, req.AuthorizationEndpoint)
	setString(&setting.TokenEndpoint, req.TokenEndpoint)
	setString(&setting.UserinfoEndpoint, req.UserinfoEndpoint)
	setString(&setting.Scope, req.Scope)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// validate mirrors what the flow needs: an enabled provider must be fully usable.
func validate(s *federation.ProviderSetting) map[string]string {
	fields := make(map[string]string)

	if !providerNamePattern.MatchString(s.Provider) {
		fields["provider"] = "must be 1-50 lowercase letters, digits, '-' or '_'"
	}

	endpoints := map[string]string{
		"authorization_endpoint": s.AuthorizationEndpoint,
		"token_endpoint":         s.TokenEndpoint,
		"userinfo_endpoint":      s.UserinfoEndpoint,
	}
	for name, v := range endpoints {
		if v == "" {
			if s.Enabled {
				fields[name] = "is required when the provider is enabled"
			}
			continue
		}
		if !isAbsoluteURL(v) {
			fields[name] = "must be an absolute http(s) URL"
		}
	}

	if s.Enabled {
		if s.ClientID == "" {
			fields["client_id"] = "is required when the provider is enabled"
		}
		if s.ClientSecret == "" {
			fields["client_secret"] = "is required when the provider is enabled"
		}
	}
	return fields
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
