package federation

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"oauthfed/pkg/logger"
	"oauthfed/pkg/oauth2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "oauthfed/internal/federation"
	stateKeyPrefix      = "oauth_state_"
	callbackPathPrefix  = "/oauth/callback/"
)

// StateKey is the session key holding the pending state token for provider.
func StateKey(provider string) string {
	return stateKeyPrefix + provider
}

// RedirectURI is the callback URL registered with the provider.
func RedirectURI(origin, provider string) string {
	return strings.TrimRight(origin, "/") + callbackPathPrefix + provider
}

// Service drives the two-step authorization-code flow and token refresh.
type Service struct {
	resolver *Resolver
	client   ProviderClient
	linker   *Linker
	store    AccountStore
	logger   logger.Client

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	now      func() time.Time
	newState func() (string, error)
}

func NewService(resolver *Resolver, client ProviderClient, linker *Linker, store AccountStore, log logger.Client) *Service {
	outcomes, err := otel.Meter(instrumentationName).Int64Counter(
		"oauth.login.outcomes",
		metric.WithDescription("OAuth callback outcomes by provider"),
	)
	if err != nil {
		log.Warn("failed to create login outcome counter", logger.Err(err))
		outcomes = noop.Int64Counter{}
	}

	return &Service{
		resolver: resolver,
		client:   client,
		linker:   linker,
		store:    store,
		logger:   log,
		tracer:   otel.Tracer(instrumentationName),
		outcomes: outcomes,
		now:      time.Now,
		newState: oauth2.NewState,
	}
}

// AvailableProviders lists enabled providers for the login page.
func (s *Service) AvailableProviders(ctx context.Context) (*ProvidersResponse, error) {
	names, err := s.resolver.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &ProvidersResponse{
		OAuthEnabled: len(names) > 0,
		Providers:    names,
	}, nil
}

// Initiate stores a fresh state token in the session and returns the
// provider authorization URL to redirect the visitor to.
func (s *Service) Initiate(ctx context.Context, sess Session, provider, origin string) (string, error) {
	setting, err := s.resolver.Resolve(ctx, provider)
	if err != nil {
		return "", err
	}

	state, err := s.newState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	if err := sess.Set(ctx, StateKey(provider), state); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}

	authURL, err := s.client.AuthCodeURL(setting.ClientConfig(), RedirectURI(origin, provider), state)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthorizationURL, err)
	}
	return authURL, nil
}

// Complete validates the callback, exchanges the code, links the identity,
// persists the result and logs the visitor in.
func (s *Service) Complete(ctx context.Context, sess Session, req CallbackRequest) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "federation.Complete",
		trace.WithAttributes(attribute.String("oauth.provider", req.Provider)))
	defer func() {
		s.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", req.Provider),
			attribute.String("outcome", outcome(err)),
		))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		}
		span.End()
	}()

	setting, err := s.resolver.Resolve(ctx, req.Provider)
	if err != nil {
		return nil, err
	}

	// The stored state is cleared on every callback, whatever the outcome.
	expected, err := sess.Take(ctx, StateKey(req.Provider))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(req.State)) != 1 {
		return nil, ErrInvalidState
	}
	if req.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, req.Error)
	}
	if req.Code == "" {
		return nil, ErrMissingCode
	}

	cfg := setting.ClientConfig()

	token, err := s.exchangeCode(ctx, cfg, req.Code, RedirectURI(req.Origin, req.Provider))
	if err != nil {
		return nil, err
	}

	raw, err := s.fetchProfile(ctx, cfg, token.AccessToken)
	if err != nil {
		return nil, err
	}

	profile, err := NormalizeProfile(raw)
	if err != nil {
		return nil, err
	}

	user, err = s.link(ctx, req.Provider, profile, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoEmailAvailable
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	if err := sess.Rotate(ctx); err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	if err := sess.SetCurrentUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to set session user: %w", err)
	}
	if err := sess.MarkLoginComplete(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark login complete: %w", err)
	}

	s.logger.Info("oauth login completed",
		logger.Field{Key: "provider", Value: req.Provider},
		logger.Field{Key: "user_id", Value: user.ID},
	)
	return user, nil
}

func (s *Service) exchangeCode(ctx context.Context, cfg oauth2.ProviderConfig, code, redirectURI string) (*oauth2.TokenResult, error) {
	ctx, span := s.tracer.Start(ctx, "oauth2.ExchangeCode")
	defer span.End()

	token, err := s.client.ExchangeCode(ctx, cfg, code, redirectURI)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		return nil, err
	}
	return token, nil
}

func (s *Service) fetchProfile(ctx context.Context, cfg oauth2.ProviderConfig, accessToken string) (oauth2.RawProfile, error) {
	ctx, span := s.tracer.Start(ctx, "oauth2.FetchProfile")
	defer span.End()

	raw, err := s.client.FetchProfile(ctx, cfg, accessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "userinfo failed")
		return nil, err
	}
	return raw, nil
}

func (s *Service) link(ctx context.Context, provider string, profile *Profile, token *oauth2.TokenResult) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "federation.LinkOrCreate")
	defer span.End()

	user, err := s.linker.LinkOrCreate(ctx, provider, profile, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "link failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("federation.user_resolved", user != nil))
	return user, nil
}

// RefreshIdentityToken renews the stored access token of the user's identity
// at provider when it has expired and a refresh token is on file. Otherwise
// the identity is returned unchanged.
func (s *Service) RefreshIdentityToken(ctx context.Context, userID int64, provider string) (*LinkedIdentity, error) {
	identity, err := s.store.FindUserIdentity(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if !identity.IsTokenExpired(now) || identity.RefreshToken == "" {
		return identity, nil
	}

	setting, err := s.resolver.Resolve(ctx, provider)
	if errors.Is(err, ErrProviderUnavailable) {
		return identity, nil
	}
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "oauth2.RefreshToken",
		trace.WithAttributes(attribute.String("oauth.provider", provider)))
	defer span.End()

	token, err := s.client.RefreshToken(ctx, setting.ClientConfig(), identity.RefreshToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return nil, err
	}

	identity.applyToken(token)
	identity.UpdatedAt = now
	if err := s.store.SaveIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to save refreshed identity: %w", err)
	}
	return identity, nil
}

// CurrentAccount loads the user with every linked identity.
func (s *Service) CurrentAccount(ctx context.Context, userID int64) (*User, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	identities, err := s.store.ListLinkedIdentities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	user.Identities = identities
	return user, nil
}

func outcome(err error) string {
	var pe *IdentityProviderError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrProviderDenied):
		return "denied"
	case errors.Is(err, ErrMissingCode):
		return "missing_code"
	case errors.As(err, &pe):
		return "provider_error"
	case errors.Is(err, ErrMalformedProfile):
		return "malformed_profile"
	case errors.Is(err, ErrNoEmailAvailable):
		return "no_email"
	default:
		return "error"
	}
}
