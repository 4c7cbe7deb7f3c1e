package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds each outbound provider call.
const DefaultTimeout = 10 * time.Second

const maxBodySize = 1 << 20

// Client performs the authorization-code operations against any provider
// described by a ProviderConfig.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		timeout:    timeout,
	}
}

func (c *Client) config(cfg ProviderConfig, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationEndpoint,
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// withTimeout scopes ctx to one provider call and routes x/oauth2 through our http.Client.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cancel
}

// AuthCodeURL builds the provider authorization URL. It makes no network call.
func (c *Client) AuthCodeURL(cfg ProviderConfig, redirectURI, state string) (string, error) {
	if err := validateEndpoint(cfg.AuthorizationEndpoint); err != nil {
		return "", fmt.Errorf("authorization endpoint for %q: %w", cfg.Name, err)
	}
	return c.config(cfg, redirectURI).AuthCodeURL(state), nil
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, cfg ProviderConfig, code, redirectURI string) (*TokenResult, error) {
	if err := validateEndpoint(cfg.TokenEndpoint); err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpExchange, Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tok, err := c.config(cfg, redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, retrieveError(cfg.Name, OpExchange, err)
	}
	return newTokenResult(tok), nil
}

// RefreshToken obtains a new access token with grant_type=refresh_token.
func (c *Client) RefreshToken(ctx context.Context, cfg ProviderConfig, refreshToken string) (*TokenResult, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	if err := validateEndpoint(cfg.TokenEndpoint); err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpRefresh, Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// A token without an access token is never valid, so the source refreshes immediately.
	tok, err := c.config(cfg, "").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, retrieveError(cfg.Name, OpRefresh, err)
	}
	return newTokenResult(tok), nil
}

// FetchProfile loads the userinfo document with the access token as bearer.
func (c *Client) FetchProfile(ctx context.Context, cfg ProviderConfig, accessToken string) (RawProfile, error) {
	if err := validateEndpoint(cfg.UserinfoEndpoint); err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpUserinfo, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserinfoEndpoint, nil)
	if err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpUserinfo, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpUserinfo, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpUserinfo, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &IdentityProviderError{
			Provider:   cfg.Name,
			Op:         OpUserinfo,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &payload) == nil {
			pe.Code = payload.Error
			pe.Description = payload.ErrorDescription
		}
		return nil, pe
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var profile RawProfile
	if err := dec.Decode(&profile); err != nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpUserinfo, Body: string(body), Err: fmt.Errorf("decode profile: %w", err)}
	}
	if profile == nil {
		return nil, &IdentityProviderError{Provider: cfg.Name, Op: OpUserinfo, Body: string(body), Err: errors.New("empty profile")}
	}
	return profile, nil
}

func newTokenResult(tok *oauth2.Token) *TokenResult {
	result := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		result.ExpiresAt = &expiry
	}
	return result
}

func retrieveError(provider, op string, err error) error {
	pe := &IdentityProviderError{Provider: provider, Op: op, Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		pe.Code = re.ErrorCode
		pe.Description = re.ErrorDescription
		pe.Body = string(re.Body)
	}
	return pe
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidEndpoint, raw)
	}
	return nil
}
