package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) ProviderConfig {
	return ProviderConfig{
		Name:                  "google",
		ClientID:              "client-1",
		ClientSecret:          "secret-1",
		AuthorizationEndpoint: baseURL + "/authorize",
		TokenEndpoint:         baseURL + "/token",
		UserinfoEndpoint:      baseURL + "/userinfo",
		Scopes:                []string{"openid", "email", "profile"},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestClient_AuthCodeURL(t *testing.T) {
	client := NewClient(nil, 0)
	cfg := testConfig("https://idp.example.com")

	raw, err := client.AuthCodeURL(cfg, "https://app.example.com/oauth/callback/google", "abc123")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/oauth/callback/google", q.Get("redirect_uri"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "abc123", q.Get("state"))

	again, err := client.AuthCodeURL(cfg, "https://app.example.com/oauth/callback/google", "abc123")
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestClient_AuthCodeURL_KeepsExistingQuery(t *testing.T) {
	cfg := testConfig("https://idp.example.com")
	cfg.AuthorizationEndpoint = "https://idp.example.com/authorize?prompt=consent"

	raw, err := NewClient(nil, 0).AuthCodeURL(cfg, "https://app/cb", "s")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "consent", u.Query().Get("prompt"))
	assert.Equal(t, "s", u.Query().Get("state"))
}

func TestClient_AuthCodeURL_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "not a url", "/relative/path", "ftp://idp/authorize"} {
		cfg := testConfig("https://idp.example.com")
		cfg.AuthorizationEndpoint = endpoint

		_, err := NewClient(nil, 0).AuthCodeURL(cfg, "https://app/cb", "s")
		assert.ErrorIs(t, err, ErrInvalidEndpoint, endpoint)
	}
}

func TestClient_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "validcode", r.PostForm.Get("code"))
		assert.Equal(t, "https://app/oauth/callback/google", r.PostForm.Get("redirect_uri"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "tok1",
			"refresh_token": "ref1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	before := time.Now()
	tok, err := NewClient(srv.Client(), time.Second).
		ExchangeCode(context.Background(), testConfig(srv.URL), "validcode", "https://app/oauth/callback/google")
	require.NoError(t, err)

	assert.Equal(t, "tok1", tok.AccessToken)
	assert.Equal(t, "ref1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, tok.ExpiresAt.After(before.Add(59*time.Minute)))
}

func TestClient_ExchangeCode_NoExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok1", "token_type": "bearer"})
	}))
	defer srv.Close()

	tok, err := NewClient(srv.Client(), time.Second).
		ExchangeCode(context.Background(), testConfig(srv.URL), "validcode", "https://app/cb")
	require.NoError(t, err)
	assert.Nil(t, tok.ExpiresAt)
	assert.Empty(t, tok.RefreshToken)
}

func TestClient_ExchangeCode_ProviderRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "code expired",
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), time.Second).
		ExchangeCode(context.Background(), testConfig(srv.URL), "stale", "https://app/cb")
	require.Error(t, err)

	var pe *IdentityProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, OpExchange, pe.Op)
	assert.Equal(t, "google", pe.Provider)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "invalid_grant", pe.Code)
	assert.Equal(t, "code expired", pe.Description)
	assert.Contains(t, pe.Body, "invalid_grant")
}

func TestClient_ExchangeCode_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token_type": "bearer"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), time.Second).
		ExchangeCode(context.Background(), testConfig(srv.URL), "validcode", "https://app/cb")

	var pe *IdentityProviderError
	assert.True(t, errors.As(err, &pe))
}

func TestClient_RefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "ref1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "tok2",
			"refresh_token": "ref2",
			"token_type":    "Bearer",
			"expires_in":    60,
		})
	}))
	defer srv.Close()

	tok, err := NewClient(srv.Client(), time.Second).
		RefreshToken(context.Background(), testConfig(srv.URL), "ref1")
	require.NoError(t, err)
	assert.Equal(t, "tok2", tok.AccessToken)
	assert.Equal(t, "ref2", tok.RefreshToken)
	assert.NotNil(t, tok.ExpiresAt)
}

func TestClient_RefreshToken_Errors(t *testing.T) {
	t.Run("no refresh token", func(t *testing.T) {
		_, err := NewClient(nil, 0).RefreshToken(context.Background(), testConfig("https://idp"), "")
		assert.ErrorIs(t, err, ErrNoRefreshToken)
	})

	t.Run("provider rejects", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		}))
		defer srv.Close()

		_, err := NewClient(srv.Client(), time.Second).
			RefreshToken(context.Background(), testConfig(srv.URL), "ref1")

		var pe *IdentityProviderError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, OpRefresh, pe.Op)
		assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
		assert.Equal(t, "invalid_client", pe.Code)
	})
}

func TestClient_FetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 12345678901234567, "email": "a@x.com", "email_verified": true}`))
	}))
	defer srv.Close()

	profile, err := NewClient(srv.Client(), time.Second).
		FetchProfile(context.Background(), testConfig(srv.URL), "tok1")
	require.NoError(t, err)

	assert.Equal(t, json.Number("12345678901234567"), profile["id"])
	assert.Equal(t, "a@x.com", profile["email"])
	assert.Equal(t, true, profile["email_verified"])
}

func TestClient_FetchProfile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid_token","error_description":"expired"}`, code: "invalid_token"},
		{name: "server error with html", status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
		{name: "array body", status: http.StatusOK, body: `[1,2,3]`},
		{name: "null body", status: http.StatusOK, body: `null`},
		{name: "garbage", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.Client(), time.Second).
				FetchProfile(context.Background(), testConfig(srv.URL), "tok1")

			var pe *IdentityProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, OpUserinfo, pe.Op)
			assert.Equal(t, tt.code, pe.Code)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, pe.StatusCode)
			}
		})
	}
}

func TestClient_FetchProfile_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), 50*time.Millisecond).
		FetchProfile(context.Background(), testConfig(srv.URL), "tok1")

	var pe *IdentityProviderError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: " openid  email  profile ", want: []string{"openid", "email", "profile"}},
		{in: "repo\tread:user\nuser:email", want: []string{"repo", "read:user", "user:email"}},
		{in: "", want: []string{"openid", "email", "profile"}},
		{in: "   ", want: []string{"openid", "email", "profile"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseScopes(tt.in), tt.in)
	}
}

func TestNewState(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		s, err := NewState()
		require.NoError(t, err)
		assert.Len(t, s, 43)
		assert.NotContains(t, s, "=")
		_, dup := seen[s]
		assert.False(t, dup)
		seen[s] = struct{}{}
	}
}
