package federation_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"oauthfed/internal/federation"
	"oauthfed/internal/session"
	"oauthfed/internal/storage"
	"oauthfed/pkg/cache"
	"oauthfed/pkg/db"
	"oauthfed/pkg/idgen"
	"oauthfed/pkg/logger"
	"oauthfed/pkg/oauth2"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appOrigin = "https://app.example.com"

type testApp struct {
	router   *gin.Engine
	sessions *session.Manager
	accounts *storage.AccountRepository
	settings *storage.ProviderSettingRepository
	provider *httptest.Server

	// cookie is the session id the simulated browser currently holds.
	cookie string
}

// newFakeProvider serves token and userinfo endpoints for one code.
func newFakeProvider(t *testing.T, profile string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "validcode" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok1","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, profile)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, profile string) *testApp {
	t.Helper()
	return newTestAppWithRedirect(t, profile, federation.RedirectConfig{
		LoginPath:     "/login",
		DashboardPath: "/dashboard",
		PublicBaseURL: appOrigin,
	})
}

func newTestAppWithRedirect(t *testing.T, profile string, redirect federation.RedirectConfig) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "oauthfed.db")
	require.NoError(t, db.Migrate(path))
	sqlClient, err := db.NewSQLiteClient(path)
	require.NoError(t, err)
	t.Cleanup(func() { sqlClient.Close() })

	memCache := cache.NewMemoryCache()
	t.Cleanup(memCache.Close)

	log := logger.NewWithWriter("test", io.Discard)
	provider := newFakeProvider(t, profile)

	app := &testApp{
		sessions: session.NewManager(memCache, time.Hour, false, log),
		accounts: storage.NewAccountRepository(sqlClient),
		settings: storage.NewProviderSettingRepository(sqlClient),
		provider: provider,
	}

	now := time.Now().UTC()
	require.NoError(t, app.settings.SaveSetting(context.Background(), &federation.ProviderSetting{
		Provider:              "google",
		Enabled:               true,
		ClientID:              "cid",
		ClientSecret:          "secret",
		AuthorizationEndpoint: provider.URL + "/authorize",
		TokenEndpoint:         provider.URL + "/token",
		UserinfoEndpoint:      provider.URL + "/userinfo",
		CreatedAt:             now,
		UpdatedAt:             now,
	}))
	require.NoError(t, app.settings.SaveSetting(context.Background(), &federation.ProviderSetting{
		Provider:  "github",
		Enabled:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	svc := federation.NewService(
		federation.NewResolver(app.settings),
		oauth2.NewClient(provider.Client(), 5*time.Second),
		federation.NewLinker(app.accounts, idgen.Sequence(1)),
		app.accounts,
		log,
	)
	handler := federation.NewHandler(svc, app.sessions, redirect, log)

	app.router = gin.New()
	handler.RegisterRoutes(app.router)

	sess, err := app.sessions.Issue(context.Background())
	require.NoError(t, err)
	app.cookie = sess.ID()
	return app
}

// session returns the server-side session behind the current cookie.
func (a *testApp) session() *session.Session {
	return a.sessions.New(a.cookie)
}

// do sends a request with the current cookie and keeps whatever session
// cookie the response sets, like a browser would.
func (a *testApp) do(method, target string) *httptest.ResponseRecorder {
	rec := a.send(method, target, a.cookie, nil)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name != session.CookieName {
			continue
		}
		a.cookie = ck.Value
		if ck.MaxAge < 0 {
			a.cookie = ""
		}
	}
	return rec
}

func (a *testApp) send(method, target, cookie string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: cookie})
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_EndToEndLogin(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, `{"sub":"999","email":"new@user.com"}`)
	require.NoError(t, app.session().Set(ctx, "oauth_state_google", "abc123"))
	preLogin := app.cookie

	rec := app.do(http.MethodGet, "/oauth/callback/google?state=abc123&code=validcode")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	require.NotEqual(t, preLogin, app.cookie, "login issues a new session id")

	_, ok, err := app.sessions.New(preLogin).CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	sess := app.session()
	userID, ok, err := sess.CurrentUser(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	complete, err := sess.IsLoginComplete(ctx)
	require.NoError(t, err)
	assert.True(t, complete)

	user, err := app.accounts.FindUserByEmail(ctx, "new@user.com")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)

	identities, err := app.accounts.ListLinkedIdentities(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "google", identities[0].Provider)
	assert.Equal(t, "999", identities[0].RemoteUserID)
	assert.Equal(t, "tok1", identities[0].AccessToken)

	me := app.do(http.MethodGet, "/auth/me")
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"new@user.com"`)
	assert.NotContains(t, me.Body.String(), "tok1")

	// Replaying the same callback finds no state and bounces to login.
	replay := app.do(http.MethodGet, "/oauth/callback/google?state=abc123&code=validcode")
	assert.Equal(t, http.StatusFound, replay.Code)
	assert.Equal(t, "/login", replay.Header().Get("Location"))

	identities, err = app.accounts.ListLinkedIdentities(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
}

func TestHandler_Authorize(t *testing.T) {
	app := newTestApp(t, `{}`)

	rec := app.do(http.MethodGet, "/oauth/authorize/google")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), app.provider.URL+"/authorize?"))

	q := loc.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, appOrigin+"/oauth/callback/google", q.Get("redirect_uri"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))

	stored, err := app.session().Get(context.Background(), "oauth_state_google")
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
	assert.Equal(t, stored, q.Get("state"))
}

func TestHandler_UnavailableProviders(t *testing.T) {
	app := newTestApp(t, `{}`)

	for _, target := range []string{
		"/oauth/authorize/github",
		"/oauth/authorize/gitlab",
		"/oauth/callback/github?state=x&code=y",
		"/oauth/callback/gitlab?state=x&code=y",
	} {
		rec := app.do(http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestHandler_CallbackFailuresRedirectToLogin(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		query   string
	}{
		{name: "state mismatch", profile: `{"sub":"1","email":"a@x.com"}`, query: "state=wrong&code=validcode"},
		{name: "provider error", profile: `{"sub":"1","email":"a@x.com"}`, query: "state=abc123&error=access_denied"},
		{name: "missing code", profile: `{"sub":"1","email":"a@x.com"}`, query: "state=abc123"},
		{name: "bad code", profile: `{"sub":"1","email":"a@x.com"}`, query: "state=abc123&code=expired"},
		{name: "no user id", profile: `{"email":"a@x.com"}`, query: "state=abc123&code=validcode"},
		{name: "no email", profile: `{"sub":"1"}`, query: "state=abc123&code=validcode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			app := newTestApp(t, tt.profile)
			sess := app.session()
			require.NoError(t, sess.Set(ctx, "oauth_state_google", "abc123"))

			rec := app.do(http.MethodGet, "/oauth/callback/google?"+tt.query)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/login", rec.Header().Get("Location"))

			_, ok, err := sess.CurrentUser(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			left, err := sess.Get(ctx, "oauth_state_google")
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestHandler_ListProviders(t *testing.T) {
	app := newTestApp(t, `{}`)

	rec := app.do(http.MethodGet, "/auth/oauth/providers")
	require.Equal(t, http.StatusOK, rec.Code)

	var body federation.ProvidersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OAuthEnabled)
	assert.Equal(t, []string{"google"}, body.Providers)
}

func TestHandler_MeRequiresLogin(t *testing.T) {
	app := newTestApp(t, `{}`)

	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/auth/me").Code)
	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodPost, "/auth/oauth/refresh/google").Code)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, `{}`)
	sess := app.session()

	now := time.Now().UTC()
	require.NoError(t, app.accounts.SaveUser(ctx, &federation.User{
		ID: 5, Email: "a@x.com", Name: "A", CreatedAt: now, UpdatedAt: now,
		Identities: []*federation.LinkedIdentity{{
			ID: 50, Provider: "google", RemoteUserID: "999", AccessToken: "still-valid",
			CreatedAt: now, UpdatedAt: now,
		}},
	}))
	require.NoError(t, sess.SetCurrentUser(ctx, 5))

	rec := app.do(http.MethodPost, "/auth/oauth/refresh/google")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remote_user_id":"999"`)

	assert.Equal(t, http.StatusNotFound, app.do(http.MethodPost, "/auth/oauth/refresh/github").Code)

	rec = app.do(http.MethodPost, "/auth/logout")
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok, err := sess.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandler_PlantedSessionCookieNeverAuthenticates(t *testing.T) {
	const planted = "attacker-chosen-session-id-0000000000000"
	app := newTestApp(t, `{"sub":"999","email":"victim@user.com"}`)
	app.cookie = planted

	rec := app.do(http.MethodGet, "/oauth/authorize/google")
	require.Equal(t, http.StatusFound, rec.Code)
	require.NotEqual(t, planted, app.cookie, "unknown cookie is replaced")
	issued := app.cookie

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	rec = app.do(http.MethodGet, "/oauth/callback/google?code=validcode&state="+url.QueryEscape(loc.Query().Get("state")))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.NotEqual(t, issued, app.cookie)

	for _, stale := range []string{planted, issued} {
		me := app.send(http.MethodGet, "/auth/me", stale, nil)
		assert.Equal(t, http.StatusUnauthorized, me.Code, stale)
	}

	me := app.do(http.MethodGet, "/auth/me")
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"victim@user.com"`)
}

func TestHandler_ForwardedProtoOnlyFromTrustedProxy(t *testing.T) {
	// httptest requests arrive from 192.0.2.1 with Host example.com.
	tests := []struct {
		name    string
		proxies []netip.Prefix
		want    string
	}{
		{name: "no proxies configured", want: "http://example.com/oauth/callback/google"},
		{name: "peer outside trusted range", proxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, want: "http://example.com/oauth/callback/google"},
		{name: "peer is trusted proxy", proxies: []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}, want: "https://example.com/oauth/callback/google"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestAppWithRedirect(t, `{}`, federation.RedirectConfig{
				LoginPath:      "/login",
				DashboardPath:  "/dashboard",
				TrustedProxies: tt.proxies,
			})

			rec := app.send(http.MethodGet, "/oauth/authorize/google", app.cookie,
				http.Header{"X-Forwarded-Proto": []string{"https"}})
			require.Equal(t, http.StatusFound, rec.Code)

			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc.Query().Get("redirect_uri"))
		})
	}
}
