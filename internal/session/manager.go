package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"oauthfed/pkg/cache"
	"oauthfed/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	CookieName = "session_id"

	sessionCtxKey = "session"
	userIDCtxKey  = "user_id"
)

// Manager issues session cookies and loads the matching Session per request.
type Manager struct {
	cache  cache.Cache
	ttl    time.Duration
	secure bool
	logger logger.Client
}

func NewManager(c cache.Cache, ttl time.Duration, secure bool, logger logger.Client) *Manager {
	return &Manager{
		cache:  c,
		ttl:    ttl,
		secure: secure,
		logger: logger,
	}
}

// New returns the session for id without checking that it was issued.
func (m *Manager) New(id string) *Session {
	return &Session{id: id, cache: m.cache, ttl: m.ttl}
}

// Issue creates and registers a session under a fresh random id.
func (m *Manager) Issue(ctx context.Context) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	sess := m.New(id)
	if err := sess.writeIndex(ctx, nil); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load returns the session for id only when this server issued it and it
// has not expired or been logged out.
func (m *Manager) Load(ctx context.Context, id string) (*Session, bool, error) {
	if len(id) < idBytes {
		return nil, false, nil
	}
	sess := m.New(id)
	ok, err := sess.exists(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return sess, true, nil
}

// Middleware attaches a Session to every request. Unknown or missing cookies
// get a newly issued session, so a client can never choose its own id.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, _ := c.Cookie(CookieName)

		sess, ok, err := m.Load(ctx, id)
		if err == nil && !ok {
			sess, err = m.Issue(ctx)
		}
		if err != nil {
			m.logger.Error("failed to load session", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}

		maxAge := int(m.ttl.Seconds())
		sess.onRotate = func(id string) { m.setCookie(c, id, maxAge) }
		m.setCookie(c, sess.ID(), maxAge)
		c.Set(sessionCtxKey, sess)
		c.Next()
	}
}

// RequireUser rejects requests whose session has no logged-in user.
func (m *Manager) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := FromContext(c)
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no session found"})
			return
		}

		userID, ok, err := sess.CurrentUser(c.Request.Context())
		if err != nil {
			m.logger.Error("failed to read session user", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
			return
		}

		c.Set(userIDCtxKey, userID)
		c.Next()
	}
}

// Destroy logs the visitor out and expires the cookie.
func (m *Manager) Destroy(c *gin.Context) error {
	var err error
	if sess := FromContext(c); sess != nil {
		err = sess.Logout(c.Request.Context())
	}
	m.setCookie(c, "", -1)
	return err
}

// setCookie replaces any session cookie already queued on the response.
func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	header := c.Writer.Header()
	prefix := CookieName + "="
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, maxAge, "/", "", m.secure, true)
}

func FromContext(c *gin.Context) *Session {
	v, ok := c.Get(sessionCtxKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDCtxKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
