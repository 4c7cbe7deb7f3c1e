package federation

import (
	"errors"
	"net/http"
	"net/netip"
	"strings"

	"oauthfed/internal/session"
	"oauthfed/pkg/logger"

	"github.com/gin-gonic/gin"
)

type RedirectConfig struct {
	LoginPath     string
	DashboardPath string
	// PublicBaseURL overrides the request-derived origin for callback URLs.
	PublicBaseURL string
	// TrustedProxies lists the peers allowed to set X-Forwarded-Proto.
	TrustedProxies []netip.Prefix
}

type Handler struct {
	service  *Service
	sessions *session.Manager
	logger   logger.Client
	redirect RedirectConfig
}

func NewHandler(service *Service, sessions *session.Manager, redirect RedirectConfig, logger logger.Client) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
		logger:   logger,
		redirect: redirect,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/auth/oauth/providers", h.ListProvidersHandler)

	g := router.Group("", h.sessions.Middleware())
	g.GET("/oauth/authorize/:provider", h.AuthorizeHandler)
	g.GET("/oauth/callback/:provider", h.CallbackHandler)
	g.POST("/auth/logout", h.LogoutHandler)

	authed := g.Group("", h.sessions.RequireUser())
	authed.GET("/auth/me", h.MeHandler)
	authed.POST("/auth/oauth/refresh/:provider", h.RefreshTokenHandler)
}

// ListProvidersHandler godoc
// @Summary      List enabled OAuth providers
// @Tags         oauth
// @Produce      json
// @Success      200 {object} ProvidersResponse
// @Failure      500 {object} map[string]string
// @Router       /auth/oauth/providers [get]
func (h *Handler) ListProvidersHandler(c *gin.Context) {
	resp, err := h.service.AvailableProviders(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list providers", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AuthorizeHandler godoc
// @Summary      Start an OAuth login
// @Description  Stores a state token in the session and redirects to the provider
// @Tags         oauth
// @Param        provider path string true "Provider name"
// @Success      302 {string} string "Redirect"
// @Failure      403 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Router       /oauth/authorize/{provider} [get]
func (h *Handler) AuthorizeHandler(c *gin.Context) {
	provider := c.Param("provider")

	authURL, err := h.service.Initiate(c.Request.Context(), session.FromContext(c), provider, h.origin(c))
	switch {
	case err == nil:
		c.Redirect(http.StatusFound, authURL)
	case errors.Is(err, ErrProviderUnavailable):
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not available"})
	case errors.Is(err, ErrAuthorizationURL):
		h.logger.Warn("failed to build authorization url",
			logger.Field{Key: "provider", Value: provider}, logger.Err(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "provider misconfigured"})
	default:
		h.logger.Error("failed to start oauth login",
			logger.Field{Key: "provider", Value: provider}, logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}

// CallbackHandler godoc
// @Summary      OAuth callback
// @Description  Validates state, exchanges the code and logs the visitor in
// @Tags         oauth
// @Param        provider path string true "Provider name"
// @Param        code query string false "Authorization code"
// @Param        state query string false "State token"
// @Param        error query string false "Provider error"
// @Success      302 {string} string "Redirect"
// @Failure      404 {object} map[string]string
// @Router       /oauth/callback/{provider} [get]
func (h *Handler) CallbackHandler(c *gin.Context) {
	req := CallbackRequest{
		Provider: c.Param("provider"),
		Origin:   h.origin(c),
		State:    c.Query("state"),
		Code:     c.Query("code"),
		Error:    c.Query("error"),
	}

	_, err := h.service.Complete(c.Request.Context(), session.FromContext(c), req)
	if err == nil {
		c.Redirect(http.StatusFound, h.redirect.DashboardPath)
		return
	}
	if errors.Is(err, ErrProviderUnavailable) {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not available"})
		return
	}

	fields := []logger.Field{
		{Key: "provider", Value: req.Provider},
		logger.Err(err),
	}
	var pe *IdentityProviderError
	if errors.As(err, &pe) {
		fields = append(fields,
			logger.Field{Key: "status", Value: pe.StatusCode},
			logger.Field{Key: "provider_error", Value: pe.Code},
			logger.Field{Key: "provider_body", Value: pe.Body},
		)
	}
	h.logger.Warn("oauth callback rejected", fields...)
	c.Redirect(http.StatusFound, h.redirect.LoginPath)
}

// MeHandler godoc
// @Summary      Current account
// @Tags         oauth
// @Produce      json
// @Success      200 {object} User
// @Failure      401 {object} map[string]string
// @Router       /auth/me [get]
func (h *Handler) MeHandler(c *gin.Context) {
	userID, _ := session.UserID(c)

	user, err := h.service.CurrentAccount(c.Request.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load account", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// RefreshTokenHandler godoc
// @Summary      Refresh a linked identity's access token
// @Description  Refreshes only when the stored token has expired and a refresh token exists
// @Tags         oauth
// @Produce      json
// @Param        provider path string true "Provider name"
// @Success      200 {object} LinkedIdentity
// @Failure      401 {object} map[string]string
// @Failure      404 {object} map[string]string
// @Failure      502 {object} map[string]string
// @Router       /auth/oauth/refresh/{provider} [post]
func (h *Handler) RefreshTokenHandler(c *gin.Context) {
	userID, _ := session.UserID(c)
	provider := c.Param("provider")

	identity, err := h.service.RefreshIdentityToken(c.Request.Context(), userID, provider)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no linked identity for provider"})
		return
	}
	if err != nil {
		h.logger.Warn("token refresh failed",
			logger.Field{Key: "provider", Value: provider},
			logger.Field{Key: "user_id", Value: userID},
			logger.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "token refresh failed"})
		return
	}
	c.JSON(http.StatusOK, identity)
}

// LogoutHandler godoc
// @Summary      Logout
// @Tags         oauth
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /auth/logout [post]
func (h *Handler) LogoutHandler(c *gin.Context) {
	if err := h.sessions.Destroy(c); err != nil {
		h.logger.Warn("failed to clear session", logger.Err(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) origin(c *gin.Context) string {
	if h.redirect.PublicBaseURL != "" {
		return strings.TrimRight(h.redirect.PublicBaseURL, "/")
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); (proto == "http" || proto == "https") && h.fromTrustedProxy(c) {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handler) fromTrustedProxy(c *gin.Context) bool {
	peer, err := netip.ParseAddr(c.RemoteIP())
	if err != nil {
		return false
	}
	peer = peer.Unmap()
	for _, p := range h.redirect.TrustedProxies {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}
