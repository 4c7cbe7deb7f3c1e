package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"oauthfed/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	token   string
	logger  logger.Client
}

// NewHandler guards every route with the static bearer token. An empty token
// disables the admin API entirely.
func NewHandler(service *Service, token string, logger logger.Client) *Handler {
	return &Handler{
		service: service,
		token:   token,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	g := router.Group("/admin/oauth-settings", h.requireToken)
	g.GET("", h.ListSettingsHandler)
	g.GET("/:provider", h.GetSettingHandler)
	g.POST("", h.UpsertSettingHandler)
	g.DELETE("/:provider", h.DeleteSettingHandler)
}

func (h *Handler) requireToken(c *gin.Context) {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")

	if h.token == "" || !strings.HasPrefix(header, prefix) ||
		subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(h.token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "unauthorized",
			"code":  ErrorCodeUnauthorized,
		})
		return
	}
	c.Next()
}

// ListSettingsHandler godoc
// @Summary      List OAuth provider settings
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} SettingResponse
// @Failure      401 {object} map[string]string
// @Router       /admin/oauth-settings [get]
func (h *Handler) ListSettingsHandler(c *gin.Context) {
	settings, err := h.service.List(c.Request.Context())
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetSettingHandler godoc
// @Summary      Get settings for one OAuth provider
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        provider path string true "Provider name"
// @Success      200 {object} SettingResponse
// @Failure      404 {object} Status
// @Router       /admin/oauth-settings/{provider} [get]
func (h *Handler) GetSettingHandler(c *gin.Context) {
	setting, err := h.service.Get(c.Request.Context(), c.Param("provider"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// UpsertSettingHandler godoc
// @Summary      Create or update an OAuth provider setting
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body SettingRequest true "Provider setting"
// @Success      200 {object} SettingResponse
// @Failure      400 {object} Status
// @Failure      422 {object} Status
// @Router       /admin/oauth-settings [post]
func (h *Handler) UpsertSettingHandler(c *gin.Context) {
	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Status{Message: "Invalid JSON body"})
		return
	}

	setting, err := h.service.Upsert(c.Request.Context(), req)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// DeleteSettingHandler godoc
// @Summary      Delete an OAuth provider setting
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        provider path string true "Provider name"
// @Success      200 {object} Status
// @Failure      404 {object} Status
// @Router       /admin/oauth-settings/{provider} [delete]
func (h *Handler) DeleteSettingHandler(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("provider")); err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, Status{Success: true, Message: "OAuth setting deleted."})
}

func (h *Handler) sendError(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Status, Status{Message: appErr.Message, Errors: appErr.Fields})
		return
	}

	h.logger.Error("admin request failed", logger.Err(err))
	c.JSON(http.StatusInternalServerError, Status{Message: "Internal Server Error"})
}
