package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/accounts-auth/internal/config"
	"github.com/smallbiznis/accounts-auth/internal/service"
)

const refreshCookieName = "refresh_token"

// AuthHandler exposes the session lifecycle endpoints.
type AuthHandler struct {
	Auth *service.AuthService

	cfg config.Config
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, cfg config.Config) *AuthHandler {
	return &AuthHandler{Auth: auth, cfg: cfg}
}

// Login verifies credentials and starts a session. The refresh token travels
// only in an httpOnly cookie; the body carries the access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	result, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken, int(h.cfg.RefreshTokenTTL.Seconds()))
	c.JSON(http.StatusOK, result)
}

// Refresh exchanges the refresh cookie for a new access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, err := c.Cookie(refreshCookieName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Refresh token required."})
		return
	}

	access, err := h.Auth.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

// Logout ends the session. It succeeds whether or not a session exists.
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken, _ := c.Cookie(refreshCookieName)

	// The cookie is cleared on every branch, including storage failures.
	h.setRefreshCookie(c, "", -1)

	if err := h.Auth.Logout(c.Request.Context(), refreshToken); err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RequestReset issues a password reset token for the account.
func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email is required."})
		return
	}

	resetToken, err := h.Auth.RequestReset(c.Request.Context(), req.Email)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset_token": resetToken})
}

// ResetPassword consumes a reset token and installs the new password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token and password are required."})
		return
	}

	if err := h.Auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, value, maxAge, "/", h.cfg.CookieDomain, h.cfg.CookieSecure, true)
}

func (h *AuthHandler) respondAuthError(c *gin.Context, err error) {
	if authErr, ok := err.(*service.AuthError); ok {
		c.JSON(authErr.Status, gin.H{"error": authErr.Code, "error_description": authErr.Description})
		return
	}
	zap.L().Error("auth service failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
