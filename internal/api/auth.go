package api

import (
	"net/http"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/service"
	"duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// CookieOptions controls the session cookie set at login
type CookieOptions struct {
	Name   string
	Secure bool
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	auth   *service.AuthService
	cookie CookieOptions
	logger *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth *service.AuthService, cookie CookieOptions, logger *logger.Logger) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = middleware.TokenCookieName
	}
	return &AuthHandler{
		auth:   auth,
		cookie: cookie,
		logger: logger,
	}
}

// Register creates an account from a multipart form with an optional
// profile picture
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		_ = c.Error(errors.BadRequestWithDetails(errors.CodeInvalidArgument, "All fields are required", err.Error()))
		return
	}

	avatar, closeAvatar, err := formUpload(c, "profilepic")
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer closeAvatar()

	user, err := h.auth.Register(c.Request.Context(), &req, avatar)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user,
	})
}

// Login handles user authentication
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequestWithDetails(errors.CodeInvalidArgument, "Email and password are required", err.Error()))
		return
	}

	user, token, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, token, h.auth.TokenTTLSeconds(), "/", "", h.cookie.Secure, true)

	logger.FromGin(c).Info("User logged in", "userID", user.ID)

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user":    user,
	})
}

// Logout clears the session cookie
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me returns the current authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"token": middleware.ExtractToken(c, h.cookie.Name),
	})
}
