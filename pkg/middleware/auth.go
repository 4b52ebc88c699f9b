package middleware

import (
	"strings"

	"duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/jwt"
	"duo-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuthMiddleware
const (
	ClaimsContextKey = "claims"
	UserIDContextKey = "userId"
)

// TokenCookieName is the cookie the login endpoint sets
const TokenCookieName = "token"

// ExtractToken returns the bearer token of a request. The Authorization header
// wins over the session cookie.
func ExtractToken(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(h[len("Bearer "):])
		}
		return strings.TrimSpace(h)
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}

// JWTAuthMiddleware checks that the request has a valid JWT and adds claims to the context
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger, cookieName string) gin.HandlerFunc {
	if cookieName == "" {
		cookieName = TokenCookieName
	}
	return func(c *gin.Context) {
		token := ExtractToken(c, cookieName)
		if token == "" {
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Unauthorized - No Token Provided"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Debug("Invalid JWT token", "error", err.Error())
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeInvalidToken, "Unauthorized - Invalid Token"))
			c.Abort()
			return
		}

		c.Set(ClaimsContextKey, claims)
		c.Set(UserIDContextKey, claims.UserID)

		c.Next()
	}
}

// CurrentUserID returns the authenticated user id set by JWTAuthMiddleware
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(UserIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}
