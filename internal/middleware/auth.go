package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/opentreehole/treehole/internal/auth"
	"github.com/opentreehole/treehole/pkg/errors"
	"github.com/opentreehole/treehole/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"

	// TokenQueryParam carries the access token for websocket clients that
	// cannot set headers during the upgrade.
	TokenQueryParam = "token"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !authenticate(c, jwt, token) {
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches claims when a token is present and lets anonymous
// requests through. A token that fails validation is still rejected.
func OptionalAuth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		if !authenticate(c, jwt, token) {
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects callers whose claims do not carry the admin flag.
// It must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.IsAdmin {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// BearerToken extracts the access token from the Authorization header,
// falling back to the token query parameter.
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query(TokenQueryParam))
}

// ClaimsFromContext returns the claims stored by Auth or OptionalAuth.
func ClaimsFromContext(c *gin.Context) (*iauth.Claims, bool) {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*iauth.Claims)
	return claims, ok && claims != nil
}

func authenticate(c *gin.Context, jwt *iauth.JWTService, token string) bool {
	claims, err := jwt.ValidateAccessToken(token)
	if err != nil {
		// Normalise all validation failures to 401
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, errors.ErrUnauthorized)
		c.Abort()
		return false
	}

	c.Set(CtxClaimsKey, claims)
	c.Set(CtxUserIDKey, claims.UserID)
	return true
}
