package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/accounts-auth/internal/token"
)

const accessClaimsKey = "accessClaims"

// Auth validates Authorization headers and attaches access claims.
type Auth struct {
	Codec *token.Codec
}

// NewAuth creates the bearer token middleware.
func NewAuth(codec *token.Codec) *Auth {
	return &Auth{Codec: codec}
}

// ValidateJWT ensures the request carries a valid access token.
func (m *Auth) ValidateJWT(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	claims, err := m.Codec.Verify(strings.TrimSpace(parts[1]), token.PurposeAccess)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.Set(accessClaimsKey, claims)
	c.Next()
}

// GetAccessClaims exposes the verified access claims to handlers.
func GetAccessClaims(c *gin.Context) (token.Claims, bool) {
	value, ok := c.Get(accessClaimsKey)
	if !ok {
		return token.Claims{}, false
	}
	claims, ok := value.(token.Claims)
	return claims, ok
}
