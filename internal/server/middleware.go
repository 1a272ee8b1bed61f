package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatty/internal/auth"
)

const claimsKey = "authClaims"

// authorized verifies the bearer token before any protected handler
// runs. The token rides the Authorization header, or a "token" query
// parameter for the websocket handshake where custom headers are not
// always available.
func authorized(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}

// claimsFrom returns the verified identity set by the middleware.
func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
