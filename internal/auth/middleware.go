package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAPIKey = "X-API-Key"
	CtxClaimsKey = "auth_claims"
)

// Middleware admits a request carrying a valid X-API-Key, or a bearer
// token issued by TokenService. Both failures answer 403.
func Middleware(keys *KeyVerifier, tokens TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderAPIKey); key != "" {
			if !keys.Verify(key) {
				deny(c, "could not validate credentials")
				return
			}
			c.Next()
			return
		}

		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			deny(c, "not authenticated")
			return
		}

		claims, err := tokens.Parse(strings.TrimSpace(h[len("Bearer "):]))
		if err != nil {
			deny(c, "could not validate credentials")
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

func deny(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, gin.H{"error": msg})
	c.Abort()
}

// ClaimsFrom returns the token claims of a bearer-authenticated request,
// or nil when the request came in with the API key.
func ClaimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
