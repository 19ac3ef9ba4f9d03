package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// APIKeyHeader carries the raw shared secret.
const APIKeyHeader = "X-API-Key"

const callerKey = "caller"

// SharedSecretAuth accepts either the shared secret in X-API-Key or an HS256
// bearer token signed with jwtSecret (the shared secret when jwtSecret is
// empty). With no secret configured every request is rejected.
func SharedSecretAuth(sharedSecret, jwtSecret string) gin.HandlerFunc {
	signingKey := jwtSecret
	if signingKey == "" {
		signingKey = sharedSecret
	}

	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" {
			if sharedSecret != "" && subtle.ConstantTimeCompare([]byte(key), []byte(sharedSecret)) == 1 {
				c.Set(callerKey, "api-key")
				c.Next()
				return
			}
			unauthorized(c, "invalid api key")
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "missing credentials")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || token == "" {
			unauthorized(c, "invalid authorization header format")
			return
		}
		if signingKey == "" {
			unauthorized(c, "authentication is not configured")
			return
		}

		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, isHMAC := t.Method.(*jwt.SigningMethodHMAC); !isHMAC {
				return nil, errors.New("invalid signing method")
			}
			return []byte(signingKey), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			unauthorized(c, "invalid token")
			return
		}

		caller := claims.Subject
		if caller == "" {
			caller = "token"
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message, "code": "UNAUTHORIZED"})
}

// callerFrom returns the authenticated caller name.
func callerFrom(c *gin.Context) string {
	if v, ok := c.Get(callerKey); ok {
		if s, isString := v.(string); isString {
			return s
		}
	}
	return ""
}
