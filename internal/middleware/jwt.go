package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/logger"
	"golang.org/x/xerrors"
)

// OracleSubject is the subject every oracle token carries.
const OracleSubject = "oracle"

// ClaimsKey is where validated claims are stored in the gin context.
const ClaimsKey = "claims"

// OracleAuth admits requests bearing an HMAC-signed token for the oracle subject.
// With an empty secret every request is refused.
func OracleAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "oracle callbacks are disabled"})
			return
		}

		const bearer = "Bearer "
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be Bearer {token}"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(header[len(bearer):], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, xerrors.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return key, nil
		}, jwt.WithSubject(OracleSubject))
		if err != nil {
			logger.Warningf("middleware: oracle token rejected: %v", err)
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// IssueOracleToken signs a token the oracle presents on callbacks.
func IssueOracleToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", xerrors.New("empty oracle secret")
	}
	claims := jwt.RegisteredClaims{
		Subject:  OracleSubject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
