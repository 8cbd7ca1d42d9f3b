package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleOrganizer   = "organizer"
	RoleParticipant = "participant"

	ctxSubject = "identity.subject"
	ctxRole    = "identity.role"
)

// Claims identify the caller. Subject is the participant id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity verifies HS256 bearer tokens. The token is read from the
// Authorization header or, for browser websockets, the token query
// parameter. With an empty secret every request passes unauthenticated.
func Identity(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.Next()
			return
		}
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"reason": "UNAUTHORIZED", "message": "authorization required"})
			return
		}
		claims, err := parseToken(raw, key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"reason": "UNAUTHORIZED", "message": "invalid or expired token"})
			return
		}
		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireOrganizer rejects authenticated callers without the organizer role.
func RequireOrganizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, authenticated := c.Get(ctxRole); authenticated && c.GetString(ctxRole) != RoleOrganizer {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"reason": "FORBIDDEN", "message": "organizer role required"})
			return
		}
		c.Next()
	}
}

// participantID prefers the verified token subject over the id the client
// claims for itself.
func participantID(c *gin.Context, claimed string) string {
	if subject := c.GetString(ctxSubject); subject != "" {
		return subject
	}
	return claimed
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func parseToken(raw string, key []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
