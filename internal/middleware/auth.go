package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gig_marketplace/pkg/jwt"
	"gig_marketplace/pkg/logger"
)

const UserIDKey = "user_id"

type AuthMiddleware struct {
	tokens *jwt.Manager
	log    logger.Logger
}

func NewAuthMiddleware(tokens *jwt.Manager, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		log:    log,
	}
}

// RequireAuth accepts a bearer token, or a token query parameter for websocket upgrades
// where browsers cannot set headers.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				c.Abort()
				return
			}
			token = parts[1]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		userID, err := m.tokens.Verify(token)
		if err != nil {
			m.log.Debug("Rejected token", "error", err, "path", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the id set by RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
