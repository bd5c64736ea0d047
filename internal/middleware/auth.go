package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/service"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

const identityKey = "identity"

type AuthMiddleware struct {
	authGate service.AuthGate
	log      logger.Logger
}

func NewAuthMiddleware(authGate service.AuthGate, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authGate: authGate,
		log:      log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := m.authGate.Authenticate(c.Request.Context(), service.ExtractCredential(c.Request))
		if err != nil {
			status := http.StatusUnauthorized
			message := "Invalid or expired token"
			switch {
			case errors.Is(err, apperrors.ErrMissingCredential):
				message = "Authorization header required"
			case errors.Is(err, apperrors.ErrStorage):
				m.log.Error("Authentication storage failure", "error", err)
				status = http.StatusInternalServerError
				message = "Internal server error"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": message, "code": apperrors.ReasonCode(err)})
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли. Ставится после RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "auth_failure"})
			return
		}
		if !lo.Contains(roles, identity.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role", "code": "access_denied"})
			return
		}
		c.Next()
	}
}

func SetIdentity(c *gin.Context, identity *domain.Identity) {
	c.Set(identityKey, identity)
	c.Set("user_id", identity.UserID)
	c.Set("user_role", identity.Role)
}

func GetIdentity(c *gin.Context) (*domain.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*domain.Identity)
	return identity, ok && identity != nil
}
