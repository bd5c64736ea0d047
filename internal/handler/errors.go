package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/middleware"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

// respondError переводит ошибку сервиса в HTTP-ответ. Внутренние детали наружу не отдаются.
func respondError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatusFromError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "error", err, "path", c.FullPath())
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": message, "code": apperrors.ReasonCode(err)})
}

func requireIdentity(c *gin.Context) (*domain.Identity, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated", "code": "auth_failure"})
		return nil, false
	}
	return identity, true
}

func parseUUIDParam(c *gin.Context, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID", "code": "invalid_payload"})
		return uuid.Nil, false
	}
	return id, true
}
