package middleware

import (
	"github.com/gin-gonic/gin"

	"consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем есть ли ошибки
		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			// Определяем статус код
			statusCode := errors.HTTPStatusFromError(err.Err)
			message := err.Error()
			if statusCode >= 500 {
				log.Error("Request failed", "error", err.Err, "path", c.FullPath(), "method", c.Request.Method)
				message = "Internal server error"
			}

			if !c.Writer.Written() {
				c.JSON(statusCode, gin.H{
					"error": message,
					"code":  errors.ReasonCode(err.Err),
				})
			}
		}
	}
}
