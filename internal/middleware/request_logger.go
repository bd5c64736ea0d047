package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"consultation_chat/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		// Токен в query не должен попасть в лог
		if raw != "" && c.Query("token") == "" {
			path = path + "?" + raw
		}

		kv := []interface{}{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		}
		if identity, ok := GetIdentity(c); ok {
			kv = append(kv, "user_id", identity.UserID)
		}

		if c.Writer.Status() >= 500 {
			log.Error("HTTP request", kv...)
			return
		}
		log.Info("HTTP request", kv...)
	}
}
