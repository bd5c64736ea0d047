package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consultation_chat/internal/service"
	"consultation_chat/pkg/logger"
)

type MonitorHandler struct {
	monitorService service.MonitorService
	log            logger.Logger
}

func NewMonitorHandler(monitorService service.MonitorService, log logger.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log,
	}
}

func (h *MonitorHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitorService.Stats(c.Request.Context()))
}

// Cleanup только ставит внеочередной проход; результат виден в /stats и в логах.
func (h *MonitorHandler) Cleanup(c *gin.Context) {
	h.monitorService.TriggerCleanup()
	c.JSON(http.StatusAccepted, gin.H{"status": "cleanup scheduled"})
}
