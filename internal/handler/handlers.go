package handler

import (
	"consultation_chat/internal/config"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/service"
	"consultation_chat/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Chat         *ChatHandler
	Conversation *ConversationHandler
	Monitor      *MonitorHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *realtime.Hub, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(),
		Chat:         NewChatHandler(services.Message, log),
		Conversation: NewConversationHandler(services.Conversation, log),
		Monitor:      NewMonitorHandler(services.Monitor, log),
		WebSocket:    NewWebSocketHandler(services, hub, cfg, log),
	}
}
