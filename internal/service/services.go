package service

import (
	"consultation_chat/internal/config"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/repository"
	"consultation_chat/pkg/logger"
)

type Services struct {
	Auth         AuthGate
	Access       AccessController
	Message      MessageService
	Conversation ConversationService
	Dispatcher   Dispatcher
	Monitor      MonitorService
	RateLimit    RateLimitService
	Audit        AuditService
}

func NewServices(repos *repository.Repositories, hub *realtime.Hub, reaper *realtime.Reaper, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, log)
	access := NewAccessController(repos.User, repos.Conversation, log)

	channels := []Channel{NewLiveChannel(hub, log)}
	if cfg.SMTP.Enabled {
		channels = append(channels, NewEmailChannel(repos.User, NewSMTPMailer(cfg.SMTP), log))
		log.Info("Email notification channel enabled", "host", cfg.SMTP.Host)
	} else {
		log.Warn("SMTP is disabled, durable notifications will be skipped")
	}
	dispatcher := NewDispatcher(cfg.Dispatch.Timeout, log, channels...)

	messages := NewMessageService(repos.Message, access, dispatcher, hub, audit, log)

	return &Services{
		Auth:         NewAuthGate(repos.User, cfg.JWT, log),
		Access:       access,
		Message:      messages,
		Conversation: NewConversationService(repos.Conversation, access, messages, dispatcher, hub, audit, log),
		Dispatcher:   dispatcher,
		Monitor:      NewMonitorService(hub.Registry(), reaper, log),
		RateLimit:    NewRateLimitService(repos.RateLimit, log),
		Audit:        audit,
	}
}
