package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"consultation_chat/internal/config"
	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/service"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

const (
	frameTimeout    = 10 * time.Second
	inboundWindow   = time.Minute
	handshakeBuffer = 1024
)

type WebSocketHandler struct {
	authGate  service.AuthGate
	access    service.AccessController
	messages  service.MessageService
	rateLimit service.RateLimitService
	hub       *realtime.Hub
	cfg       config.RealtimeConfig
	upgrader  websocket.Upgrader
	log       logger.Logger
}

func NewWebSocketHandler(services *service.Services, hub *realtime.Hub, cfg *config.Config, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		authGate:  services.Auth,
		access:    services.Access,
		messages:  services.Message,
		rateLimit: services.RateLimit,
		hub:       hub,
		cfg:       cfg.Realtime,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
			ReadBufferSize:   handshakeBuffer,
			WriteBufferSize:  handshakeBuffer,
			Subprotocols:     []string{service.BearerProtocol},
			CheckOrigin:      originChecker(cfg.Server.AllowedOrigins),
		},
		log: log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return lo.Contains(allowed, origin) || lo.Contains(allowed, u.Host)
	}
}

// Handle проверяет учетные данные до апгрейда: при отказе соединение не создается и реестр не меняется.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	identity, err := h.authGate.Authenticate(c.Request.Context(), service.ExtractCredential(c.Request))
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthFailure) {
			h.log.Debug("WebSocket handshake rejected", "error", err, "client_ip", c.ClientIP())
		}
		respondError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	transport := realtime.NewWSTransport(conn, realtime.WSConfig{
		WriteWait:      h.cfg.WriteWait,
		PongWait:       h.cfg.PongWait,
		PingInterval:   h.cfg.PingInterval,
		MaxMessageSize: h.cfg.MaxMessageSize,
		SendBuffer:     h.cfg.SendBuffer,
	}, h.log)

	registry := h.hub.Registry()
	connection := realtime.NewConnection(identity.UserID, identity.Role, transport, registry.Now())
	registry.Register(connection)
	defer registry.Deregister(connection)

	log := h.log.With("connection_id", connection.ID, "user_id", identity.UserID)
	log.Info("WebSocket connected", "role", identity.Role)

	s := &session{
		handler:    h,
		identity:   identity,
		connection: connection,
		ctx:        c.Request.Context(),
		log:        log,
	}

	if err := transport.Serve(s.handleFrame); err != nil {
		log.Debug("WebSocket read failed", "error", err)
	}
	log.Info("WebSocket disconnected")
}

// session - состояние одного соединения. Кадры обрабатываются последовательно в порядке прихода.
type session struct {
	handler    *WebSocketHandler
	identity   *domain.Identity
	connection *realtime.Connection
	ctx        context.Context
	log        logger.Logger
}

func (s *session) send(env realtime.Envelope) {
	s.handler.hub.PushToConnection(s.connection, env)
}

func (s *session) sendError(code, message string) {
	s.send(realtime.ErrorEnvelope(code, message))
}

func (s *session) sendServiceError(err error) {
	code := apperrors.ReasonCode(err)
	message := err.Error()
	if code == "storage_error" || code == realtime.ErrorCodeInternalFailure {
		s.log.Error("Event handling failed", "error", err)
		message = "Internal server error"
	}
	s.sendError(code, message)
}

func (s *session) handleFrame(data []byte) {
	registry := s.handler.hub.Registry()
	registry.Touch(s.connection.ID)

	ctx, cancel := context.WithTimeout(s.ctx, frameTimeout)
	defer cancel()

	if !s.allow(ctx) {
		s.sendError(realtime.ErrorCodeRateLimited, "Too many events")
		return
	}

	var env realtime.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		s.sendError(realtime.ErrorCodeInvalidPayload, "Malformed event")
		return
	}
	if !realtime.IsClientEvent(env.Type) {
		s.sendError(realtime.ErrorCodeUnknownEvent, "Unsupported event type: "+env.Type)
		return
	}

	switch env.Type {
	case realtime.EventHeartbeatPing:
		s.send(realtime.MustEnvelope(realtime.EventHeartbeatPong, realtime.PongPayload{ServerTime: time.Now().UTC()}))
	case realtime.EventJoinConversation:
		s.join(ctx, env)
	case realtime.EventLeaveConversation:
		s.leave(env)
	case realtime.EventChatInit:
		s.chatInit(ctx, env)
	case realtime.EventMarkRead:
		s.markRead(ctx, env)
	}
}

// allow пропускает событие при сбое Redis: ограничение не должно рвать живые соединения.
func (s *session) allow(ctx context.Context) bool {
	limit := s.handler.cfg.InboundRateLimit
	if s.handler.rateLimit == nil || limit <= 0 {
		return true
	}

	allowed, _, err := s.handler.rateLimit.Allow(ctx, "ws:"+s.connection.ID, limit, inboundWindow)
	if err != nil {
		s.log.Warn("Inbound rate limit check failed", "error", err)
		return true
	}
	return allowed
}

// join повторно проверяет доступ на сервере, что бы ни прислал клиент.
func (s *session) join(ctx context.Context, env realtime.Envelope) {
	ref, err := realtime.DecodeConversationRef(env)
	if err != nil {
		s.sendError(realtime.ErrorCodeInvalidPayload, err.Error())
		return
	}

	allowed, err := s.handler.access.CanAccess(ctx, s.identity.UserID, ref.ConversationID)
	if err != nil {
		if apperrors.ReasonCode(err) == "storage_error" {
			s.log.Error("Access check failed", "error", err, "conversation_id", ref.ConversationID)
		}
		s.send(realtime.MustEnvelope(realtime.EventJoinedConversation, realtime.JoinedPayload{
			ConversationID: ref.ConversationID,
			Error:          apperrors.ReasonCode(err),
		}))
		return
	}
	if !allowed {
		s.send(realtime.MustEnvelope(realtime.EventJoinedConversation, realtime.JoinedPayload{
			ConversationID: ref.ConversationID,
			Error:          apperrors.ReasonCode(apperrors.ErrAccessDenied),
		}))
		return
	}

	s.handler.hub.Registry().Join(s.connection.ID, ref.ConversationID)
	s.log.Debug("Joined conversation", "conversation_id", ref.ConversationID)
	s.send(realtime.MustEnvelope(realtime.EventJoinedConversation, realtime.JoinedPayload{
		ConversationID: ref.ConversationID,
		OK:             true,
	}))
}

func (s *session) leave(env realtime.Envelope) {
	ref, err := realtime.DecodeConversationRef(env)
	if err != nil {
		s.sendError(realtime.ErrorCodeInvalidPayload, err.Error())
		return
	}

	s.handler.hub.Registry().Leave(s.connection.ID, ref.ConversationID)
	s.send(realtime.MustEnvelope(realtime.EventLeftConversation, ref))
}

func (s *session) chatInit(ctx context.Context, env realtime.Envelope) {
	ref, err := realtime.DecodeConversationRef(env)
	if err != nil {
		s.sendError(realtime.ErrorCodeInvalidPayload, err.Error())
		return
	}

	if _, _, err := s.handler.messages.InitChat(ctx, ref.ConversationID, s.identity.UserID); err != nil {
		s.sendServiceError(err)
	}
}

func (s *session) markRead(ctx context.Context, env realtime.Envelope) {
	ref, err := realtime.DecodeConversationRef(env)
	if err != nil {
		s.sendError(realtime.ErrorCodeInvalidPayload, err.Error())
		return
	}

	if err := s.handler.messages.MarkRead(ctx, ref.ConversationID, s.identity.UserID); err != nil {
		s.sendServiceError(err)
	}
}
