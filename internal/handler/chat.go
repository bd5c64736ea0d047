package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/service"
	"consultation_chat/pkg/logger"
)

type ChatHandler struct {
	messageService service.MessageService
	log            logger.Logger
}

func NewChatHandler(messageService service.MessageService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		messageService: messageService,
		log:            log,
	}
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "id", "conversation")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultListLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.messageService.List(c.Request.Context(), conversationID, identity.UserID, limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type SendMessageRequest struct {
	Body        string              `json:"body"`
	Attachments []domain.Attachment `json:"attachments"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "id", "conversation")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_payload"})
		return
	}

	message, err := h.messageService.Send(c.Request.Context(), conversationID, identity.UserID, req.Body, req.Attachments)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

type EditMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID", "code": "invalid_payload"})
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_payload"})
		return
	}

	message, err := h.messageService.Edit(c.Request.Context(), messageID, identity.UserID, req.Body)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID", "code": "invalid_payload"})
		return
	}

	message, err := h.messageService.SoftDelete(c.Request.Context(), messageID, identity.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "id", "conversation")
	if !ok {
		return
	}

	if err := h.messageService.MarkRead(c.Request.Context(), conversationID, identity.UserID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) UnreadCount(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "id", "conversation")
	if !ok {
		return
	}

	count, err := h.messageService.UnreadCount(c.Request.Context(), conversationID, identity.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "unread": count})
}
