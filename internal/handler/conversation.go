package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consultation_chat/internal/service"
	"consultation_chat/pkg/logger"
)

type ConversationHandler struct {
	conversationService service.ConversationService
	log                 logger.Logger
}

func NewConversationHandler(conversationService service.ConversationService, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		log:                 log,
	}
}

func (h *ConversationHandler) Get(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "id", "conversation")
	if !ok {
		return
	}

	conv, err := h.conversationService.Get(c.Request.Context(), conversationID, identity.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"open":         conv.IsOpen(),
	})
}

type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *ConversationHandler) ChangeStatus(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "id", "conversation")
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_payload"})
		return
	}

	conv, err := h.conversationService.ChangeStatus(c.Request.Context(), conversationID, *identity, req.Status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"open":         conv.IsOpen(),
	})
}
