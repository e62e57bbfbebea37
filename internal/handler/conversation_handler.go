package handler

import (
	"persona-chat-go/internal/middleware"
	"persona-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetMessages 处理获取用户对话窗口的请求。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	history, err := h.service.LoadHistory(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "GetMessages", err)
		return
	}
	respondOK(c, gin.H{"messages": history})
}
