package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"persona-chat-go/internal/middleware"
	"persona-chat-go/internal/service"
	"persona-chat-go/pkg/log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 来源由 CORS 中间件控制
		},
	}
)

// ChatRequest 定义了聊天 API 的请求体结构。
type ChatRequest struct {
	Message *string `json:"message" binding:"required"`
}

// wsFrame 是 WebSocket 回复帧。
type wsFrame struct {
	Type     string `json:"type"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ChatHandler 负责处理 HTTP 与 WebSocket 两种聊天入口。
type ChatHandler struct {
	chatService service.ChatService
	auth        *middleware.Authenticator
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, auth *middleware.Authenticator) *ChatHandler {
	return &ChatHandler{chatService: chatService, auth: auth}
}

// PostChat 处理一轮聊天请求。
func (h *ChatHandler) PostChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "No message provided")
		return
	}
	reply, err := h.chatService.Send(c.Request.Context(), middleware.UserID(c), *req.Message)
	if err != nil {
		respondServiceError(c, "PostChat", err)
		return
	}
	respondOK(c, gin.H{"response": reply.Response})
}

// Handle 处理一个传入的 WebSocket 连接，每个文本帧是一轮对话。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.auth.Authenticate(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	userID := claims.UserID()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", userID)

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame := wsFrame{Type: "response"}
		reply, err := h.chatService.Send(c.Request.Context(), userID, frameText(message))
		if err != nil {
			frame = wsFrame{Type: "error", Error: wsErrorMessage(err)}
		} else {
			frame.Response = reply.Response
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warnf("写入 WebSocket 消息失败: %v", err)
			break
		}
	}
}

// frameText 支持纯文本帧与 {"message": "..."} 两种格式。
func frameText(message []byte) string {
	text := strings.TrimSpace(string(message))
	if strings.HasPrefix(text, "{") {
		var req struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(text), &req); err == nil {
			return req.Message
		}
	}
	return text
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		return "Token limit reached"
	case errors.Is(err, service.ErrEmptyMessage):
		return "Message cannot be empty"
	default:
		log.Errorw("websocket chat turn failed", "error", err)
		return "Internal server error"
	}
}
