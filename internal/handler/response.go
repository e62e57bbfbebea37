// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"persona-chat-go/internal/service"
	"persona-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    nil,
	})
}

// respondServiceError 把业务错误映射为 HTTP 状态码。未知错误按存储失败处理。
func respondServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		respondError(c, http.StatusTooManyRequests, "Token limit reached")
	case errors.Is(err, service.ErrNotEnoughData), errors.Is(err, service.ErrAnalysisFailed):
		respondError(c, http.StatusBadRequest, "Not enough conversation data")
	case errors.Is(err, service.ErrEmptyMessage):
		respondError(c, http.StatusBadRequest, "Message cannot be empty")
	default:
		log.Errorw(op+" failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "Internal server error")
	}
}

// Health 处理健康检查请求。
func Health(c *gin.Context) {
	respondOK(c, gin.H{"status": "OK"})
}
