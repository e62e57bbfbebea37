// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"persona-chat-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 对话内容属于敏感数据，请求体与响应体都不记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"userID", UserID(c),
			"responseSize", c.Writer.Size(),
		)
	}
}
