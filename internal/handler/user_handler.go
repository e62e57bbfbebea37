package handler

import (
	"net/http"
	"persona-chat-go/internal/middleware"
	"persona-chat-go/internal/service"
	"persona-chat-go/pkg/log"
	"persona-chat-go/pkg/token"
	"time"

	"github.com/gin-gonic/gin"
)

// 没有 exp 的 token 注销后在黑名单中保留的时间。
const defaultRevokeTTL = 24 * time.Hour

// UserHandler 负责处理用户数据、用量与注销相关的 API 请求。
type UserHandler struct {
	userService  service.UserService
	usageService service.UsageService
	blacklist    *token.Blacklist
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService, usageService service.UsageService, blacklist *token.Blacklist) *UserHandler {
	return &UserHandler{userService: userService, usageService: usageService, blacklist: blacklist}
}

// DeleteData 清除对话、摘要与分析记录，保留账户。
func (h *UserHandler) DeleteData(c *gin.Context) {
	if err := h.userService.DeleteData(c.Request.Context(), middleware.UserID(c)); err != nil {
		respondServiceError(c, "DeleteData", err)
		return
	}
	respondOK(c, gin.H{"status": "User data deleted"})
}

// DeleteUser 删除账户及全部数据。
func (h *UserHandler) DeleteUser(c *gin.Context) {
	if err := h.userService.DeleteUser(c.Request.Context(), middleware.UserID(c)); err != nil {
		respondServiceError(c, "DeleteUser", err)
		return
	}
	respondOK(c, gin.H{"status": "User deleted"})
}

// GetUsage 返回用户的档位与 token 计数。
func (h *UserHandler) GetUsage(c *gin.Context) {
	usage, err := h.usageService.GetUsage(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "GetUsage", err)
		return
	}
	respondOK(c, usage)
}

// Logout 把当前 token 加入黑名单直到其过期。
func (h *UserHandler) Logout(c *gin.Context) {
	v, _ := c.Get(middleware.ContextClaimsKey)
	claims, ok := v.(*token.Claims)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	expiresAt := time.Now().Add(defaultRevokeTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := h.blacklist.Revoke(c.Request.Context(), c.GetString(middleware.ContextTokenKey), expiresAt); err != nil {
		respondServiceError(c, "Logout", err)
		return
	}
	log.Infow("user logged out", "userID", claims.UserID())
	respondOK(c, gin.H{"status": "Logged out"})
}
