// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"errors"
	"net/http"
	"persona-chat-go/pkg/log"
	"persona-chat-go/pkg/token"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextUserIDKey 是认证后用户标识在 gin.Context 中的键。
	ContextUserIDKey = "userID"
	// ContextClaimsKey 是 token 声明在 gin.Context 中的键。
	ContextClaimsKey = "claims"
	// ContextTokenKey 是原始 token 在 gin.Context 中的键。
	ContextTokenKey = "token"
)

// ErrTokenRevoked 表示 token 已被注销。
var ErrTokenRevoked = errors.New("token has been revoked")

// Authenticator 把 token 解析为稳定的用户标识。
type Authenticator struct {
	jwtManager *token.JWTManager
	blacklist  *token.Blacklist
}

// NewAuthenticator 创建一个 Authenticator。blacklist 可以为 nil。
func NewAuthenticator(jwtManager *token.JWTManager, blacklist *token.Blacklist) *Authenticator {
	return &Authenticator{jwtManager: jwtManager, blacklist: blacklist}
}

// Authenticate 校验 token 并返回其声明。
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*token.Claims, error) {
	claims, err := a.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if a.blacklist != nil {
		revoked, err := a.blacklist.IsRevoked(ctx, tokenString)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将用户标识存入 Gin 的上下文中。
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortUnauthorized(c)
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))

		claims, err := auth.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			log.Debugf("token rejected: %v", err)
			abortUnauthorized(c)
			return
		}

		c.Set(ContextUserIDKey, claims.UserID())
		c.Set(ContextClaimsKey, claims)
		c.Set(ContextTokenKey, tokenString)
		c.Next()
	}
}

// UserID 返回 AuthMiddleware 写入的用户标识。
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "Unauthorized", "data": nil})
}
