// Package token 负责校验外部身份提供方签发的会话 token。
// 核心只关心 token 中稳定、不透明的用户标识（sub），从不接触用户凭据。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSubject 表示 token 有效但没有携带用户标识。
var ErrMissingSubject = errors.New("token has no subject")

// JWTManager 负责 JWT 的校验（以及用于开发和测试的签发）。
type JWTManager struct {
	secretKey []byte // secretKey 用于签名和验证 token 的密钥
	issuer    string // issuer 非空时要求 token 的 iss 与之一致
}

// Claims 是会话 token 中我们关心的声明，用户标识放在 RegisteredClaims.Subject。
type Claims struct {
	jwt.RegisteredClaims
}

// UserID 返回 token 对应的用户标识。
func (c *Claims) UserID() string {
	return c.Subject
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secret),
		issuer:    issuer,
	}
}

// GenerateToken 为给定用户签发一个 token，主要用于本地开发和测试。
func (m *JWTManager) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串。
// 签名不匹配、已过期、签发方不符或缺少 sub 时返回错误。
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
