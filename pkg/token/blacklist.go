package token

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const blacklistPrefix = "blacklist:"

// Blacklist 记录已注销但尚未过期的 token。
type Blacklist struct {
	rdb *redis.Client
}

// NewBlacklist 创建一个基于 Redis 的 token 黑名单。
func NewBlacklist(rdb *redis.Client) *Blacklist {
	return &Blacklist{rdb: rdb}
}

// Revoke 将 token 加入黑名单直到 expiresAt。已过期的 token 无需记录。
func (b *Blacklist) Revoke(ctx context.Context, tokenString string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, blacklistPrefix+tokenString, "true", ttl).Err()
}

// IsRevoked 判断 token 是否已被注销。
func (b *Blacklist) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	err := b.rdb.Get(ctx, blacklistPrefix+tokenString).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
