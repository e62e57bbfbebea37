package database

import (
	"context"
	"persona-chat-go/internal/config"
	"persona-chat-go/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// NewRedisClient 根据配置创建 Redis 客户端，不做连通性检查。
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// InitRedis 初始化 Redis 客户端连接
func InitRedis(cfg config.RedisConfig) {
	RDB = NewRedisClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infof("Redis client connected successfully, addr=%s", cfg.Addr)
}
