package middleware

import (
	"math"
	"net/http"
	"persona-chat-go/pkg/log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
)

// RateLimiter 是基于 Redis 的 GCRA 限流器。
// 已认证的请求按用户标识计数，否则按客户端 IP 计数。
type RateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRateLimiter 创建一个新的 RateLimiter。
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Limit 返回一个中间件：每个调用方在 window 内最多 limit 次请求。limit <= 0 时不限制。
func (l *RateLimiter) Limit(name string, limit int, window time.Duration) gin.HandlerFunc {
	rate := redis_rate.Limit{Rate: limit, Burst: limit, Period: window}
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		caller := UserID(c)
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}

		res, err := l.limiter.Allow(c.Request.Context(), name+":"+caller, rate)
		if err != nil {
			// Redis 不可用时放行
			log.Warnw("rate limiter unavailable", "name", name, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed == 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "message": "Rate limit exceeded", "data": nil})
			return
		}
		c.Next()
	}
}
