package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"persona-chat-go/pkg/token"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func serve(r *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	rdb, _ := newTestRedis(t)
	jwtManager := token.NewJWTManager("secret", "persona")
	blacklist := token.NewBlacklist(rdb)

	r := gin.New()
	r.Use(AuthMiddleware(NewAuthenticator(jwtManager, blacklist)))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	good, err := jwtManager.GenerateToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	other, _ := token.NewJWTManager("other-secret", "persona").GenerateToken("user-1", time.Hour)

	if w := serve(r, http.MethodGet, "/me", good); w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Fatalf("valid token: %d %s", w.Code, w.Body.String())
	}
	for name, tok := range map[string]string{"missing": "", "bad signature": other, "garbage": "abc"} {
		if w := serve(r, http.MethodGet, "/me", tok); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: status %d, want 401", name, w.Code)
		}
	}

	if err := blacklist.Revoke(context.Background(), good, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if w := serve(r, http.MethodGet, "/me", good); w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: status %d, want 401", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rdb, mr := newTestRedis(t)
	limiter := NewRateLimiter(rdb)
	now := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)
	mr.SetTime(now)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(ContextUserIDKey, id)
		}
		c.Next()
	})
	r.GET("/chat", limiter.Limit("chat", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		req.Header.Set("X-Test-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("alice"); code != http.StatusOK {
			t.Fatalf("request %d: %d, want 200", i+1, code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("X-Test-User", "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("third request: %d retry-after=%q, want 429", w.Code, w.Header().Get("Retry-After"))
	}
	if code := do("bob"); code != http.StatusOK {
		t.Fatalf("other user limited: %d", code)
	}

	// 一个周期后额度恢复
	mr.SetTime(now.Add(time.Minute))
	if code := do("alice"); code != http.StatusOK {
		t.Fatalf("next window: %d, want 200", code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rdb, _ := newTestRedis(t)
	limiter := NewRateLimiter(rdb)
	r := gin.New()
	r.GET("/x", limiter.Limit("x", 0, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		if w := serve(r, http.MethodGet, "/x", ""); w.Code != http.StatusOK {
			t.Fatalf("status %d with limit disabled", w.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.POST("/api/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("preflight = %d %v", w.Code, w.Header())
	}
}
