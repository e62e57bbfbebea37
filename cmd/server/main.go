// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"persona-chat-go/internal/cache"
	"persona-chat-go/internal/config"
	"persona-chat-go/internal/handler"
	"persona-chat-go/internal/middleware"
	"persona-chat-go/internal/pipeline"
	"persona-chat-go/internal/repository"
	"persona-chat-go/internal/service"
	"persona-chat-go/pkg/crypto"
	"persona-chat-go/pkg/database"
	"persona-chat-go/pkg/kafka"
	"persona-chat-go/pkg/llm"
	"persona-chat-go/pkg/log"
	"persona-chat-go/pkg/storage"
	"persona-chat-go/pkg/token"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis)
	store, err := storage.NewMinIOStore(context.Background(), cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	cipher, err := crypto.NewCipherFromBase64(cfg.Crypto.EncryptionKey)
	if err != nil {
		log.Fatal("加密密钥无效", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	contextRepo := repository.NewContextRepository(database.DB, cipher)
	analysisRepo := repository.NewAnalysisRepository(database.DB, cipher)
	summaryRepo := repository.NewSummaryRepository(database.DB, cipher)

	// 5. 初始化 Service (依赖注入)
	sessionCache := cache.NewSessionCache()
	chatLLM := llm.NewClient(cfg.LLM, cfg.LLM.Models.Chat)
	analysisLLM := llm.NewClient(cfg.LLM, cfg.LLM.Models.Analysis)
	analysisProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AnalysisTopic)
	defer analysisProducer.Close()

	usageService := service.NewUsageService(userRepo, sessionCache, cfg.Usage, nil)
	conversationService := service.NewConversationService(contextRepo, sessionCache, cfg.Chat.MaxContext)
	analysisService := service.NewAnalysisService(conversationService, analysisRepo, summaryRepo, usageService, analysisLLM, cfg.Prompts, cfg.Chat, cfg.LLM.MaxTokens.Analysis, nil)
	chatService := service.NewChatService(conversationService, usageService, chatLLM, analysisProducer, cfg.Prompts, cfg.Chat, cfg.LLM.MaxTokens.Chat)
	userService := service.NewUserService(userRepo, contextRepo, analysisRepo, summaryRepo, sessionCache, cfg.Usage, nil)
	exportService := service.NewExportService(conversationService, analysisRepo, summaryRepo, usageService, store, nil)

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	blacklist := token.NewBlacklist(database.RDB)
	authenticator := middleware.NewAuthenticator(jwtManager, blacklist)
	limiter := middleware.NewRateLimiter(database.RDB)

	// 6. 启动后台 Kafka 消费者
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	var consumers sync.WaitGroup
	for _, c := range []*kafka.Consumer{
		kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.AnalysisTopic, cfg.Kafka.GroupID, database.RDB, pipeline.NewAnalysisProcessor(analysisService)),
		kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, cfg.Kafka.GroupID, database.RDB, pipeline.NewPaymentProcessor(usageService, database.RDB)),
	} {
		consumers.Add(1)
		go func(c *kafka.Consumer) {
			defer consumers.Done()
			c.Run(consumerCtx)
		}(c)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS(cfg.CORS.AllowedOrigins))

	rl := cfg.RateLimit
	chatHandler := handler.NewChatHandler(chatService, authenticator)
	conversationHandler := handler.NewConversationHandler(conversationService)
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	userHandler := handler.NewUserHandler(userService, usageService, blacklist)
	exportHandler := handler.NewExportHandler(exportService)

	// 8. 注册路由
	r.GET("/health", handler.Health)
	r.GET("/chat/:token", limiter.Limit("chat", rl.ChatPerMinute, time.Minute), chatHandler.Handle)

	api := r.Group("/api")
	api.Use(
		middleware.AuthMiddleware(authenticator),
		limiter.Limit("default-day", rl.DefaultPerDay, 24*time.Hour),
		limiter.Limit("default-hour", rl.DefaultPerHour, time.Hour),
	)
	{
		read := limiter.Limit("read", rl.ReadPerMinute, time.Minute)
		del := limiter.Limit("delete", rl.DeletePerHour, time.Hour)

		api.POST("/chat", limiter.Limit("chat", rl.ChatPerMinute, time.Minute), chatHandler.PostChat)
		api.GET("/messages", read, conversationHandler.GetMessages)
		api.DELETE("/data", del, userHandler.DeleteData)
		api.DELETE("/messages", del, userHandler.DeleteData)
		api.GET("/analysis", read, analysisHandler.GetAnalysis)
		api.POST("/analyse", limiter.Limit("analysis", rl.AnalysisPerHour, time.Hour), analysisHandler.PostAnalyse)
		api.DELETE("/user", del, userHandler.DeleteUser)
		api.GET("/usage", read, userHandler.GetUsage)
		api.GET("/summary", read, analysisHandler.GetSummary)
		api.GET("/export", limiter.Limit("export", rl.DeletePerHour, time.Hour), exportHandler.Export)
		api.POST("/logout", userHandler.Logout)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者并等待正在处理的消息结束
	stopConsumers()
	consumers.Wait()
	log.Info("服务已优雅关闭")
}
