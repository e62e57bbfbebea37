// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Usage     UsageConfig     `mapstructure:"usage"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储认证 token 校验相关的配置。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// AnalysisTopic 承载后台分析任务，PaymentTopic 承载支付方已验签的充值事件。
type KafkaConfig struct {
	Brokers       string `mapstructure:"brokers"`
	AnalysisTopic string `mapstructure:"analysis_topic"`
	PaymentTopic  string `mapstructure:"payment_topic"`
	GroupID       string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用于用户数据导出。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// CryptoConfig 存储字段级加密的密钥（base64 编码的 32 字节）。
type CryptoConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string          `mapstructure:"api_key"`
	BaseURL        string          `mapstructure:"base_url"`
	APIVersion     string          `mapstructure:"api_version"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	MaxRetries     int             `mapstructure:"max_retries"`
	Models         LLMModelsConfig `mapstructure:"models"`
	MaxTokens      LLMTokensConfig `mapstructure:"max_tokens"`
}

// LLMModelsConfig 按用途区分模型。
type LLMModelsConfig struct {
	Chat     string `mapstructure:"chat"`
	Analysis string `mapstructure:"analysis"`
}

// LLMTokensConfig 按用途区分单次调用的最大输出 token。
type LLMTokensConfig struct {
	Chat     int `mapstructure:"chat"`
	Analysis int `mapstructure:"analysis"`
}

// PromptsConfig 存储固定的指令前言。
type PromptsConfig struct {
	Chat       string `mapstructure:"chat"`
	BigFive    string `mapstructure:"big_five"`
	Attachment string `mapstructure:"attachment"`
	Summary    string `mapstructure:"summary"`
	Fallback   string `mapstructure:"fallback"`
}

// ChatConfig 控制上下文窗口与分析触发。
type ChatConfig struct {
	MaxContext           int `mapstructure:"max_context"`
	AnalysisEvery        int `mapstructure:"analysis_every"`
	MinAnalysisTurns     int `mapstructure:"min_analysis_turns"`
	AnalysisHistoryLimit int `mapstructure:"analysis_history_limit"`
}

// UsageConfig 存储各档位的额度与重置节奏。
type UsageConfig struct {
	Free TierConfig `mapstructure:"free"`
	Paid TierConfig `mapstructure:"paid"`
}

// TierConfig 描述单个档位。ResetDays 仅对 free 档生效，paid 档按自然日重置。
type TierConfig struct {
	Grant     int `mapstructure:"grant"`
	Cap       int `mapstructure:"cap"`
	ResetDays int `mapstructure:"reset_days"`
}

// CORSConfig 存储跨域配置。
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig 存储请求频率上限。为 0 表示不限制。
type RateLimitConfig struct {
	DefaultPerDay   int `mapstructure:"default_per_day"`
	DefaultPerHour  int `mapstructure:"default_per_hour"`
	ChatPerMinute   int `mapstructure:"chat_per_minute"`
	ReadPerMinute   int `mapstructure:"read_per_minute"`
	AnalysisPerHour int `mapstructure:"analysis_per_hour"`
	DeletePerHour   int `mapstructure:"delete_per_hour"`
}

// SetDefaults 注册所有配置项的默认值。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.analysis_topic", "persona-analysis")
	v.SetDefault("kafka.payment_topic", "persona-payments")
	v.SetDefault("kafka.group_id", "persona-chat-go-consumer")
	v.SetDefault("minio.bucket_name", "persona-exports")
	v.SetDefault("llm.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("llm.api_version", "2023-06-01")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.max_retries", 1)
	v.SetDefault("llm.models.chat", "claude-sonnet-4-20250514")
	v.SetDefault("llm.models.analysis", "claude-3-5-haiku-20241022")
	v.SetDefault("llm.max_tokens.chat", 1024)
	v.SetDefault("llm.max_tokens.analysis", 500)
	v.SetDefault("prompts.fallback", "Sorry, I couldn't generate a response right now.")
	v.SetDefault("chat.max_context", 20)
	v.SetDefault("chat.analysis_every", 5)
	v.SetDefault("chat.min_analysis_turns", 3)
	v.SetDefault("chat.analysis_history_limit", 30)
	v.SetDefault("usage.free.grant", 10000)
	v.SetDefault("usage.free.cap", 10000)
	v.SetDefault("usage.free.reset_days", 30)
	v.SetDefault("usage.paid.grant", 100000)
	v.SetDefault("usage.paid.cap", 100000)
	v.SetDefault("rate_limit.default_per_day", 200)
	v.SetDefault("rate_limit.default_per_hour", 50)
	v.SetDefault("rate_limit.chat_per_minute", 10)
	v.SetDefault("rate_limit.read_per_minute", 30)
	v.SetDefault("rate_limit.analysis_per_hour", 5)
	v.SetDefault("rate_limit.delete_per_hour", 3)
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量可以覆盖文件中的值，例如 LLM_API_KEY 覆盖 llm.api_key。
func Init(configPath string) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
