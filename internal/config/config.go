package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	Avatar        AvatarConfig
	Transcription TranscriptionConfig
	Chat          ChatConfig
	Credentials   CredentialConfig
	AI            AIConfig
	Log           LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	avatar, err := loadAvatarConfig()
	if err != nil {
		return nil, err
	}

	transcription, err := loadTranscriptionConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	credentials, err := loadCredentialConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		Avatar:        avatar,
		Transcription: transcription,
		Chat:          chat,
		Credentials:   credentials,
		AI:            ai,
		Log:           loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// splitList 解析逗号分隔的列表，忽略空项。
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AvatarConfig 描述数字人服务（HeyGen streaming）相关配置。
// 密钥只保存在服务端：要么直接来自 HEYGEN_API_KEY，要么来自 SSM 参数。
type AvatarConfig struct {
	BaseURL     string
	APIKey      string
	APIKeyParam string
	Quality     avatarmodel.Quality
	Language    string
	Timeout     time.Duration
}

// Enabled 表示是否提供了获取服务端密钥的途径。
func (c AvatarConfig) Enabled() bool {
	return c.APIKey != "" || c.APIKeyParam != ""
}

// TranscriptionConfig 描述语音转写服务配置。访客的 API Key 按访客保存，不在这里配置。
type TranscriptionConfig struct {
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// ChatConfig 描述聊天记录中占位回复的延迟。
type ChatConfig struct {
	TextReplyDelay  time.Duration
	VoiceReplyDelay time.Duration
}

// CredentialConfig 描述访客凭证存储。
type CredentialConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// AIConfig 描述大模型相关配置，用于生成聊天记录中的助手回复。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}
	if c.Timeout > 0 {
		timeout := c.Timeout
		cfg.Timeout = &timeout
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAvatarConfig() (AvatarConfig, error) {
	quality := avatarmodel.QualityHigh
	if raw := strings.TrimSpace(os.Getenv("AVATAR_QUALITY")); raw != "" {
		parsed, ok := avatarmodel.ParseQuality(raw)
		if !ok {
			return AvatarConfig{}, fmt.Errorf("invalid AVATAR_QUALITY value %q", raw)
		}
		quality = parsed
	}

	timeout, err := parseDurationEnv("AVATAR_TIMEOUT", 30*time.Second)
	if err != nil {
		return AvatarConfig{}, err
	}

	return AvatarConfig{
		BaseURL:     getEnvOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com"),
		APIKey:      strings.TrimSpace(os.Getenv("HEYGEN_API_KEY")),
		APIKeyParam: strings.TrimSpace(os.Getenv("HEYGEN_API_KEY_PARAM")),
		Quality:     quality,
		Language:    getEnvOrDefault("AVATAR_LANGUAGE", "en"),
		Timeout:     timeout,
	}, nil
}

func loadTranscriptionConfig() (TranscriptionConfig, error) {
	timeout, err := parseDurationEnv("TRANSCRIPTION_TIMEOUT", 60*time.Second)
	if err != nil {
		return TranscriptionConfig{}, err
	}

	return TranscriptionConfig{
		BaseURL:  getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:    getEnvOrDefault("TRANSCRIPTION_MODEL", "whisper-1"),
		Language: strings.TrimSpace(os.Getenv("TRANSCRIPTION_LANGUAGE")),
		Timeout:  timeout,
	}, nil
}

func loadChatConfig() (ChatConfig, error) {
	textDelay, err := parseDurationEnv("CHAT_REPLY_DELAY", 1500*time.Millisecond)
	if err != nil {
		return ChatConfig{}, err
	}

	voiceDelay, err := parseDurationEnv("CHAT_VOICE_REPLY_DELAY", time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{TextReplyDelay: textDelay, VoiceReplyDelay: voiceDelay}, nil
}

func loadCredentialConfig() (CredentialConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("CREDENTIAL_STORE", "memory"))
	if driver != "memory" && driver != "redis" {
		return CredentialConfig{}, fmt.Errorf("invalid CREDENTIAL_STORE value %q", driver)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return CredentialConfig{}, err
	} else if override != nil {
		db = *override
	}

	ttl, err := parseDurationEnv("CREDENTIAL_TTL", 24*time.Hour)
	if err != nil {
		return CredentialConfig{}, err
	}

	return CredentialConfig{
		Driver:        driver,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		TTL:           ttl,
	}, nil
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("ARK_TIMEOUT", 20*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}, nil
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 兼容纯数字写法，按秒处理。
	var val time.Duration
	if seconds, err := strconv.Atoi(raw); err == nil {
		val = time.Duration(seconds) * time.Second
	} else if val, err = time.ParseDuration(raw); err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
