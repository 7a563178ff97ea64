package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/storage"
)

// 存储与推理后端取值
const (
	StorageS3    = "s3"
	StorageLocal = "local"

	SuggestionReplicate = "replicate"
	SuggestionArk       = "ark"
)

// 推理模型默认值
const (
	DefaultTranscriptionModel = "vaibhavs10/incredibly-fast-whisper:3ab86df6c8f54c11309d4d1f930ac292bad43ace52d10c80d87eb258b3c9f79c"
	DefaultSuggestionModel    = "mistralai/mistral-7b-instruct-v0.2"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Inference InferenceConfig
	AI        AIConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	inference, err := loadInferenceConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Storage:   storage,
		Inference: inference,
		AI:        ai,
		Log:       loadLogConfig(),
	}, nil
}

// Validate 检查所选后端所需的凭证是否齐全。
func (c *Config) Validate() error {
	const op = "config.validate"

	var problems []string
	switch c.Storage.Backend {
	case StorageS3:
		if c.Storage.Bucket == "" {
			problems = append(problems, "S3_BUCKET_NAME is required")
		}
		if c.Storage.Region == "" {
			problems = append(problems, "AWS_REGION is required")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			problems = append(problems, "AWS_ACCESS_KEY and AWS_SECRET_KEY are required")
		}
		// S3 rejects multipart parts below MinPartSize except the last one.
		if c.Storage.ChunkSize != 0 && c.Storage.ChunkSize < storage.MinPartSize {
			problems = append(problems, fmt.Sprintf("UPLOAD_CHUNK_SIZE must be at least %d bytes for s3", storage.MinPartSize))
		}
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			problems = append(problems, "LOCAL_STORAGE_DIR is required")
		}
		if c.Storage.ChunkSize < 0 {
			problems = append(problems, "UPLOAD_CHUNK_SIZE must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}

	if c.Inference.ReplicateToken == "" {
		problems = append(problems, "REPLICATE_API_TOKEN is required")
	}
	switch c.Inference.SuggestionBackend {
	case SuggestionReplicate:
	case SuggestionArk:
		if !c.AI.Enabled() {
			problems = append(problems, "SUGGESTION_BACKEND=ark needs ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and Model")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported SUGGESTION_BACKEND %q", c.Inference.SuggestionBackend))
	}

	if len(problems) > 0 {
		return apperr.E(apperr.KindConfig, op, errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, apperr.Ef(apperr.KindConfig, "config.server", "invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StorageConfig 描述音频存储配置。
type StorageConfig struct {
	Backend            string
	Bucket             string
	Region             string
	AccessKey          string
	SecretKey          string
	SessionToken       string
	Endpoint           string
	UsePathStyle       bool
	PresignTTL         time.Duration
	ChunkSize          int
	LocalDir           string
	LocalPublicBaseURL string
}

func loadStorageConfig() (StorageConfig, error) {
	const op = "config.storage"

	pathStyle, err := parseBoolEnv("S3_USE_PATH_STYLE", false)
	if err != nil {
		return StorageConfig{}, apperr.E(apperr.KindConfig, op, err)
	}

	presignTTL, err := parseDurationEnv("S3_PRESIGN_TTL", 0)
	if err != nil {
		return StorageConfig{}, apperr.E(apperr.KindConfig, op, err)
	}

	chunkSize := 0
	if override, err := parseOptionalIntEnv("UPLOAD_CHUNK_SIZE"); err != nil {
		return StorageConfig{}, apperr.E(apperr.KindConfig, op, err)
	} else if override != nil {
		chunkSize = *override
	}

	return StorageConfig{
		Backend:            strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageS3)),
		Bucket:             strings.TrimSpace(os.Getenv("S3_BUCKET_NAME")),
		Region:             strings.TrimSpace(os.Getenv("AWS_REGION")),
		AccessKey:          firstEnv("AWS_ACCESS_KEY", "AWS_ACCESS_KEY_ID"),
		SecretKey:          firstEnv("AWS_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"),
		SessionToken:       strings.TrimSpace(os.Getenv("AWS_SESSION_TOKEN")),
		Endpoint:           strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		UsePathStyle:       pathStyle,
		PresignTTL:         presignTTL,
		ChunkSize:          chunkSize,
		LocalDir:           getEnvOrDefault("LOCAL_STORAGE_DIR", "data/blobs"),
		LocalPublicBaseURL: strings.TrimSpace(os.Getenv("LOCAL_PUBLIC_BASE_URL")),
	}, nil
}

// InferenceConfig 描述推理服务配置。
type InferenceConfig struct {
	ReplicateToken     string
	ReplicateBaseURL   string
	TranscriptionModel string
	SuggestionModel    string
	SuggestionBackend  string
	TranscribeTimeout  time.Duration
	SuggestTimeout     time.Duration
	SuggestMaxBytes    int
}

func loadInferenceConfig() (InferenceConfig, error) {
	const op = "config.inference"

	transcribeTimeout, err := parseDurationEnv("TRANSCRIBE_TIMEOUT", 120*time.Second)
	if err != nil {
		return InferenceConfig{}, apperr.E(apperr.KindConfig, op, err)
	}

	suggestTimeout, err := parseDurationEnv("SUGGEST_TIMEOUT", 120*time.Second)
	if err != nil {
		return InferenceConfig{}, apperr.E(apperr.KindConfig, op, err)
	}

	maxBytes := 64 << 10
	if override, err := parseOptionalIntEnv("SUGGEST_MAX_BYTES"); err != nil {
		return InferenceConfig{}, apperr.E(apperr.KindConfig, op, err)
	} else if override != nil && *override > 0 {
		maxBytes = *override
	}

	return InferenceConfig{
		ReplicateToken:     strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBaseURL:   strings.TrimSpace(os.Getenv("REPLICATE_BASE_URL")),
		TranscriptionModel: getEnvOrDefault("TRANSCRIPTION_MODEL", DefaultTranscriptionModel),
		SuggestionModel:    getEnvOrDefault("SUGGESTION_MODEL", DefaultSuggestionModel),
		SuggestionBackend:  strings.ToLower(getEnvOrDefault("SUGGESTION_BACKEND", SuggestionReplicate)),
		TranscribeTimeout:  transcribeTimeout,
		SuggestTimeout:     suggestTimeout,
		SuggestMaxBytes:    maxBytes,
	}, nil
}

// AIConfig 描述 Ark 大模型配置，SUGGESTION_BACKEND=ark 时使用。
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
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, apperr.Ef(apperr.KindConfig, "config.ai", "Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	const op = "config.ai"

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, apperr.E(apperr.KindConfig, op, err)
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, apperr.E(apperr.KindConfig, op, err)
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, apperr.E(apperr.KindConfig, op, err)
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
	}, nil
}

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// firstEnv 返回第一个非空的环境变量
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 "90s" 这类时长，也接受纯数字秒数
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
