package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/scribe/backend/internal/apperr"
	"github.com/zhouzirui/scribe/backend/internal/storage"
)

var configKeys = []string{
	"PORT", "STORAGE_BACKEND", "S3_BUCKET_NAME", "AWS_REGION",
	"AWS_ACCESS_KEY", "AWS_ACCESS_KEY_ID", "AWS_SECRET_KEY", "AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN", "S3_ENDPOINT", "S3_USE_PATH_STYLE", "S3_PRESIGN_TTL",
	"UPLOAD_CHUNK_SIZE", "LOCAL_STORAGE_DIR", "LOCAL_PUBLIC_BASE_URL",
	"REPLICATE_API_TOKEN", "REPLICATE_BASE_URL", "TRANSCRIPTION_MODEL", "SUGGESTION_MODEL",
	"SUGGESTION_BACKEND", "TRANSCRIBE_TIMEOUT", "SUGGEST_TIMEOUT", "SUGGEST_MAX_BYTES",
	"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model", "ARK_TEMPERATURE",
	"ARK_TOP_P", "ARK_MAX_TOKENS", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, StorageS3, cfg.Storage.Backend)
	assert.Equal(t, "data/blobs", cfg.Storage.LocalDir)
	assert.Zero(t, cfg.Storage.ChunkSize)
	assert.Equal(t, DefaultTranscriptionModel, cfg.Inference.TranscriptionModel)
	assert.Equal(t, DefaultSuggestionModel, cfg.Inference.SuggestionModel)
	assert.Equal(t, SuggestionReplicate, cfg.Inference.SuggestionBackend)
	assert.Equal(t, 120*time.Second, cfg.Inference.TranscribeTimeout)
	assert.Equal(t, 120*time.Second, cfg.Inference.SuggestTimeout)
	assert.Equal(t, 64<<10, cfg.Inference.SuggestMaxBytes)
	assert.Equal(t, LogConfig{Level: "info", Format: "text"}, cfg.Log)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_KEY", "secret")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("S3_PRESIGN_TTL", "15m")
	t.Setenv("UPLOAD_CHUNK_SIZE", "6291456")
	t.Setenv("TRANSCRIBE_TIMEOUT", "30")
	t.Setenv("SUGGEST_TIMEOUT", "45s")
	t.Setenv("SUGGEST_MAX_BYTES", "1024")
	t.Setenv("SUGGESTION_BACKEND", "ARK")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "AKIA", cfg.Storage.AccessKey)
	assert.Equal(t, "secret", cfg.Storage.SecretKey)
	assert.True(t, cfg.Storage.UsePathStyle)
	assert.Equal(t, 15*time.Minute, cfg.Storage.PresignTTL)
	assert.Equal(t, 6<<20, cfg.Storage.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Inference.TranscribeTimeout)
	assert.Equal(t, 45*time.Second, cfg.Inference.SuggestTimeout)
	assert.Equal(t, 1024, cfg.Inference.SuggestMaxBytes)
	assert.Equal(t, SuggestionArk, cfg.Inference.SuggestionBackend)
}

func TestLoadInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":               "80 80",
		"S3_USE_PATH_STYLE":  "maybe",
		"TRANSCRIBE_TIMEOUT": "soon",
		"SUGGEST_MAX_BYTES":  "lots",
		"ARK_TOP_P":          "high",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindConfig), "got %v", err)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:   StorageS3,
			Bucket:    "recordings",
			Region:    "us-east-1",
			AccessKey: "AKIA",
			SecretKey: "secret",
		},
		Inference: InferenceConfig{
			ReplicateToken:    "r8_token",
			SuggestionBackend: SuggestionReplicate,
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"missing bucket":      func(c *Config) { c.Storage.Bucket = "" },
		"missing credentials": func(c *Config) { c.Storage.SecretKey = "" },
		"missing token":       func(c *Config) { c.Inference.ReplicateToken = "" },
		"unknown storage":     func(c *Config) { c.Storage.Backend = "gcs" },
		"ark without keys":    func(c *Config) { c.Inference.SuggestionBackend = SuggestionArk },
		"unknown suggestion":  func(c *Config) { c.Inference.SuggestionBackend = "openai" },
		"s3 chunk too small":  func(c *Config) { c.Storage.ChunkSize = 8 << 10 },
		"negative s3 chunk":   func(c *Config) { c.Storage.ChunkSize = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindConfig))
		})
	}
}

func TestValidateLocalBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = StorageConfig{Backend: StorageLocal, LocalDir: "/tmp/blobs"}
	assert.NoError(t, cfg.Validate())

	cfg.Inference.SuggestionBackend = SuggestionArk
	cfg.AI = AIConfig{APIKey: "ark-key", Model: "ep-123"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateChunkSize(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.ChunkSize = storage.MinPartSize
	assert.NoError(t, cfg.Validate())

	cfg.Storage.ChunkSize = storage.MinPartSize - 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPLOAD_CHUNK_SIZE")

	cfg.Storage = StorageConfig{Backend: StorageLocal, LocalDir: "/tmp/blobs", ChunkSize: 8 << 10}
	assert.NoError(t, cfg.Validate())
}
