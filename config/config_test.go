package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	cfg := Load()

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, time.Hour, cfg.Auth.Timeout)
	assert.Equal(t, "secret", cfg.Contact.SessionSecret)
	assert.Equal(t, 24*time.Hour, cfg.Contact.SessionTTL)
	assert.False(t, cfg.Minio.Enabled())
	assert.Equal(t, "knowledge:ingest", cfg.Knowledge.QueueKey)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("LLM_BASE_URL", "https://llm.example/v1/")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "ak")
	t.Setenv("MINIO_SECRET_KEY", "sk")

	cfg := Load()

	assert.Equal(t, "9000", cfg.App.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.AllowedOrigins)
	assert.Equal(t, "llm-key", cfg.Embedding.APIKey)
	assert.Equal(t, "https://llm.example/v1", cfg.Embedding.BaseURL)
	assert.True(t, cfg.Minio.Enabled())
}
