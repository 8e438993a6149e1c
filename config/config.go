package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 汇总服务启动所需的全部配置。
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Minio     MinioConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	SMTP      SMTPConfig
	Contact   ContactConfig
	Knowledge KnowledgeConfig
}

type AppConfig struct {
	Port           string
	BaseURL        string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type AuthConfig struct {
	JWTSecret      string
	Timeout        time.Duration
	MaxRefresh     time.Duration
	CaptchaEnabled bool
	InviteTTL      time.Duration

	BootstrapEmail    string
	BootstrapPassword string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// Enabled reports whether every value needed to reach MinIO is present.
func (m MinioConfig) Enabled() bool {
	return m.Endpoint != "" && m.AccessKey != "" && m.SecretKey != "" && m.Bucket != ""
}

type QdrantConfig struct {
	Addr      string
	APIKey    string
	VectorDim int
}

type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	ModelID     string
	CatalogFile string
	Timeout     time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether invitation emails can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

type ContactConfig struct {
	SessionSecret string
	SessionTTL    time.Duration
}

type KnowledgeConfig struct {
	URLPattern      string
	Workers         int
	FetchRate       float64
	ChunkMaxChars   int
	ChunkMinChars   int
	RefreshInterval time.Duration
	QueueKey        string
}

// Load 读取环境变量并填充默认值。
func Load() *Config {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")

	v.SetDefault("DATABASE_DRIVER", "")
	v.SetDefault("DATABASE_DSN", "municonsole.db")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TIMEOUT", "1h")
	v.SetDefault("JWT_MAX_REFRESH", "24h")
	v.SetDefault("AUTH_CAPTCHA_ENABLED", false)
	v.SetDefault("INVITATION_TTL", "168h")
	v.SetDefault("BOOTSTRAP_ADMIN_EMAIL", "")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "municonsole")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("MINIO_PUBLIC_URL", "")

	v.SetDefault("QDRANT_ADDR", "")
	v.SetDefault("QDRANT_API_KEY", "")
	v.SetDefault("QDRANT_VECTOR_DIM", 1024)

	v.SetDefault("EMBEDDING_BASE_URL", "")
	v.SetDefault("EMBEDDING_API_KEY", "")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("EMBEDDING_DIMENSIONS", 0)
	v.SetDefault("EMBEDDING_MAX_BATCH", 10)

	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_MODEL_ID", "gpt-4o-mini")
	v.SetDefault("LLM_MODEL_CATALOG_FILE", "")
	v.SetDefault("LLM_TIMEOUT", "60s")

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")

	v.SetDefault("CONTACT_SESSION_SECRET", "")
	v.SetDefault("CONTACT_SESSION_TTL", "24h")

	v.SetDefault("KNOWLEDGE_URL_PATTERN", `^https?://[^\s/$.?#].[^\s]*$`)
	v.SetDefault("KNOWLEDGE_WORKERS", 2)
	v.SetDefault("KNOWLEDGE_FETCH_RATE", 2.0)
	v.SetDefault("KNOWLEDGE_CHUNK_MAX_CHARS", 800)
	v.SetDefault("KNOWLEDGE_CHUNK_MIN_CHARS", 400)
	v.SetDefault("KNOWLEDGE_REFRESH_INTERVAL", "15m")
	v.SetDefault("KNOWLEDGE_QUEUE_KEY", "knowledge:ingest")

	v.AutomaticEnv()

	llmKey := strings.TrimSpace(v.GetString("LLM_API_KEY"))
	embeddingKey := strings.TrimSpace(v.GetString("EMBEDDING_API_KEY"))
	if embeddingKey == "" {
		embeddingKey = llmKey
	}
	embeddingURL := strings.TrimSpace(v.GetString("EMBEDDING_BASE_URL"))
	if embeddingURL == "" {
		embeddingURL = strings.TrimSpace(v.GetString("LLM_BASE_URL"))
	}

	jwtSecret := strings.TrimSpace(v.GetString("JWT_SECRET"))
	contactSecret := strings.TrimSpace(v.GetString("CONTACT_SESSION_SECRET"))
	if contactSecret == "" {
		contactSecret = jwtSecret
	}

	return &Config{
		App: AppConfig{
			Port:           strings.TrimSpace(v.GetString("PORT")),
			BaseURL:        strings.TrimRight(strings.TrimSpace(v.GetString("APP_BASE_URL")), "/"),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Driver: strings.TrimSpace(v.GetString("DATABASE_DRIVER")),
			DSN:    strings.TrimSpace(v.GetString("DATABASE_DSN")),
		},
		Auth: AuthConfig{
			JWTSecret:      jwtSecret,
			Timeout:        v.GetDuration("JWT_TIMEOUT"),
			MaxRefresh:     v.GetDuration("JWT_MAX_REFRESH"),
			CaptchaEnabled: v.GetBool("AUTH_CAPTCHA_ENABLED"),
			InviteTTL:      v.GetDuration("INVITATION_TTL"),

			BootstrapEmail:    strings.TrimSpace(v.GetString("BOOTSTRAP_ADMIN_EMAIL")),
			BootstrapPassword: v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Minio: MinioConfig{
			Endpoint:  strings.TrimSpace(v.GetString("MINIO_ENDPOINT")),
			AccessKey: strings.TrimSpace(v.GetString("MINIO_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(v.GetString("MINIO_SECRET_KEY")),
			Bucket:    strings.TrimSpace(v.GetString("MINIO_BUCKET")),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			PublicURL: strings.TrimSpace(v.GetString("MINIO_PUBLIC_URL")),
		},
		Qdrant: QdrantConfig{
			Addr:      strings.TrimSpace(v.GetString("QDRANT_ADDR")),
			APIKey:    strings.TrimSpace(v.GetString("QDRANT_API_KEY")),
			VectorDim: v.GetInt("QDRANT_VECTOR_DIM"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    strings.TrimRight(embeddingURL, "/"),
			APIKey:     embeddingKey,
			Model:      strings.TrimSpace(v.GetString("EMBEDDING_MODEL")),
			Dimensions: v.GetInt("EMBEDDING_DIMENSIONS"),
			MaxBatch:   v.GetInt("EMBEDDING_MAX_BATCH"),
		},
		LLM: LLMConfig{
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("LLM_BASE_URL")), "/"),
			APIKey:      llmKey,
			ModelID:     strings.TrimSpace(v.GetString("LLM_MODEL_ID")),
			CatalogFile: strings.TrimSpace(v.GetString("LLM_MODEL_CATALOG_FILE")),
			Timeout:     v.GetDuration("LLM_TIMEOUT"),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(v.GetString("SMTP_HOST")),
			Port:     v.GetInt("SMTP_PORT"),
			Username: strings.TrimSpace(v.GetString("SMTP_USERNAME")),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     strings.TrimSpace(v.GetString("SMTP_FROM")),
		},
		Contact: ContactConfig{
			SessionSecret: contactSecret,
			SessionTTL:    v.GetDuration("CONTACT_SESSION_TTL"),
		},
		Knowledge: KnowledgeConfig{
			URLPattern:      v.GetString("KNOWLEDGE_URL_PATTERN"),
			Workers:         v.GetInt("KNOWLEDGE_WORKERS"),
			FetchRate:       v.GetFloat64("KNOWLEDGE_FETCH_RATE"),
			ChunkMaxChars:   v.GetInt("KNOWLEDGE_CHUNK_MAX_CHARS"),
			ChunkMinChars:   v.GetInt("KNOWLEDGE_CHUNK_MIN_CHARS"),
			RefreshInterval: v.GetDuration("KNOWLEDGE_REFRESH_INTERVAL"),
			QueueKey:        strings.TrimSpace(v.GetString("KNOWLEDGE_QUEUE_KEY")),
		},
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
