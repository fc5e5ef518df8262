// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (CASEFORGE_* plus DATABASE_URL)
//  2. Config file (./config.yaml or /etc/caseforge/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: listen address, proxy trust, rate limiting
//   - Postgres: relational store for batches, entries and generated cases
//   - Storage: MinIO blob store for uploaded files (local-dir fallback)
//   - Qdrant: similarity index for knowledge entries
//   - AI: provider defaults, system fallback keys, embedding model
//   - Knowledge: upload limits for batch ingestion
//
// Sensitive values (passwords, API keys) are masked in MarshalJSON and never
// logged. Validation happens eagerly in Load (fail-fast, sentinel errors).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AI provider identifiers used in Config.AI.Provider and as keys of
// Config.AI.SystemKeys.
const (
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr       string   `mapstructure:"addr" json:"addr"`
	TrustProxy bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst  int      `mapstructure:"rate_burst" json:"rate_burst"`
	CORSOrigin []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// PostgresConfig holds the relational store connection settings.
// DATABASE_URL, when set, overrides the individual fields.
type PostgresConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"` // SENSITIVE: masked in MarshalJSON
	DBName   string `mapstructure:"db_name" json:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode" json:"ssl_mode"`
}

// StorageConfig holds blob storage settings. When Endpoint is empty the
// service falls back to a local directory, mirroring dev environments that
// run without MinIO.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"` // SENSITIVE: masked in MarshalJSON
	Bucket    string `mapstructure:"bucket" json:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" json:"use_ssl"`
	LocalDir  string `mapstructure:"local_dir" json:"local_dir"`
}

// QdrantConfig holds similarity index settings.
type QdrantConfig struct {
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"`
	APIKey     string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	UseTLS     bool   `mapstructure:"use_tls" json:"use_tls"`
	Collection string `mapstructure:"collection" json:"collection"`
	VectorSize int    `mapstructure:"vector_size" json:"vector_size"`
}

// AIConfig holds LLM gateway and embedding settings.
type AIConfig struct {
	Provider          string            `mapstructure:"provider" json:"provider"`
	Model             string            `mapstructure:"model" json:"model"`
	Temperature       float32           `mapstructure:"temperature" json:"temperature"`
	MaxTokens         int               `mapstructure:"max_tokens" json:"max_tokens"`
	RequestTimeout    time.Duration     `mapstructure:"request_timeout" json:"request_timeout"`
	MaxRetries        int               `mapstructure:"max_retries" json:"max_retries"`
	EmbeddingProvider string            `mapstructure:"embedding_provider" json:"embedding_provider"`
	EmbeddingModel    string            `mapstructure:"embedding_model" json:"embedding_model"`
	SystemKeys        map[string]string `mapstructure:"system_keys" json:"system_keys"` // SENSITIVE: masked in MarshalJSON
}

// KnowledgeConfig holds upload limits for batch ingestion.
type KnowledgeConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions" json:"allowed_extensions"`
	MaxFileSizeMB     int      `mapstructure:"max_file_size_mb" json:"max_file_size_mb"`
}

// ObservabilityConfig holds the optional OTLP trace exporter settings.
type ObservabilityConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores the full application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" json:"server"`
	Postgres      PostgresConfig      `mapstructure:"postgres" json:"postgres"`
	Storage       StorageConfig       `mapstructure:"storage" json:"storage"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant" json:"qdrant"`
	AI            AIConfig            `mapstructure:"ai" json:"ai"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge" json:"knowledge"`
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`

	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/caseforge")

	setDefaults(v)

	v.SetEnvPrefix("CASEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes priority over individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.rate_burst", 60)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "caseforge")
	v.SetDefault("postgres.db_name", "caseforge")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("storage.bucket", "caseforge-knowledge")
	v.SetDefault("storage.local_dir", "data/knowledge")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.use_tls", false)
	v.SetDefault("qdrant.collection", "knowledge_entries")
	v.SetDefault("qdrant.vector_size", 1536)

	v.SetDefault("ai.provider", ProviderOpenAI)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.request_timeout", 60*time.Second)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.embedding_provider", ProviderOpenAI)
	v.SetDefault("ai.embedding_model", "text-embedding-3-small")

	v.SetDefault("knowledge.allowed_extensions", []string{"csv", "xlsx"})
	v.SetDefault("knowledge.max_file_size_mb", 10)

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.service_name", "caseforge")
	v.SetDefault("observability.environment", "dev")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// MarshalJSON masks sensitive fields so a Config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.Postgres.Password != "" {
		masked.Postgres.Password = "***"
	}
	if masked.Storage.SecretKey != "" {
		masked.Storage.SecretKey = "***"
	}
	if masked.Qdrant.APIKey != "" {
		masked.Qdrant.APIKey = "***"
	}
	if len(masked.AI.SystemKeys) > 0 {
		keys := make(map[string]string, len(masked.AI.SystemKeys))
		for provider := range masked.AI.SystemKeys {
			keys[provider] = "***"
		}
		masked.AI.SystemKeys = keys
	}
	return json.Marshal(masked)
}
