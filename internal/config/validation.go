package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidVectorSize indicates the similarity index dimensionality is invalid.
	ErrInvalidVectorSize = errors.New("invalid vector size")

	// ErrInvalidFileSizeLimit indicates the upload size limit is invalid.
	ErrInvalidFileSizeLimit = errors.New("invalid max file size")

	// ErrNoAllowedExtensions indicates the upload extension allowlist is empty.
	ErrNoAllowedExtensions = errors.New("no allowed upload extensions")
)

// knownProviders are the providers the LLM gateway can route to.
var knownProviders = []string{ProviderOpenAI, ProviderGoogle, ProviderAnthropic}

// Validate checks configuration values and returns the first problem found.
// Wrapped sentinel errors allow callers to use errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if !slices.Contains(knownProviders, c.AI.Provider) {
		return fmt.Errorf("%w: %q (known: %v)", ErrInvalidProvider, c.AI.Provider, knownProviders)
	}
	if !slices.Contains(knownProviders, c.AI.EmbeddingProvider) {
		return fmt.Errorf("%w: embedding provider %q (known: %v)", ErrInvalidProvider, c.AI.EmbeddingProvider, knownProviders)
	}
	for provider := range c.AI.SystemKeys {
		if !slices.Contains(knownProviders, provider) {
			return fmt.Errorf("%w: system key for unknown provider %q", ErrInvalidProvider, provider)
		}
	}

	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0, 2])", ErrInvalidTemperature, c.AI.Temperature)
	}
	if c.AI.MaxTokens < 1 || c.AI.MaxTokens > 100_000 {
		return fmt.Errorf("%w: %d (must be in [1, 100000])", ErrInvalidMaxTokens, c.AI.MaxTokens)
	}

	if c.Postgres.Host == "" {
		return ErrInvalidPostgresHost
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}

	if c.Qdrant.VectorSize < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidVectorSize, c.Qdrant.VectorSize)
	}

	if c.Knowledge.MaxFileSizeMB < 1 {
		return fmt.Errorf("%w: %d MB", ErrInvalidFileSizeLimit, c.Knowledge.MaxFileSizeMB)
	}
	if len(c.Knowledge.AllowedExtensions) == 0 {
		return ErrNoAllowedExtensions
	}

	return nil
}
