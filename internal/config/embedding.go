package config

import (
	"fmt"
	"time"
)

const (
	DefaultEncoderModel        = "all-MiniLM-L6-v2"
	DefaultEncoderModelVersion = "1.0.0"
	DefaultEmbeddingDimensions = 384
)

// EncoderConfig describes the text encoder backend that produces report embeddings.
type EncoderConfig struct {
	Provider       string        `mapstructure:"provider"`        // Provider type: "openai-compatible", "jina"
	BaseURL        string        `mapstructure:"base_url"`        // Base URL of the embeddings API
	APIKey         string        `mapstructure:"api_key"`         // Optional bearer token
	Model          string        `mapstructure:"model"`           // Model name recorded with every stored vector
	ModelVersion   string        `mapstructure:"model_version"`   // Model version recorded with every stored vector
	Dimensions     int           `mapstructure:"dimensions"`      // Embedding vector dimensions
	BatchSize      int           `mapstructure:"batch_size"`      // Preferred number of texts per encode call
	MaxConcurrency int           `mapstructure:"max_concurrency"` // Concurrent encode calls allowed against the backend
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Validate checks that the encoder configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *EncoderConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("encoder: model is required")
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("encoder %q: model_version is required", c.Model)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("encoder %q: dimensions must be positive", c.Model)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("encoder %q: batch_size must be positive", c.Model)
	}

	switch c.Provider {
	case "openai-compatible", "jina":
	default:
		return fmt.Errorf("encoder %q: unknown provider %q", c.Model, c.Provider)
	}

	if c.BaseURL == "" {
		return fmt.Errorf("encoder %q: base_url is required", c.Model)
	}
	return nil
}
