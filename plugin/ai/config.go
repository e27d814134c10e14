package ai

import (
	"errors"
	"time"

	"github.com/hrygo/concierge/internal/profile"
)

// Config represents the reply model configuration.
type Config struct {
	Enabled bool

	APIKey      string
	BaseURL     string // any OpenAI compatible endpoint
	Model       string // gpt-4o-mini
	MaxTokens   int    // default: 512
	Temperature float32
	MaxRetries  int           // default: 3
	Timeout     time.Duration // default: 20s, per attempt
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled:     p.IsAIEnabled(),
		APIKey:      p.AIAPIKey,
		BaseURL:     p.AIBaseURL,
		Model:       p.AIModel,
		MaxTokens:   512,
		Temperature: 0.4,
		MaxRetries:  3,
		Timeout:     20 * time.Second,
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.APIKey == "" {
		return errors.New("AI API key is required")
	}
	if c.Model == "" {
		return errors.New("AI model is required")
	}
	return nil
}
