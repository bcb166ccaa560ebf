package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "60s" or "2m" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// Matching thresholds
	Matching MatchingConfig `yaml:"matching"`

	// Reasoner (advisory LLM) config
	Reasoner ReasonerConfig `yaml:"reasoner"`

	// Invoice API config
	Invoice InvoiceConfig `yaml:"invoice"`
}

// MatchingConfig holds the tunable thresholds of the match resolution engine.
// The original design left these adjustable, so they are config, not constants.
type MatchingConfig struct {
	MatchThreshold    int `yaml:"match_threshold"`    // minimum score for status=matched (default 50)
	AmbiguityEpsilon  int `yaml:"ambiguity_epsilon"`  // top-two gap below which status=ambiguous (default 5)
	DiscrepancyMargin int `yaml:"discrepancy_margin"` // max reasoner confidence above deterministic score (default 25)
	RescoreFloor      int `yaml:"rescore_floor"`      // minimum score for a next-best candidate after a conflict (default 50)
}

// ReasonerConfig holds advisory matcher provider configuration.
type ReasonerConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Default provider
	DefaultProvider string `yaml:"default_provider"` // "openai" or "gemini"

	// Timeout for one advisory call; on expiry the session degrades to
	// deterministic-only results.
	Timeout Duration `yaml:"timeout"`

	// MaxCandidates caps how many work orders are sent in one request.
	MaxCandidates int `yaml:"max_candidates"`
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4-turbo-preview"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-pro"
}

// InvoiceConfig for the external invoice creation API.
type InvoiceConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// Defaults fills zero-valued tunables with the shipped defaults.
func (c *Config) Defaults() {
	if c.Matching.MatchThreshold == 0 {
		c.Matching.MatchThreshold = 50
	}
	if c.Matching.AmbiguityEpsilon == 0 {
		c.Matching.AmbiguityEpsilon = 5
	}
	if c.Matching.DiscrepancyMargin == 0 {
		c.Matching.DiscrepancyMargin = 25
	}
	if c.Matching.RescoreFloor == 0 {
		c.Matching.RescoreFloor = 50
	}
	if c.Reasoner.Timeout == 0 {
		c.Reasoner.Timeout = Duration(60 * time.Second)
	}
	if c.Reasoner.MaxCandidates == 0 {
		c.Reasoner.MaxCandidates = 100
	}
	if c.Invoice.Timeout == 0 {
		c.Invoice.Timeout = Duration(30 * time.Second)
	}
}
