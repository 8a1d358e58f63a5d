package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config holds the full process configuration. All services (gateway,
// orchestrator, workers) share one config shape; each reads the parts it
// needs.
type Config struct {
	// DatabaseURL is the Postgres DSN for the metadata store. Required.
	DatabaseURL string `mapstructure:"database_url"`

	// RedisURL is the broker location. Required.
	RedisURL string `mapstructure:"redis_url"`

	// SecretKey signs session tokens and chunk URLs. Required.
	SecretKey string `mapstructure:"secret_key"`

	// APIBaseURL is the absolute URL prepended to signed chunk URLs.
	APIBaseURL string `mapstructure:"api_base_url"`

	// CORSOrigins is a comma-separated allowlist of origins, or "*".
	CORSOrigins string `mapstructure:"cors_origins"`

	// AdminPassword seeds the administrator account on first start.
	AdminPassword string `mapstructure:"admin_password"`

	// PasswordResetExpiry is the reset-token lifetime in minutes.
	PasswordResetExpiry int `mapstructure:"password_reset_expiry"`

	// SignedURLExpiry is the default signed-URL lifetime in seconds.
	SignedURLExpiry int `mapstructure:"signed_url_expiry"`

	Server    ServerConfig    `mapstructure:"server"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
}

// ServerConfig holds gateway HTTP settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`

	// DisableRateLimits bypasses per-IP rate limiting. Debug only.
	DisableRateLimits bool `mapstructure:"disable_rate_limits"`
}

// PathsConfig holds the filesystem roots shared with the workers.
type PathsConfig struct {
	TextData string `mapstructure:"text_data"`
	WavData  string `mapstructure:"wav_data"`
	OggData  string `mapstructure:"ogg_data"`
}

// PipelineConfig holds stage tunables.
type PipelineConfig struct {
	// ChunkSizeChars bounds segmenter chunks (characters, incl. spaces).
	ChunkSizeChars int `mapstructure:"chunk_size_chars"`

	// SegmentDuration is the target streaming chunk length in seconds.
	SegmentDuration float64 `mapstructure:"segment_duration"`

	// OpusBitrate is passed to the encoder, e.g. "32k".
	OpusBitrate string `mapstructure:"opus_bitrate"`

	// Workers is the per-process worker pool size.
	Workers int `mapstructure:"workers"`

	// PopTimeout bounds each blocking queue read.
	PopTimeout time.Duration `mapstructure:"pop_timeout"`
}

// SynthesisConfig selects and configures the TTS engine.
type SynthesisConfig struct {
	// Engine is one of "openai", "http", "sine".
	Engine string `mapstructure:"engine"`

	// APIKey for the openai engine. Supports ${ENV_VAR} references.
	APIKey string `mapstructure:"api_key"`

	// Model and Voice for the openai engine.
	Model string `mapstructure:"model"`
	Voice string `mapstructure:"voice"`

	// EngineURL is the base URL of a local HTTP TTS engine.
	EngineURL string `mapstructure:"engine_url"`
}

// AuthConfig values are fixed-policy rather than tunable, except expiries.
type AuthConfig struct {
	SessionExpiry       time.Duration
	RememberExpiry      time.Duration
	PasswordResetExpiry time.Duration
	SignedURLExpiry     time.Duration
}

// DefaultConfig returns the baseline configuration before file and
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		CORSOrigins:   "*",
		APIBaseURL:    "http://localhost:8080",
		AdminPassword: "admin123!",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Paths: PathsConfig{
			TextData: "/data/text",
			WavData:  "/data/wav",
			OggData:  "/data/ogg",
		},
		Pipeline: PipelineConfig{
			ChunkSizeChars:  800,
			SegmentDuration: 3.14,
			OpusBitrate:     "32k",
			Workers:         2,
			PopTimeout:      30 * time.Second,
		},
		Synthesis: SynthesisConfig{
			Engine: "openai",
			APIKey: "${OPENAI_API_KEY}",
			Model:  "gpt-4o-mini-tts",
			Voice:  "alloy",
		},
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "database_url")
	}
	if c.RedisURL == "" {
		missing = append(missing, "redis_url")
	}
	if c.SecretKey == "" {
		missing = append(missing, "secret_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.Pipeline.ChunkSizeChars <= 0 {
		return fmt.Errorf("pipeline.chunk_size_chars must be positive")
	}
	if c.Pipeline.SegmentDuration <= 0 {
		return fmt.Errorf("pipeline.segment_duration must be positive")
	}
	return nil
}

// Auth returns the derived auth expiry settings.
func (c *Config) Auth() AuthConfig {
	a := AuthConfig{
		SessionExpiry:       24 * time.Hour,
		RememberExpiry:      30 * 24 * time.Hour,
		PasswordResetExpiry: 15 * time.Minute,
		SignedURLExpiry:     time.Hour,
	}
	if c.PasswordResetExpiry > 0 {
		a.PasswordResetExpiry = time.Duration(c.PasswordResetExpiry) * time.Minute
	}
	if c.SignedURLExpiry > 0 {
		a.SignedURLExpiry = time.Duration(c.SignedURLExpiry) * time.Second
	}
	return a
}

// CORSOriginList splits the configured allowlist.
func (c *Config) CORSOriginList() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
