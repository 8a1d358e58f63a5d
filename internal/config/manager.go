package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, env bindings, and the config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("cors_origins", defaults.CORSOrigins)
	viper.SetDefault("api_base_url", defaults.APIBaseURL)
	viper.SetDefault("admin_password", defaults.AdminPassword)
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("paths", defaults.Paths)
	viper.SetDefault("pipeline", defaults.Pipeline)
	viper.SetDefault("synthesis", defaults.Synthesis)

	// Flat environment variables recognized without prefix. These are the
	// deployment contract; the OPUSBOOK_ prefixed forms also work.
	for key, env := range map[string]string{
		"database_url":            "DATABASE_URL",
		"redis_url":               "REDIS_URL",
		"secret_key":              "SECRET_KEY",
		"cors_origins":            "CORS_ORIGINS",
		"api_base_url":            "API_BASE_URL",
		"admin_password":          "ADMIN_PASSWORD",
		"password_reset_expiry":   "PASSWORD_RESET_EXPIRY",
		"signed_url_expiry":       "SIGNED_URL_EXPIRY",
		"paths.text_data":         "TEXT_DATA_PATH",
		"paths.wav_data":          "WAV_DATA_PATH",
		"paths.ogg_data":          "OGG_DATA_PATH",
		"pipeline.chunk_size_chars": "CHUNK_SIZE_CHARS",
		"pipeline.segment_duration": "SEGMENT_DURATION",
		"pipeline.opus_bitrate":     "OPUS_BITRATE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	viper.SetEnvPrefix("OPUSBOOK")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.opusbook")
	}

	// Config file is optional; env-only deployments are common.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if _, statErr := os.Stat(cfgFile); cfgFile != "" && os.IsNotExist(statErr) {
				return nil
			}
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Synthesis.APIKey = ResolveEnvVars(cfg.Synthesis.APIKey)
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Opusbook configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables.
# DATABASE_URL, REDIS_URL and SECRET_KEY must be set in the environment.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
