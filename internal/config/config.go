// Package config loads and hot-reloads lectern configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/lectern-audio/lectern/internal/providers"
)

// Config is the full lectern configuration.
type Config struct {
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Speech     SpeechConfig     `mapstructure:"speech" yaml:"speech"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
}

// ExtractionConfig configures the page-content extraction collaborator.
type ExtractionConfig struct {
	Model          string `mapstructure:"model" yaml:"model"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// SpeechConfig configures the speech synthesis collaborator.
type SpeechConfig struct {
	Model          string  `mapstructure:"model" yaml:"model"`
	Voice          string  `mapstructure:"voice" yaml:"voice"`
	Speed          float64 `mapstructure:"speed" yaml:"speed"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RateLimit      int     `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// SchedulerConfig tunes batch selection and pool sizes.
type SchedulerConfig struct {
	ExtractWorkers  int `mapstructure:"extract_workers" yaml:"extract_workers"`
	SynthWorkers    int `mapstructure:"synth_workers" yaml:"synth_workers"`
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size"`
	MaxChars        int `mapstructure:"max_chars" yaml:"max_chars"`
	SynthIntervalMS int `mapstructure:"synth_interval_ms" yaml:"synth_interval_ms"`
}

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

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("extraction", defaults.Extraction)
	viper.SetDefault("speech", defaults.Speech)
	viper.SetDefault("scheduler", defaults.Scheduler)

	// Environment variables with LECTERN_ prefix
	viper.SetEnvPrefix("LECTERN")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.lectern")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
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
		cm.reload()
	})
	viper.WatchConfig()
}

// reload re-parses the current viper state, swaps the cached config, and
// notifies subscribers.
func (cm *Manager) reload() {
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
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToVisionConfig converts the extraction section into a client config,
// resolving ${ENV_VAR} references in the API key.
func (c *Config) ToVisionConfig() providers.VisionExtractorConfig {
	return providers.VisionExtractorConfig{
		APIKey:     ResolveEnvVars(c.Extraction.APIKey),
		Model:      c.Extraction.Model,
		BaseURL:    c.Extraction.BaseURL,
		RateLimit:  c.Extraction.RateLimit,
		MaxRetries: c.Extraction.MaxRetries,
		Timeout:    time.Duration(c.Extraction.TimeoutSeconds) * time.Second,
	}
}

// ToSpeechConfig converts the speech section into a client config,
// resolving ${ENV_VAR} references in the API key.
func (c *Config) ToSpeechConfig() providers.SpeechClientConfig {
	return providers.SpeechClientConfig{
		APIKey:     ResolveEnvVars(c.Speech.APIKey),
		Model:      c.Speech.Model,
		Voice:      c.Speech.Voice,
		Speed:      c.Speech.Speed,
		BaseURL:    c.Speech.BaseURL,
		RateLimit:  c.Speech.RateLimit,
		MaxRetries: c.Speech.MaxRetries,
		Timeout:    time.Duration(c.Speech.TimeoutSeconds) * time.Second,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Lectern configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
