// Copyright 2024 Lozee Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads relay configuration from YAML, .env and the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lozee/lozee-relay/internal/splitter"
)

// EnvPrefix prefixes environment overrides, e.g. LOZEE_CHAT_MODEL
const EnvPrefix = "LOZEE"

// DefaultFallbackReply is sent when the model returns no content
const DefaultFallbackReply = "미안하지만, 지금은 답변을 드리기 어렵네."

// ErrInvalidConfigValue is returned when a configuration value is invalid
var ErrInvalidConfigValue = errors.New("invalid configuration value")

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`  // seconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
}

// OpenAIConfig contains OpenAI API configuration
type OpenAIConfig struct {
	APIKey   string `mapstructure:"apikey"`
	Endpoint string `mapstructure:"endpoint"`
}

// ChatConfig controls /api/gpt-chat
type ChatConfig struct {
	Model                  string   `mapstructure:"model"`
	AllowedModels          []string `mapstructure:"allowed_models"`
	Temperature            float64  `mapstructure:"temperature"`
	AllowClientTemperature bool     `mapstructure:"allow_client_temperature"`
	MaxTokens              int      `mapstructure:"max_tokens"`
	FallbackReply          string   `mapstructure:"fallback_reply"`
	SplitStrategy          string   `mapstructure:"split_strategy"`
	Sentinel               string   `mapstructure:"sentinel"`
	AnalysisField          string   `mapstructure:"analysis_field"`
}

// SpeechConfig controls /api/tts and /api/stt
type SpeechConfig struct {
	Voice         string  `mapstructure:"voice"`
	Speed         float64 `mapstructure:"speed"`
	MaxTTSChars   int     `mapstructure:"max_tts_chars"`
	Language      string  `mapstructure:"language"`
	MaxAudioBytes int64   `mapstructure:"max_audio_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	EnvFile          string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if err := loadDotEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	hasFile, err := setConfigFile(v, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	if hasFile {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

// loadDotEnv loads .env without overriding variables already set.
// A missing default .env is not an error; a missing explicit file is.
func loadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.request_timeout", 60)
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")

	v.SetDefault("chat.model", "gpt-4-turbo")
	v.SetDefault("chat.allowed_models", []string{})
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.allow_client_temperature", false)
	v.SetDefault("chat.max_tokens", 0)
	v.SetDefault("chat.fallback_reply", DefaultFallbackReply)
	v.SetDefault("chat.split_strategy", splitter.StrategyFirst)
	v.SetDefault("chat.sentinel", splitter.DefaultSentinel)
	v.SetDefault("chat.analysis_field", "analysis")

	v.SetDefault("speech.voice", "nova")
	v.SetDefault("speech.speed", 1.0)
	v.SetDefault("speech.max_tts_chars", 4096)
	v.SetDefault("speech.language", "ko")
	v.SetDefault("speech.max_audio_bytes", 25<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile picks CONFIG_PATH, then configPath, then the default
// locations. It reports false when no file exists in the default locations.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return true, nil
		}
	}

	return false, nil
}

// setEnvironmentMappings maps the unprefixed variables deployments already use
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":  "openai.apikey",
		"OPENAI_ENDPOINT": "openai.endpoint",
		"PORT":            "server.port",
		"LOG_LEVEL":       "logging.level",
		"LOG_FORMAT":      "logging.format",
		"LOG_OUTPUT":      "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates value ranges. A missing API key is allowed:
// the relay starts and answers vendor-backed routes with 500.
func validateConfig(config *Config) error {
	var errs []ValidationError

	if config.Server.Port == "" {
		errs = append(errs, ValidationError{Field: "server.port", Message: "port is required"})
	}

	if config.Server.MaxBodyBytes <= 0 {
		errs = append(errs, ValidationError{Field: "server.max_body_bytes", Message: "max_body_bytes must be greater than 0"})
	}

	if config.Server.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "server.request_timeout", Message: "request_timeout must be greater than 0"})
	}

	if config.Chat.Model == "" {
		errs = append(errs, ValidationError{Field: "chat.model", Message: "model is required"})
	}

	if config.Chat.Temperature < 0 || config.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "chat.temperature", Message: "temperature must be between 0 and 2"})
	}

	if config.Chat.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "chat.max_tokens", Message: "max_tokens must not be negative"})
	}

	if strings.TrimSpace(config.Chat.FallbackReply) == "" {
		errs = append(errs, ValidationError{Field: "chat.fallback_reply", Message: "fallback_reply must not be empty"})
	}

	if _, err := splitter.ParseStrategy(config.Chat.SplitStrategy, config.Chat.Sentinel); err != nil {
		errs = append(errs, ValidationError{
			Field:   "chat.split_strategy",
			Message: fmt.Sprintf("split strategy must be one of: %s", strings.Join([]string{splitter.StrategyFirst, splitter.StrategyLast, splitter.StrategySentinel}, ", ")),
		})
	}

	if config.Chat.AnalysisField == "" || config.Chat.AnalysisField == "text" {
		errs = append(errs, ValidationError{Field: "chat.analysis_field", Message: "analysis_field must be set and differ from 'text'"})
	}

	if config.Speech.Speed < 0.25 || config.Speech.Speed > 4 {
		errs = append(errs, ValidationError{Field: "speech.speed", Message: "speed must be between 0.25 and 4"})
	}

	if config.Speech.MaxTTSChars <= 0 {
		errs = append(errs, ValidationError{Field: "speech.max_tts_chars", Message: "max_tts_chars must be greater than 0"})
	}

	if config.Speech.MaxAudioBytes <= 0 {
		errs = append(errs, ValidationError{Field: "speech.max_audio_bytes", Message: "max_audio_bytes must be greater than 0"})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if len(errs) > 0 {
		var messages []string
		for _, err := range errs {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(messages, "\n"))
	}

	return nil
}

// HasAPIKey reports whether vendor calls can be made
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.OpenAI.APIKey) != ""
}

// IsAllowedModel reports whether a client-requested model may be used
func (c *Config) IsAllowedModel(model string) bool {
	return model == c.Chat.Model || contains(c.Chat.AllowedModels, model)
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c
	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	}
	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Watch reloads the config file on change and passes each valid result to
// callback. Invalid reloads go to onError and the previous config stays live.
func Watch(configPath string, callback func(*Config), onError func(error)) error {
	v := viper.New()

	hasFile, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !hasFile {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       v.ConfigFileUsed(),
			ValidateRequired: true,
		})
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to reload config %s: %w", e.Name, err))
			}
			return
		}

		callback(config)
	})
	v.WatchConfig()

	return nil
}
