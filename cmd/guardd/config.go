package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the daemon configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with GUARD_ prefix (e.g. GUARD_REDIS_URL)
//  2. .env file
//  3. Config file (--config, or guard.yaml in . or /etc/guard)
//  4. Built-in defaults
type Config struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	BasePath        string        `mapstructure:"base_path" validate:"omitempty,startswith=/"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	Store          string `mapstructure:"store" validate:"oneof=memory redis"`
	RedisURL       string `mapstructure:"redis_url" validate:"required_if=Store redis"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`

	MutationTimeout time.Duration `mapstructure:"mutation_timeout" validate:"gt=0"`
	PluginTimeout   time.Duration `mapstructure:"plugin_timeout" validate:"gt=0"`

	// Limits maps feature slugs to the limit applied to subjects without a
	// plan. Missing features and 0 are unlimited.
	Limits map[string]int64 `mapstructure:"limits" validate:"dive,gte=0"`

	// Plans maps plan slugs to their feature limits.
	Plans map[string]map[string]int64 `mapstructure:"plans" validate:"dive,dive,gte=0"`

	// Assignments maps subject or organization IDs to plan slugs. Keys are
	// lowercased on load and matched case-insensitively.
	Assignments map[string]string `mapstructure:"assignments"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("base_path", "/v1")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("store", "memory")
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_key_prefix", "guard:")
	v.SetDefault("mutation_timeout", 10*time.Second)
	v.SetDefault("plugin_timeout", 5*time.Second)
}

// loadConfig reads envFile (if present), then the config file, then
// GUARD_ environment variables, and validates the result.
func loadConfig(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("guard")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/guard")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	// viper lowercases keys but not values
	for subject, slug := range cfg.Assignments {
		slug = strings.ToLower(slug)
		if _, ok := cfg.Plans[slug]; !ok {
			return nil, fmt.Errorf("invalid config: subject %q assigned to unknown plan %q", subject, slug)
		}
		cfg.Assignments[subject] = slug
	}

	return &cfg, nil
}
