// Package config loads application configuration from a YAML file and
// STROYPARSER_-prefixed environment variables, and initializes the global
// logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Rusprofile RusprofileConfig `yaml:"rusprofile" mapstructure:"rusprofile"`
	Finder     FinderConfig     `yaml:"finder" mapstructure:"finder"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Seed       SeedConfig       `yaml:"seed" mapstructure:"seed"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RusprofileConfig holds registry credentials and session settings.
type RusprofileConfig struct {
	Email           string  `yaml:"email" mapstructure:"email"`
	Password        string  `yaml:"password" mapstructure:"password"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	SessionFile     string  `yaml:"session_file" mapstructure:"session_file"`
	SessionTTLHours int     `yaml:"session_ttl_hours" mapstructure:"session_ttl_hours"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
}

// SessionTTL returns the configured session lifetime.
func (c RusprofileConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// FinderConfig holds discovery service settings.
type FinderConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Token       string `yaml:"token" mapstructure:"token"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig tunes search processing.
type PipelineConfig struct {
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
	MaxResults  int  `yaml:"max_results" mapstructure:"max_results"`
	Enrich      bool `yaml:"enrich" mapstructure:"enrich"`
}

// SeedConfig points at an optional city ring table override.
type SeedConfig struct {
	CitiesFile string `yaml:"cities_file" mapstructure:"cities_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STROYPARSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one, even if empty: viper only binds
	// environment variables for keys it already knows about.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "stroyparser.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("rusprofile.email", "")
	v.SetDefault("rusprofile.password", "")
	v.SetDefault("rusprofile.base_url", "https://www.rusprofile.ru")
	v.SetDefault("rusprofile.session_file", "rusprofile_session.json")
	v.SetDefault("rusprofile.session_ttl_hours", 128)
	v.SetDefault("rusprofile.rate_per_sec", 1.0)
	v.SetDefault("rusprofile.burst", 2)
	v.SetDefault("finder.endpoint", "")
	v.SetDefault("finder.token", "")
	v.SetDefault("finder.timeout_secs", 120)
	v.SetDefault("seed.cities_file", "")
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.max_results", 50)
	v.SetDefault("pipeline.enrich", true)
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
