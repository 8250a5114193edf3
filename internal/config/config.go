// Package config loads application configuration from file and environment
// and owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/metatrace/metascan/internal/blobstore"
	"github.com/metatrace/metascan/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Blob       blobstore.Config `yaml:"blob" mapstructure:"blob"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Attest     AttestConfig     `yaml:"attest" mapstructure:"attest"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings for the narrative path.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ExtractConfig configures metadata extraction.
type ExtractConfig struct {
	ExiftoolPath string `yaml:"exiftool_path" mapstructure:"exiftool_path"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ClassifierConfig locates the trained forest artifact.
type ClassifierConfig struct {
	ArtifactPath string `yaml:"artifact_path" mapstructure:"artifact_path"`
}

// AnalysisConfig holds the shared tunables of both analysis paths.
type AnalysisConfig struct {
	MinFields        int      `yaml:"min_fields" mapstructure:"min_fields"`
	AnomalyThreshold int      `yaml:"anomaly_threshold" mapstructure:"anomaly_threshold"`
	IgnoredFields    []string `yaml:"ignored_fields" mapstructure:"ignored_fields"`
}

// AttestConfig configures record signing.
type AttestConfig struct {
	KeyPath string `yaml:"key_path" mapstructure:"key_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int   `yaml:"port" mapstructure:"port"`
	MaxUploadMB int64 `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("METASCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one, even when it is the zero value:
	// AutomaticEnv only surfaces env vars for keys viper already knows,
	// so an unregistered key could never be set from the environment.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "metascan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.requests_per_minute", 20)
	v.SetDefault("extract.exiftool_path", "exiftool")
	v.SetDefault("extract.timeout_secs", 30)
	v.SetDefault("classifier.artifact_path", "model.json")
	v.SetDefault("analysis.min_fields", 5)
	v.SetDefault("analysis.anomaly_threshold", 5)
	v.SetDefault("analysis.ignored_fields", []string(nil))
	v.SetDefault("attest.key_path", "")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.use_ssl", false)

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
