// Package config provides centralized configuration management for the ETL pipeline.
// Configuration is assembled from struct defaults, an optional YAML or JSON file, an
// optional .env file and ETL_ prefixed environment variables, then validated.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/gaps"
	"github.com/galafis/financial-data-etl/internal/indicators"
	"github.com/galafis/financial-data-etl/internal/models"
	"github.com/galafis/financial-data-etl/internal/resample"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ETL_"

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name" env:"APP_NAME" default:"financial-data-etl" validate:"required"`
	ConfigPath string `json:"-" yaml:"-" env:"CONFIG_PATH"`

	Pipeline PipelineConfig    `json:"pipeline" yaml:"pipeline" envPrefix:"PIPELINE_"`
	Storage  StorageConfig     `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Logging  LoggingConfig     `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Metrics  MetricsConfig     `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	Retry    RetryPolicyConfig `json:"retry" yaml:"retry" envPrefix:"RETRY_"`
}

// PipelineConfig describes one pipeline run: where to read, what to compute and where to write.
type PipelineConfig struct {
	SourceKind         string            `json:"source_kind" yaml:"source_kind" env:"SOURCE_KIND" default:"synthetic" validate:"omitempty,oneof=csv json columnar parquet xlsx excel synthetic api"`
	SourcePath         string            `json:"source_path" yaml:"source_path" env:"SOURCE_PATH" validate:"required_unless=SourceKind synthetic SourceKind api"`
	Symbol             string            `json:"symbol" yaml:"symbol" env:"SYMBOL" default:"BTCUSD"`
	Rows               int               `json:"rows" yaml:"rows" env:"ROWS" validate:"gte=0"`
	Seed               uint64            `json:"seed" yaml:"seed" env:"SEED"`
	OutputPath         string            `json:"output_path" yaml:"output_path" env:"OUTPUT_PATH" default:"output_data.csv" validate:"required"`
	OutputFormat       string            `json:"output_format" yaml:"output_format" env:"OUTPUT_FORMAT" validate:"omitempty,oneof=csv json columnar parquet xlsx excel"`
	AddIndicators      bool              `json:"add_indicators" yaml:"add_indicators" env:"ADD_INDICATORS" default:"true"`
	ResampleFrequency  string            `json:"resample_frequency" yaml:"resample_frequency" env:"RESAMPLE_FREQUENCY" validate:"omitempty,frequency"`
	ExpectedInterval   string            `json:"expected_interval" yaml:"expected_interval" env:"EXPECTED_INTERVAL" validate:"omitempty,interval"`
	EmptyOnSourceError bool              `json:"empty_on_source_error" yaml:"empty_on_source_error" env:"EMPTY_ON_SOURCE_ERROR"`
	Indicators         indicators.Config `json:"indicators" yaml:"indicators" envPrefix:"INDICATORS_"`
}

// StorageConfig configures file access
type StorageConfig struct {
	// Root for relative source and output paths; empty means the working directory.
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`
	// Scratch directory for the columnar codec.
	TempDir string `json:"temp_dir" yaml:"temp_dir" env:"TEMP_DIR"`
	// Permission bits of written files (420 = 0644).
	FileMode uint32 `json:"file_mode" yaml:"file_mode" env:"FILE_MODE" default:"420" validate:"lte=511"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format        string            `json:"format" yaml:"format" env:"FORMAT" default:"json" validate:"oneof=json text console"`
	Output        string            `json:"output" yaml:"output" env:"OUTPUT" default:"stderr" validate:"oneof=stdout stderr file"`
	FilePath      string            `json:"file_path" yaml:"file_path" env:"FILE_PATH" validate:"required_if=Output file"`
	MaxSize       int               `json:"max_size" yaml:"max_size" env:"MAX_SIZE" default:"100" validate:"gte=1"` // MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" env:"MAX_BACKUPS" default:"5" validate:"gte=0"`
	MaxAge        int               `json:"max_age" yaml:"max_age" env:"MAX_AGE" default:"30" validate:"gte=0"` // days
	Compress      bool              `json:"compress" yaml:"compress" env:"COMPRESS" default:"true"`
	NoColor       bool              `json:"no_color" yaml:"no_color" env:"NO_COLOR"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields" env:"CONTEXT_FIELDS"`
}

// MetricsConfig configures metrics collection
type MetricsConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" env:"ENABLED" default:"true"`
	Namespace    string `json:"namespace" yaml:"namespace" env:"NAMESPACE" default:"etl" validate:"required_if=Enabled true"`
	// node_exporter textfile collector output; empty disables the export.
	TextfilePath string `json:"textfile_path" yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// RetryPolicyConfig configures retry behavior for transient I/O failures
type RetryPolicyConfig struct {
	MaxAttempts  int    `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS" default:"3" validate:"gte=1"`
	InitialDelay string `json:"initial_delay" yaml:"initial_delay" env:"INITIAL_DELAY" default:"100ms" validate:"duration"`
	MaxDelay     string `json:"max_delay" yaml:"max_delay" env:"MAX_DELAY" default:"2s" validate:"duration"`
	Jitter       bool   `json:"jitter" yaml:"jitter" env:"JITTER" default:"true"`
}

// Policy converts the configuration into a retry policy.
func (c RetryPolicyConfig) Policy() (etlerrors.RetryPolicy, error) {
	initial, err := time.ParseDuration(c.InitialDelay)
	if err != nil {
		return etlerrors.RetryPolicy{}, fmt.Errorf("retry.initial_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(c.MaxDelay)
	if err != nil {
		return etlerrors.RetryPolicy{}, fmt.Errorf("retry.max_delay: %w", err)
	}
	return etlerrors.RetryPolicy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Jitter:       c.Jitter,
	}, nil
}

// SourceDescriptor returns the extraction descriptor of the configured run.
func (c PipelineConfig) SourceDescriptor() models.SourceDescriptor {
	return models.SourceDescriptor{
		Kind:   models.SourceKind(c.SourceKind),
		Path:   c.SourcePath,
		Symbol: c.Symbol,
		Rows:   c.Rows,
		Seed:   c.Seed,
	}
}

// OutputDescriptor returns the load descriptor of the configured run.
func (c PipelineConfig) OutputDescriptor() models.OutputDescriptor {
	return models.OutputDescriptor{
		Path:   c.OutputPath,
		Format: models.Format(c.OutputFormat),
	}
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewConfigManager creates a new configuration manager. envFile names the dotenv file
// to load; an empty name means ".env" in the working directory.
func NewConfigManager(configPath, envFile string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}
	if envFile == "" {
		envFile = ".env"
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    envFile,
		logger:     logger,
		validate:   newValidate(),
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables, including those set by the .env file (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.InfoContext(ctx, "configuration loaded successfully",
		"config_path", cm.configPath,
		"source_kind", config.Pipeline.SourceKind,
		"output_path", config.Pipeline.OutputPath,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile decodes a YAML or JSON file, chosen by extension, over config.
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	data, err := os.ReadFile(cm.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".json":
		err = json.Unmarshal(data, config)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(cm.configPath))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv applies the dotenv file, if any, and then ETL_ prefixed variables.
// Variables already present in the environment win over the dotenv file.
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if err := godotenv.Load(cm.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", cm.envFile, err)
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return err
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var problems []string

	if err := cm.validate.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fieldMessage(fe))
		}
	}

	if err := config.Pipeline.Indicators.Validate(); err != nil {
		problems = append(problems, "pipeline.indicators: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig writes the current configuration to the config file, as JSON or YAML by extension.
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(cm.configPath), ".json") {
		data, err = json.MarshalIndent(cm.config, "", "  ")
	} else {
		data, err = yaml.Marshal(cm.config)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.InfoContext(ctx, "configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with every field at its default value.
func DefaultConfig() (*AppConfig, error) {
	config := &AppConfig{}
	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return config, nil
}

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their file key, e.g. "pipeline.output_path".
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
		_, err := resample.ParseFrequency(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		_, err := gaps.ParseInterval(fl.Field().String())
		return err == nil
	})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	// Namespace is "AppConfig.pipeline.output_path"; drop the root type name.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "duration":
		return fmt.Sprintf("%s is not a valid duration: %v", field, fe.Value())
	case "frequency":
		return fmt.Sprintf("%s is not a known resample frequency: %v", field, fe.Value())
	case "interval":
		return fmt.Sprintf("%s is not a valid interval: %v", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
