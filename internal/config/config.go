package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "SITEHAZARD"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Engine    EngineConfig    `yaml:"engine" envconfig:"ENGINE"`
	Input     InputConfig     `yaml:"input" envconfig:"INPUT"`
	Output    OutputConfig    `yaml:"output" envconfig:"OUTPUT"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// AllowedOrigins limits CORS and websocket origins; empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// EngineConfig tunes the convolution engine
type EngineConfig struct {
	MaxWorkers     int           `yaml:"max_workers" envconfig:"MAX_WORKERS"`
	RunTimeout     time.Duration `yaml:"run_timeout" envconfig:"RUN_TIMEOUT"`
	SlopeTolerance float64       `yaml:"slope_tolerance" envconfig:"SLOPE_TOLERANCE"`
	// Queued runs accepted by the HTTP service
	QueueWorkers  int           `yaml:"queue_workers" envconfig:"QUEUE_WORKERS"`
	QueueCapacity int           `yaml:"queue_capacity" envconfig:"QUEUE_CAPACITY"`
	RunRetention  time.Duration `yaml:"run_retention" envconfig:"RUN_RETENTION"`
}

// InputConfig locates the rock hazard curves and the ground-motion spectra
type InputConfig struct {
	HazardDir      string `yaml:"hazard_dir" envconfig:"HAZARD_DIR"`
	HazardPattern  string `yaml:"hazard_pattern" envconfig:"HAZARD_PATTERN"`
	SiteID         int    `yaml:"site_id" envconfig:"SITE_ID"`
	RockSpectra    string `yaml:"rock_spectra" envconfig:"ROCK_SPECTRA"`
	SurfaceSpectra string `yaml:"surface_spectra" envconfig:"SURFACE_SPECTRA"`
	SpectraSheet   string `yaml:"spectra_sheet" envconfig:"SPECTRA_SHEET"`
}

// OutputConfig controls the exported artifacts
type OutputConfig struct {
	Dir           string  `yaml:"dir" envconfig:"DIR"`
	SiteCode      string  `yaml:"site_code" envconfig:"SITE_CODE"`
	Vs30Ref       float64 `yaml:"vs30_ref" envconfig:"VS30_REF"`
	WriteWorkbook bool    `yaml:"write_workbook" envconfig:"WRITE_WORKBOOK"`
}

// StorageConfig contains S3-compatible object storage settings for artifacts
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET"`
	Region    string `yaml:"region" envconfig:"REGION"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
	Prefix    string `yaml:"prefix" envconfig:"PREFIX"`
}

// DatabaseConfig configures the Postgres run archive. An empty URL keeps runs in memory.
type DatabaseConfig struct {
	URL         string        `yaml:"url" envconfig:"URL"`
	MaxConns    int32         `yaml:"max_conns" envconfig:"MAX_CONNS"`
	PingTimeout time.Duration `yaml:"ping_timeout" envconfig:"PING_TIMEOUT"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing  bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics  bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Load builds the configuration from defaults, an optional YAML file and
// SITEHAZARD_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configFile, err)
		}
	}

	// Fields without a matching variable keep their current value.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file are left alone.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths makes input and output locations absolute
func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Input.HazardDir, &c.Input.RockSpectra, &c.Input.SurfaceSpectra, &c.Output.Dir} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return err
		}
		*p = abs
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read and write timeouts must be positive")
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}

	if c.Engine.MaxWorkers < 1 {
		return fmt.Errorf("engine max workers must be >= 1, got %d", c.Engine.MaxWorkers)
	}

	if c.Engine.SlopeTolerance <= 0 {
		return fmt.Errorf("engine slope tolerance must be positive")
	}

	if c.Engine.QueueWorkers < 1 || c.Engine.QueueCapacity < 1 {
		return fmt.Errorf("engine queue workers and capacity must be >= 1")
	}

	if c.Input.SiteID < 0 {
		return fmt.Errorf("input site id must be >= 0, got %d", c.Input.SiteID)
	}

	if c.Output.Vs30Ref <= 0 {
		return fmt.Errorf("output vs30 reference must be positive")
	}

	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("storage endpoint and bucket are required when storage is enabled")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]")
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"sitehazard.yaml",
		"configs/sitehazard.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    10 << 20,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/sitehazard.log",
		},
		Engine: EngineConfig{
			MaxWorkers:     4,
			RunTimeout:     5 * time.Minute,
			SlopeTolerance: 1e-9,
			QueueWorkers:   2,
			QueueCapacity:  16,
			RunRetention:   24 * time.Hour,
		},
		Input: InputConfig{
			HazardDir:     "data/hazard",
			HazardPattern: "hazard_curve-mean-*.csv",
		},
		Output: OutputConfig{
			Dir:           "output",
			SiteCode:      "TST",
			Vs30Ref:       800,
			WriteWorkbook: true,
		},
		Storage: StorageConfig{
			Bucket: "sitehazard-artifacts",
			Prefix: "runs",
		},
		Database: DatabaseConfig{
			MaxConns:    4,
			PingTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			EnableTracing:  false,
			EnableMetrics:  true,
			TraceExporter:  "stdout",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
