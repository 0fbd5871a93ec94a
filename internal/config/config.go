package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "INTAKE"

// Config is the process configuration. Operator preferences that the UI edits
// at runtime (default folders, concurrency, flags) live in the settings store,
// not here.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	Analyzer AnalyzerConfig `yaml:"analyzer" envconfig:"ANALYZER"`
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
	Watch    WatchConfig    `yaml:"watch" envconfig:"WATCH"`
	Archive  ArchiveConfig  `yaml:"archive" envconfig:"ARCHIVE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=console json"`
}

// StorageConfig points at the local SQLite database holding settings and
// learned corrections.
type StorageConfig struct {
	DBPath string `yaml:"db_path" envconfig:"DB_PATH" validate:"required"`
}

// AnalyzerConfig configures the document analysis backend.
type AnalyzerConfig struct {
	Model          string        `yaml:"model" envconfig:"MODEL" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	// Vertex AI is used instead of the Gemini API when a project is set.
	VertexProject  string `yaml:"vertex_project" envconfig:"VERTEX_PROJECT"`
	VertexLocation string `yaml:"vertex_location" envconfig:"VERTEX_LOCATION"`

	// Document AI OCR fallback, disabled unless a processor is configured.
	OCRProject   string `yaml:"ocr_project" envconfig:"OCR_PROJECT"`
	OCRLocation  string `yaml:"ocr_location" envconfig:"OCR_LOCATION"`
	OCRProcessor string `yaml:"ocr_processor" envconfig:"OCR_PROCESSOR"`
}

// OCREnabled reports whether the Document AI fallback is configured.
func (c AnalyzerConfig) OCREnabled() bool {
	return c.OCRProject != "" && c.OCRProcessor != ""
}

// PipelineConfig tunes the analysis worker pool. The worker count itself is
// an operator setting.
type PipelineConfig struct {
	Stagger   time.Duration `yaml:"stagger" envconfig:"STAGGER"`
	ChunkSize int           `yaml:"chunk_size" envconfig:"CHUNK_SIZE" validate:"min=1"`
}

// WatchConfig schedules periodic rescans of the default PDF folder.
// An empty schedule disables the watcher.
type WatchConfig struct {
	Schedule string `yaml:"schedule" envconfig:"SCHEDULE"`
}

// ArchiveConfig enables optional copies of exported data in Google Cloud.
type ArchiveConfig struct {
	BigQueryProject string `yaml:"bigquery_project" envconfig:"BIGQUERY_PROJECT"`
	BigQueryDataset string `yaml:"bigquery_dataset" envconfig:"BIGQUERY_DATASET"`
	BigQueryTable   string `yaml:"bigquery_table" envconfig:"BIGQUERY_TABLE"`
	GCSBucket       string `yaml:"gcs_bucket" envconfig:"GCS_BUCKET"`
	GCSPrefix       string `yaml:"gcs_prefix" envconfig:"GCS_PREFIX"`
}

// BigQueryEnabled reports whether exported rows are streamed to BigQuery.
func (c ArchiveConfig) BigQueryEnabled() bool {
	return c.BigQueryProject != "" && c.BigQueryDataset != "" && c.BigQueryTable != ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			DBPath: "intake.db",
		},
		Analyzer: AnalyzerConfig{
			Model:          "gemini-2.5-flash",
			RequestTimeout: 3 * time.Minute,
			VertexLocation: "europe-west1",
			OCRLocation:    "eu",
		},
		Pipeline: PipelineConfig{
			Stagger:   200 * time.Millisecond,
			ChunkSize: 3,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// INTAKE_CONFIG (or ./config.yaml when present), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv(EnvPrefix + "_CONFIG")
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	if err := loadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("Load: config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("Load: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
