package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"healthcli/pkg/contracts/domain"
)

// EnvPrefix namespaces every environment variable, e.g. HEALTH_SERVER_PORT.
const EnvPrefix = "HEALTH"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Fetch     FetchConfig     `yaml:"fetch" envconfig:"FETCH"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Output    OutputConfig    `yaml:"output" envconfig:"OUTPUT"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`

	// Sources are only configurable from YAML.
	Sources []domain.SourceSpec `yaml:"sources" ignored:"true" validate:"required,min=1,dive"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RunTimeout      time.Duration   `yaml:"run_timeout" envconfig:"RUN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=json text"`
	Output    string `yaml:"output" envconfig:"OUTPUT" validate:"omitempty,oneof=stdout stderr file both"`
	FilePath  string `yaml:"file_path" envconfig:"FILE_PATH"`
	AddSource bool   `yaml:"add_source" envconfig:"ADD_SOURCE"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	// BaseDir anchors relative paths; empty means the working directory.
	BaseDir    string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	ReportsDir string `yaml:"reports_dir" envconfig:"REPORTS_DIR"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
	Database   string `yaml:"database" envconfig:"DATABASE"`
}

// FetchConfig controls how sources are downloaded
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	RPS       float64       `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst     int           `yaml:"burst" envconfig:"BURST" validate:"min=1"`
	UserAgent string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	MaxBytes  int64         `yaml:"max_bytes" envconfig:"MAX_BYTES" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// CountryConfig names a country as spelled by WHO and by the World Bank.
type CountryConfig struct {
	Name          string `yaml:"name" validate:"required"`
	WorldBankName string `yaml:"world_bank_name"`
}

// PipelineConfig controls the transformation stages
type PipelineConfig struct {
	Workers           int             `yaml:"workers" envconfig:"WORKERS" validate:"min=1,max=16"`
	EmptyColumnPolicy string          `yaml:"empty_column_policy" envconfig:"EMPTY_COLUMN_POLICY" validate:"oneof=fail zero"`
	MinYear           int             `yaml:"min_year" envconfig:"MIN_YEAR"`
	MaxYear           int             `yaml:"max_year" envconfig:"MAX_YEAR" validate:"gtefield=MinYear"`
	Countries         []CountryConfig `yaml:"countries" ignored:"true" validate:"required,min=1,dive"`
}

// OutputConfig selects the persistence sinks
type OutputConfig struct {
	Formats []string `yaml:"formats" envconfig:"FORMATS" validate:"required,min=1,dive,oneof=csv xlsx sqlite"`
	BOM     bool     `yaml:"bom" envconfig:"BOM"`
}

// TelemetryConfig contains OpenTelemetry exporter settings
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"omitempty,oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"omitempty,oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// HasFormat reports whether the named sink is enabled.
func (o OutputConfig) HasFormat(name string) bool {
	for _, f := range o.Formats {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

// Load builds the configuration from defaults, an optional YAML file and
// HEALTH_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit config file. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Env variables without a value leave the field untouched, so only
	// explicitly set variables override the file.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	seen := make(map[domain.Source]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.Source] {
			return fmt.Errorf("source %s configured twice", s.Source)
		}
		seen[s.Source] = true

		switch s.Layout {
		case domain.LayoutLong:
			if s.YearColumn == "" || len(s.MetricColumns) == 0 {
				return fmt.Errorf("source %s: long layout needs year_column and metric_columns", s.Source)
			}
		case domain.LayoutWide:
			if s.MetricName == "" {
				return fmt.Errorf("source %s: wide layout needs metric_name", s.Source)
			}
		}
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
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
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RunTimeout:      5 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/pipeline.log",
		},
		Paths: PathsConfig{
			DataDir:    "data",
			ReportsDir: "data",
			LogsDir:    "logs",
			Database:   "data/indicators.db",
		},
		Fetch: FetchConfig{
			Timeout:   2 * time.Minute,
			RPS:       2,
			Burst:     1,
			UserAgent: "healthcli/" + AppVersion,
			MaxBytes:  256 << 20,
			CacheTTL:  time.Hour,
		},
		Pipeline: PipelineConfig{
			Workers:           1,
			EmptyColumnPolicy: "zero",
			MinYear:           1990,
			MaxYear:           2022,
			Countries:         DefaultCountries(),
		},
		Output: OutputConfig{
			Formats: []string{"csv", "sqlite"},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "health-indicators",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
		},
		Sources: DefaultSources(),
	}
}

// DefaultCountries returns the countries processed when none are configured.
func DefaultCountries() []CountryConfig {
	return []CountryConfig{
		{Name: "Brazil", WorldBankName: "Brazil"},
		{Name: "United States of America", WorldBankName: "United States"},
	}
}
