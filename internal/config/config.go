package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SEGMENTER_NOMINATIM_URL
const EnvPrefix = "SEGMENTER"

// Config holds all configuration for the segmenter
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Nominatim NominatimConfig `mapstructure:"nominatim"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Input     InputConfig     `mapstructure:"input"`
	Output    OutputConfig    `mapstructure:"output"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	RetentionDays int `mapstructure:"retention_days" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type NominatimConfig struct {
	URL       string  `mapstructure:"url" validate:"required,url"`
	UserAgent string  `mapstructure:"user_agent" validate:"required"`
	Rate      float64 `mapstructure:"rate" validate:"gte=0"` // requests per second, 0 = unlimited
}

type OverpassConfig struct {
	URL  string  `mapstructure:"url" validate:"required,url"`
	Rate float64 `mapstructure:"rate" validate:"gte=0"`
}

type HTTPConfig struct {
	Timeout              time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryMaxAttempts     int           `mapstructure:"retry_max_attempts" validate:"min=1,max=10"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval" validate:"gte=0"`
}

type InputConfig struct {
	Format    string `mapstructure:"format" validate:"omitempty,oneof=csv gtfsrt"` // empty = detect from path
	VehicleID string `mapstructure:"vehicle_id"`
}

type OutputConfig struct {
	File          string `mapstructure:"file" validate:"omitempty,outputdirexists"`
	Console       bool   `mapstructure:"console"`
	FlushTrailing bool   `mapstructure:"flush_trailing"`
	ProgressEvery int    `mapstructure:"progress_every" validate:"gte=0"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path" validate:"omitempty,outputdirexists"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	Subject string `mapstructure:"subject"`
}

type MetricsConfig struct {
	Addr     string `mapstructure:"addr"`
	Textfile string `mapstructure:"textfile" validate:"omitempty,outputdirexists"`
}

// Retention returns how long SQL output is kept, 0 meaning forever
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("nominatim.url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "segmenter/1.0")
	v.SetDefault("nominatim.rate", 1.0)
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.rate", 2.0)

	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.retry_max_attempts", 3)
	v.SetDefault("http.retry_initial_interval", 500*time.Millisecond)

	v.SetDefault("input.format", "")
	v.SetDefault("input.vehicle_id", "")

	v.SetDefault("output.file", "segments.txt")
	v.SetDefault("output.console", true)
	v.SetDefault("output.flush_trailing", false)
	v.SetDefault("output.progress_every", 100)

	v.SetDefault("sqlite.path", "")
	v.SetDefault("postgres.url", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "segmenter")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("retention_days", 0)
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing precedence. configPath falls back to
// $SEGMENTER_CONFIG. A .env file in the working directory is loaded first.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("postgres.url", EnvPrefix+"_POSTGRES_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.RegisterValidation("outputdirexists", validateOutputDirExists); err != nil {
		return err
	}

	err := validate.Struct(cfg)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		msgs := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", e.Namespace(), e.Tag(), e.Value()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return err
}

// validateOutputDirExists validates that the directory of the output file exists
func validateOutputDirExists(fl validator.FieldLevel) bool {
	dir := filepath.Dir(fl.Field().String())
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false
	}
	return true
}
