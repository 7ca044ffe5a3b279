// Package config loads upload pipeline settings from a YAML file,
// CHUNKUP_* environment variables and built-in defaults, in that order of
// precedence from lowest to highest: defaults, file, environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHUNKUP_CHUNK_SIZE
const EnvPrefix = "CHUNKUP"

// ByteSize is a size in bytes that decodes from "128MiB", "80KiB" or a
// plain number
type ByteSize uint64

// String renders the size in IEC units
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// MarshalYAML writes the human-readable form
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// UnmarshalText parses a human-readable size
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

// Config is the full configuration of an uploader
type Config struct {
	// MaxFileSize rejects larger sources; zero means no limit. Sizes are
	// int64 once they reach the pipeline.
	MaxFileSize ByteSize `mapstructure:"max_file_size" yaml:"max_file_size" validate:"lte=9223372036854775807"`

	// Multiple allows more than one source per CLI invocation. Each source
	// is an independent run.
	Multiple bool `mapstructure:"multiple" yaml:"multiple"`

	// AcceptedFileTypes lists accepted media types ("image/png",
	// "image/*"), extensions (".csv") or "*".
	AcceptedFileTypes []string `mapstructure:"accepted_file_types" yaml:"accepted_file_types" validate:"min=1,dive,required"`

	// OutputBasePath is the upload directory; extracted files go to its
	// "extracted" subdirectory.
	OutputBasePath string `mapstructure:"output_base_path" yaml:"output_base_path" validate:"required"`

	ChunkSize ByteSize `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0,lte=9223372036854775807"`
	FrameSize ByteSize `mapstructure:"frame_size" yaml:"frame_size" validate:"gt=0,lte=2147483647"`

	// Concurrency caps parallel compression workers: 0 means one per
	// CPU, negative means one per chunk.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	Codec string `mapstructure:"codec" yaml:"codec" validate:"oneof=gzip zstd lz4"`

	// CatalogPath is the BadgerDB directory recording completed uploads.
	// Empty disables the catalog.
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`

	// EventLog is a file receiving every message as CBOR. Empty disables it.
	EventLog string `mapstructure:"event_log" yaml:"event_log"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig configures internal/logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		AcceptedFileTypes: []string{"*"},
		OutputBasePath:    filepath.Join("wwwroot", "uploads"),
		ChunkSize:         128 * 1024 * 1024,
		FrameSize:         80 * 1024,
		Codec:             "gzip",
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration at path (optional) and applies
// environment overrides. A missing explicit file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save writes cfg as YAML, creating parent directories
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key so environment variables apply even
// when the file does not mention them
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("max_file_size", uint64(d.MaxFileSize))
	v.SetDefault("multiple", d.Multiple)
	v.SetDefault("accepted_file_types", d.AcceptedFileTypes)
	v.SetDefault("output_base_path", d.OutputBasePath)
	v.SetDefault("chunk_size", uint64(d.ChunkSize))
	v.SetDefault("frame_size", uint64(d.FrameSize))
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("codec", d.Codec)
	v.SetDefault("catalog_path", d.CatalogPath)
	v.SetDefault("event_log", d.EventLog)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to ByteSize
func byteSizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			var b ByteSize
			if err := b.UnmarshalText([]byte(v)); err != nil {
				return nil, err
			}
			return b, nil
		case int:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size %d", v)
			}
			return ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size %d", v)
			}
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size %v", v)
			}
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
