package config

// Package config is the run-wide settings struct, unmarshalled from viper:
// an optional config file, DMSP_* environment variables and bound CLI flags,
// in increasing precedence.

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"dmsp/internal/chunk"
	"dmsp/internal/classifier"
	"dmsp/internal/peptide"

	"github.com/spf13/viper"
)

// DefaultFile is read when no config path is given. A missing default file
// is not an error.
const DefaultFile = "config.json"

// EnvPrefix prefixes environment overrides, e.g. DMSP_CHUNK_SIZE or
// DMSP_MODEL_URL.
const EnvPrefix = "DMSP"

// ErrInvalid wraps every validation failure; the CLI maps it to a usage error.
var ErrInvalid = errors.New("invalid configuration")

// ModelConfig selects the classifier backend.
type ModelConfig struct {
	// tfserving | command
	Backend string `mapstructure:"backend"`

	// TensorFlow Serving base URL, model name and optional version
	URL         string `mapstructure:"url"`
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`

	// long-lived prediction process
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`

	MaxBatch    int `mapstructure:"max_batch"`
	OutputIndex int `mapstructure:"output_index"`
}

// Config is the root-level settings struct.
type Config struct {
	Input     string `mapstructure:"input"`
	Output    string `mapstructure:"output"`
	ChunkSize int    `mapstructure:"chunk_size"`
	MaxLength int    `mapstructure:"max_length"`

	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`

	// sqlite run ledger; empty disables it
	RunsDB   string `mapstructure:"runs_db"`
	Manifest bool   `mapstructure:"manifest"`
	Progress bool   `mapstructure:"progress"`

	Model ModelConfig `mapstructure:"model"`
}

// New returns a viper instance with defaults and environment binding set.
// Every key has a default so AutomaticEnv can see it during Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("input", "")
	v.SetDefault("output", "")
	v.SetDefault("chunk_size", chunk.DefaultSize)
	v.SetDefault("max_length", peptide.DefaultMaxLength)
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("runs_db", "")
	v.SetDefault("manifest", false)
	v.SetDefault("progress", false)
	v.SetDefault("model.backend", classifier.BackendTFServing)
	v.SetDefault("model.url", "http://localhost:8501")
	v.SetDefault("model.name", "dmsp")
	v.SetDefault("model.version", "")
	v.SetDefault("model.timeout_secs", 120)
	v.SetDefault("model.command", "")
	v.SetDefault("model.args", []string{})
	v.SetDefault("model.max_batch", classifier.DefaultMaxBatch)
	v.SetDefault("model.output_index", 0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and unmarshals the merged
// settings. An empty path means DefaultFile, which may be absent.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.Input == "" {
		problems = append(problems, "input path is required")
	}
	if c.Output == "" {
		problems = append(problems, "output path is required")
	}
	if c.ChunkSize < 1 {
		problems = append(problems, fmt.Sprintf("chunk_size must be >= 1, got %d", c.ChunkSize))
	}
	if c.MaxLength < 1 {
		problems = append(problems, fmt.Sprintf("max_length must be >= 1, got %d", c.MaxLength))
	}
	switch c.Model.Backend {
	case classifier.BackendTFServing:
		if c.Model.URL == "" || c.Model.Name == "" {
			problems = append(problems, "model.url and model.name are required for the tfserving backend")
		}
	case classifier.BackendCommand:
		if c.Model.Command == "" {
			problems = append(problems, "model.command is required for the command backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown model.backend %q", c.Model.Backend))
	}
	if c.Model.OutputIndex < 0 {
		problems = append(problems, "model.output_index must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Classifier converts the model section into a backend config.
func (c *Config) Classifier() classifier.Config {
	return classifier.Config{
		Backend:     c.Model.Backend,
		URL:         c.Model.URL,
		Name:        c.Model.Name,
		Version:     c.Model.Version,
		Timeout:     time.Duration(c.Model.TimeoutSecs) * time.Second,
		Command:     c.Model.Command,
		Args:        c.Model.Args,
		MaxBatch:    c.Model.MaxBatch,
		OutputIndex: c.Model.OutputIndex,
		InputLength: c.MaxLength,
	}
}

// ModelLabel is a short human name for the configured model.
func (c *Config) ModelLabel() string {
	switch c.Model.Backend {
	case classifier.BackendCommand:
		return classifier.BackendCommand + ":" + c.Model.Command
	default:
		label := c.Model.Backend + ":" + c.Model.Name
		if c.Model.Version != "" {
			label += "@" + c.Model.Version
		}
		return label
	}
}
