package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/tuner/internal/domain"
)

// Config holds the tuner configuration. It is built once at startup and passed by value.
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Store     StoreConfig     `yaml:"store"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SearchConfig describes what is searched and how it is evaluated.
type SearchConfig struct {
	Space          string        `yaml:"space"`
	TrainCommand   string        `yaml:"train_command"`
	TrainArguments string        `yaml:"train_arguments"`
	EvalCommand    string        `yaml:"eval_command"`
	Maximize       bool          `yaml:"maximize"`
	ExpKey         string        `yaml:"exp_key"`
	Workdir        string        `yaml:"workdir"`
	MaxQueueLen    int           `yaml:"max_queue_len"`
	MaxEvals       int           `yaml:"max_evals"`
	TrialTimeout   time.Duration `yaml:"trial_timeout"` // 0 = no limit
	PollInterval   time.Duration `yaml:"poll_interval"`
	Workers        int           `yaml:"workers"`
}

// StoreConfig holds trial store settings.
type StoreConfig struct {
	Driver           string `yaml:"driver"` // redis, sqlite, memory (default: memory)
	Addr             string `yaml:"addr"`   // host:port for redis, file path for sqlite
	DB               int    `yaml:"db"`
	Password         string `yaml:"password"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
}

// OptimizerConfig holds surrogate search settings. Zero values select defaults.
type OptimizerConfig struct {
	InitialSamples int    `yaml:"initial_samples"`
	Candidates     int    `yaml:"candidates"`
	Acquisition    string `yaml:"acquisition"` // ei, pi, lcb, thompson
	Seed           int64  `yaml:"seed"`        // 0 = time based
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// MetricsConfig holds the optional HTTP endpoint settings.
type MetricsConfig struct {
	Addr    string   `yaml:"addr"` // empty disables the endpoint
	APIKeys []string `yaml:"api_keys"`
}

// Store drivers.
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Load reads the optional YAML file at path, applies flags that were set on fs, fills
// defaults and validates the result. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg, err := load(path, fs)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadStore is Load for commands that only talk to the trial store. The search section
// is not required.
func LoadStore(path string, fs *pflag.FlagSet) (Config, error) {
	cfg, err := load(path, fs)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load(path string, fs *pflag.FlagSet) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, domain.Configf("read config %s: %v", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}

	if fs != nil {
		if err := cfg.ApplyOverrides(fs); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Parse decodes a YAML document after ${VAR} substitution. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, domain.Configf("parse config: %v", err)
	}
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Search.ExpKey == "" {
		c.Search.ExpKey = "default"
	}
	if c.Search.MaxQueueLen <= 0 {
		c.Search.MaxQueueLen = 20
	}
	if c.Search.MaxEvals <= 0 {
		c.Search.MaxEvals = 40
	}
	if c.Search.PollInterval <= 0 {
		c.Search.PollInterval = time.Second
	}
	if c.Search.Workers <= 0 {
		c.Search.Workers = 1
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Search.Space == "" {
		return domain.Configf("search.space is required")
	}
	if strings.TrimSpace(c.Search.TrainCommand) == "" {
		return domain.Configf("search.train_command is required")
	}
	if strings.TrimSpace(c.Search.EvalCommand) == "" {
		return domain.Configf("search.eval_command is required")
	}
	if c.Search.TrialTimeout < 0 {
		return domain.Configf("search.trial_timeout must not be negative, got %s", c.Search.TrialTimeout)
	}
	return c.ValidateStore()
}

// ValidateStore checks the store section only.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case DriverRedis, DriverSQLite:
		if c.Store.Addr == "" {
			return domain.Configf("store.addr is required for the %s driver", c.Store.Driver)
		}
	case DriverMemory:
		// ok
	default:
		return domain.Configf("store.driver must be redis, sqlite or memory, got %q", c.Store.Driver)
	}
	if c.Store.DB < 0 {
		return domain.Configf("store.db must not be negative, got %d", c.Store.DB)
	}
	if err := domain.ValidateExpKey(c.Search.ExpKey); err != nil {
		return fmt.Errorf("search.exp_key: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// errorf keeps flag errors in the configuration error class.
func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %w", domain.ErrConfig, fmt.Errorf(format, args...))
}
