package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mgmtcore/pkg/telemetry"
)

// Config is the runtime configuration of a management core instance.
type Config struct {
	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`

	// Store configures model persistence.
	Store StoreConfig `yaml:"store"`

	// Policy configures operation authorization.
	Policy PolicyConfig `yaml:"policy"`

	// Descriptions lists CUE files or directories with resource descriptions.
	Descriptions []string `yaml:"descriptions" validate:"dive,required"`

	// Engine configures the operation controller.
	Engine EngineConfig `yaml:"engine"`
}

// StoreConfig configures the SQLite model store.
type StoreConfig struct {
	// Path is the database file. Empty disables persistence.
	Path string `yaml:"path"`

	// MaxOpenConns is the connection pool size.
	MaxOpenConns int `yaml:"max_open_conns" validate:"gte=0"`

	// MaxIdleConns is the number of idle connections kept.
	MaxIdleConns int `yaml:"max_idle_conns" validate:"gte=0"`

	// JournalSize bounds the notification journal; 0 keeps every entry.
	JournalSize int `yaml:"journal_size" validate:"gte=0"`
}

// PolicyConfig configures the Rego authorizer.
type PolicyConfig struct {
	// Enabled turns authorization on.
	Enabled bool `yaml:"enabled"`

	// Paths lists .rego, .json and .yaml policy files or directories.
	Paths []string `yaml:"paths"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// Data is exposed to policies as data.mgmt.
	Data map[string]any `yaml:"data"`
}

// EngineConfig configures the operation controller.
type EngineConfig struct {
	// LockTimeout bounds how long an operation waits for its locks.
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gte=0"`

	// MaxParallel bounds operations applied concurrently from a batch.
	MaxParallel int `yaml:"max_parallel" validate:"gte=1"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Telemetry: telemetry.DefaultConfig(),
		Store: StoreConfig{
			Path:         "mgmt.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			JournalSize:  10000,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Data:    map[string]any{},
		},
		Engine: EngineConfig{
			LockTimeout: 30 * time.Second,
			MaxParallel: 4,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
