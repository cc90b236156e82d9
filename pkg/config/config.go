package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/payroll/pkg/payrun"
	"github.com/openfroyo/payroll/pkg/scripting"
	"github.com/openfroyo/payroll/pkg/stores"
	"github.com/openfroyo/payroll/pkg/telemetry"
	"github.com/openfroyo/payroll/pkg/webhook"
)

// Config is the configuration of the payroll runtime.
type Config struct {
	// Database configures the SQLite store. Without a path the runtime
	// works on an in-memory store built from the regulation bundles.
	Database stores.Config `yaml:"database" validate:"-"`

	Telemetry   telemetry.Config  `yaml:"telemetry"`
	Scripting   scripting.Options `yaml:"scripting"`
	Payrun      payrun.Options    `yaml:"payrun"`
	Regulations RegulationsConfig `yaml:"regulations"`
	Webhooks    webhook.Config    `yaml:"webhooks"`
}

// RegulationsConfig locates the regulation bundles and share policies.
type RegulationsConfig struct {
	// BundleDir holds YAML, JSON and CUE bundle files.
	BundleDir string `yaml:"bundleDir"`

	// PolicyDir holds additional rego share policies.
	PolicyDir string `yaml:"policyDir"`

	// Watch reloads bundles and policies when files change.
	Watch bool `yaml:"watch"`

	// Debounce delays a reload until file events settle.
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Telemetry: *telemetry.DefaultConfig(),
		Scripting: scripting.DefaultOptions(),
		Payrun:    payrun.DefaultOptions(),
		Regulations: RegulationsConfig{
			BundleDir: "regulations",
			Debounce:  250 * time.Millisecond,
		},
		Webhooks: webhook.DefaultConfig(),
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
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
	if c.Regulations.Watch && c.Regulations.BundleDir == "" {
		return fmt.Errorf("invalid config: watching regulations needs a bundle dir")
	}
	return nil
}
