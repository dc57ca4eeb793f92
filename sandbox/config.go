package sandbox

import (
	"fmt"
	"time"
)

// Config holds sandbox execution configuration.
type Config struct {
	// Timeout bounds the wall-clock duration of a single execution.
	Timeout string `yaml:"timeout" mapstructure:"timeout"`

	// MaxConcurrent caps the number of executions running at once so a
	// pathological script cannot occupy every worker until its timeout fires.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == "" {
		c.Timeout = "5s"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid sandbox timeout %q: %w", c.Timeout, err)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox max_concurrent must be > 0")
	}
	return nil
}

// ParsedTimeout returns the timeout as a duration. Call Validate first.
func (c *Config) ParsedTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}
