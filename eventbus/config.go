package eventbus

import (
	"fmt"
	"time"
)

// Config holds AMQP connection and behavior configuration.
type Config struct {
	// Enabled controls whether the event bus component is active.
	Enabled bool `mapstructure:"enabled"`

	// Connection settings.
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`

	// URL overrides the individual connection fields when set.
	URL string `mapstructure:"url"`

	// ConnectAttempts bounds the dial retry loop. The delay between
	// attempts is constant, without jitter.
	ConnectAttempts int    `mapstructure:"connect_attempts"`
	ConnectDelay    string `mapstructure:"connect_delay"`

	// Prefetch caps unacknowledged deliveries per consumer.
	Prefetch int `mapstructure:"prefetch"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 {
		c.Port = 5672
	}
	if c.Username == "" {
		c.Username = "guest"
	}
	if c.Password == "" {
		c.Password = "guest"
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 10
	}
	if c.ConnectDelay == "" {
		c.ConnectDelay = "3s"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.URL == "" && c.Host == "" {
		return fmt.Errorf("eventbus: host or url is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("eventbus: invalid port %d", c.Port)
	}
	if _, err := time.ParseDuration(c.ConnectDelay); err != nil {
		return fmt.Errorf("eventbus: invalid connect_delay: %w", err)
	}
	return nil
}

// AMQPURL assembles the dial URL from the connection fields unless an
// explicit URL was configured.
func (c *Config) AMQPURL() string {
	if c.URL != "" {
		return c.URL
	}
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.Username, c.Password, c.Host, c.Port, vhost)
}

// ParsedConnectDelay returns the retry delay. Config must be validated first.
func (c *Config) ParsedConnectDelay() time.Duration {
	d, err := time.ParseDuration(c.ConnectDelay)
	if err != nil {
		return 3 * time.Second
	}
	return d
}
