package orchestrator

import (
	"errors"
	"time"
)

// Default configuration values.
const (
	DefaultComputeTimeout = 2 * time.Minute
	DefaultPersistRetries = 3
	DefaultPersistTimeout = 10 * time.Second
	DefaultPublishRetries = 3
	DefaultPublishTimeout = 5 * time.Second
)

// Config configures an Orchestrator.
type Config struct {
	// ComputeTimeout bounds one generator call.
	ComputeTimeout time.Duration `yaml:"computeTimeout"`

	// PersistRetries is the number of attempts to store a failed status.
	PersistRetries int `yaml:"persistRetries"`

	// PersistTimeout bounds storing a failed status. It applies on a context
	// detached from the request, so failures are recorded even after the
	// caller gave up.
	PersistTimeout time.Duration `yaml:"persistTimeout"`

	// PublishRetries is the number of attempts to publish a terminal event.
	PublishRetries int `yaml:"publishRetries"`

	// PublishTimeout bounds publishing one terminal event.
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ComputeTimeout: DefaultComputeTimeout,
		PersistRetries: DefaultPersistRetries,
		PersistTimeout: DefaultPersistTimeout,
		PublishRetries: DefaultPublishRetries,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.ComputeTimeout == 0 {
		c.ComputeTimeout = d.ComputeTimeout
	}
	if c.PersistRetries == 0 {
		c.PersistRetries = d.PersistRetries
	}
	if c.PersistTimeout == 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = d.PublishRetries
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = d.PublishTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ComputeTimeout < 0 {
		return errors.New("computeTimeout must not be negative")
	}
	if c.PersistRetries < 0 || c.PublishRetries < 0 {
		return errors.New("retry counts must not be negative")
	}
	if c.PersistTimeout < 0 || c.PublishTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}

	return nil
}
