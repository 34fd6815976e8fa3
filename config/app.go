package config

import (
	"fmt"
	"time"

	"github.com/kbukum/authkit/credstore"
	"github.com/kbukum/authkit/idp"
	"github.com/kbukum/authkit/logger"
	"github.com/kbukum/authkit/observability"
)

// APIConfig locates the remote authentication API.
type APIConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com". Required.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ApplyDefaults applies default values to unset fields.
func (c *APIConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks required fields.
func (c *APIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	return nil
}

// AppConfig is the root configuration for the auth client.
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	API         APIConfig            `yaml:"api" mapstructure:"api"`
	Credentials credstore.Config     `yaml:"credentials" mapstructure:"credentials"`
	Google      idp.GoogleConfig     `yaml:"google" mapstructure:"google"`
	Logging     logger.Config        `yaml:"logging" mapstructure:"logging"`
	Tracing     observability.Config `yaml:"tracing" mapstructure:"tracing"`
}

// ApplyDefaults applies defaults to every section.
func (c *AppConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "authctl"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.API.ApplyDefaults()
	c.Credentials.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Tracing.ApplyDefaults()
	if c.Google.ClientID != "" {
		c.Google.ApplyDefaults()
	}
}

// Validate validates every section. Google sign-in is optional; its
// section is only checked when configured.
func (c *AppConfig) Validate() error {
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, v := range validEnvs {
		if c.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("environment must be one of [development, staging, production] (got: %s)", c.Environment)
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Credentials.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	if c.Google.ClientID != "" {
		if err := c.Google.Validate(); err != nil {
			return err
		}
	}
	return nil
}
