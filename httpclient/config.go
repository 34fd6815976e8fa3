package httpclient

import (
	"fmt"
	"time"

	"github.com/kbukum/authkit/logger"
	"github.com/kbukum/authkit/resilience"
)

const (
	defaultTimeout = 30 * time.Second
)

// TokenSource returns the current access token, or "" when no session
// exists. It is consulted on every authenticated request.
type TokenSource func() (string, error)

// Config configures the HTTP client.
type Config struct {
	// BaseURL is the base URL prepended to all request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout is the default request timeout. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Headers are default headers applied to all requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// Tokens supplies the bearer token for authenticated requests.
	Tokens TokenSource `yaml:"-" mapstructure:"-"`

	// Retry configures transport-level retry for connection failures and
	// 5xx responses on idempotent requests (GET, HEAD, OPTIONS). Nil
	// disables retry. Non-idempotent methods and authorization failures
	// are never retried through this path.
	Retry *resilience.RetryConfig `yaml:"-" mapstructure:"-"`

	// Logger, when set, logs each request at debug level.
	Logger *logger.Logger `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("httpclient: timeout must be positive")
	}
	return nil
}

// DefaultRetryConfig returns a retry config suitable for the auth API:
// connection errors and server errors are retried, auth failures are not.
func DefaultRetryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.RetryIf = IsRetryable
	return &cfg
}
