// Package redis provides the Redis-backed key set snapshot store used by
// the validation gate, with OpenTelemetry tracing and structured error
// handling.
//
// Each replica writes the raw JWKS document it fetched from the issuer
// into Redis; when the issuer becomes unreachable, any replica can fall
// back to the most recent snapshot instead of failing requests with a
// dependency error. Snapshots carry raw key material only in its public
// form, exactly as the issuer publishes it.
//
// Create a client using [NewClient] with a [Config]:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, use [NewFromClient] to inject a mock [Cmdable].
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// Default connection pool and timeout settings.
const (
	// DefaultHost is the default Redis hostname.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the default Redis database index.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of connections in the pool.
	DefaultPoolSize = 25

	// DefaultMinIdleConns is the minimum number of idle connections kept
	// in the pool.
	DefaultMinIdleConns = 5

	// DefaultMaxRetries is the maximum number of retries before giving
	// up on a command.
	DefaultMaxRetries = 3

	// DefaultDialTimeout is the maximum time to wait when establishing a
	// new connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout is the maximum time to wait for a read response.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum time to wait for a write to
	// complete.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout is the maximum time for a health check ping
	// when the caller's context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that prevents accidental logging of sensitive
// values such as Redis passwords. Its [Secret.String] and
// [Secret.GoString] methods return a redacted placeholder; use
// [Secret.Value] to retrieve the actual value.
type Secret string

// redacted is the placeholder string returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging of the secret.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string. Handle the returned value with
// care; avoid logging or serializing it.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning "[REDACTED]"
// so the secret never appears in serialized configuration.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Redis connection configuration. It supports both
// URI-based and structured configuration; when [Config.URI] is set it
// takes precedence over Host, Port, DB, and Password.
type Config struct {
	// URI is a Redis connection string, e.g.
	// "redis://:password@host:6379/0". Supports both "redis://" and
	// "rediss://" (TLS) schemes.
	URI string `json:"uri,omitempty" yaml:"uri" env:"REDIS_URI"`

	// Host is the Redis server hostname or IP address.
	Host string `json:"host,omitempty" yaml:"host" env:"REDIS_HOST"`

	// Port is the Redis server port.
	Port int `json:"port,omitempty" yaml:"port" env:"REDIS_PORT"`

	// DB is the Redis database index.
	DB int `json:"db" yaml:"db" env:"REDIS_DB"`

	// Password is the Redis password, redacted in all string output.
	Password Secret `json:"-" yaml:"-" env:"REDIS_PASSWORD"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size" env:"REDIS_POOL_SIZE"`

	// MinIdleConns is the minimum number of idle pooled connections.
	MinIdleConns int `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`

	// MaxRetries is the maximum number of command retries. Set to -1 to
	// disable retries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries" env:"REDIS_MAX_RETRIES"`

	// DialTimeout bounds new connection establishment.
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`

	// ReadTimeout bounds waiting for a read response.
	ReadTimeout time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT"`

	// WriteTimeout bounds waiting for a write to complete.
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`

	// TLSEnabled indicates whether to use TLS. When URI uses the
	// "rediss://" scheme, TLS is enabled automatically.
	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"REDIS_TLS_ENABLED"`
}

// DefaultConfig returns a Config with default values. Callers override
// fields as needed before passing the config to [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration for invalid values and applies
// defaults for zero-valued fields. Returns the first validation error
// encountered, or nil if the configuration is valid.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}

	return nil
}

// applyDefaults sets default values for zero-valued pool and timeout
// fields.
func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}
