package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hopguard/hopguard-core/pkg/auth"
	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package.
const tracerName = "github.com/hopguard/hopguard-core/pkg/clients/redis"

// snapshotKeyPrefix namespaces JWKS snapshot keys so the snapshot store
// can share a Redis database with other consumers.
const snapshotKeyPrefix = "hopguard:jwks:"

// Cmdable defines the Redis command operations the [Client] wraps. It is
// satisfied by [*redis.Client] and by mock implementations for unit
// testing via [NewFromClient].
type Cmdable interface {
	// Set sets the string value of a key with an optional expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd

	// Get returns the string value of a key.
	Get(ctx context.Context, key string) *redis.StringCmd

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) *redis.IntCmd

	// Ping pings the Redis server.
	Ping(ctx context.Context) *redis.StatusCmd

	// Close closes the client connection.
	Close() error
}

// Compile-time interface compliance checks.
var (
	_ Cmdable            = (*redis.Client)(nil)
	_ auth.SnapshotStore = (*Client)(nil)
)

// Client is a Redis-backed key set snapshot store with OpenTelemetry
// tracing and structured error handling. It implements
// [auth.SnapshotStore] so a validation gate can fall back to the most
// recently fetched JWKS document when the issuer is unreachable.
//
// A Client is safe for concurrent use by multiple goroutines. Create one
// Client per Redis instance and share it across the application.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient creates a Redis client with connection pooling. It validates
// the configuration, creates a go-redis client, and verifies connectivity
// with a ping.
//
// The caller must call [Client.Close] when the client is no longer
// needed.
//
// Error codes returned:
//   - [hgerr.CodeValidation]: invalid configuration
//   - [hgerr.CodeUnavailable]: cannot connect to Redis
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, hgerr.Wrap(err, hgerr.CodeValidation,
			"redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, hgerr.Wrap(err, hgerr.CodeValidation,
				"redis: failed to parse connection URI")
		}
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		if cfg.DialTimeout > 0 {
			opts.DialTimeout = cfg.DialTimeout
		}
		if cfg.ReadTimeout > 0 {
			opts.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			opts.WriteTimeout = cfg.WriteTimeout
		}
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	}

	rdb := redis.NewClient(opts)

	// Verify connectivity before returning the client.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, hgerr.Wrap(err, hgerr.CodeUnavailable,
			"redis: failed to connect to server")
	}

	dbIndex := cfg.DB
	if cfg.URI != "" {
		dbIndex = opts.DB
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: dbIndex,
	}, nil
}

// NewFromClient creates a Client with a pre-existing [Cmdable]. Intended
// for testing with mock implementations. The cfg parameter is stored but
// not validated; pass nil for a zero-value config in tests.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// PutSnapshot stores the raw JWKS document for an issuer with the given
// retention, implementing [auth.SnapshotStore].
func (c *Client) PutSnapshot(ctx context.Context, issuer string, jwks []byte, ttl time.Duration) error {
	key := snapshotKeyPrefix + issuer
	ctx, span := c.startSpan(ctx, "PutSnapshot", fmt.Sprintf("SET %s", key))
	err := c.cmdable.Set(ctx, key, jwks, ttl).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: failed to store key set snapshot")
	}
	return nil
}

// GetSnapshot returns the stored JWKS document for an issuer,
// implementing [auth.SnapshotStore]. Returns an error with
// [hgerr.CodeNotFound] when no snapshot exists.
func (c *Client) GetSnapshot(ctx context.Context, issuer string) ([]byte, error) {
	key := snapshotKeyPrefix + issuer
	ctx, span := c.startSpan(ctx, "GetSnapshot", fmt.Sprintf("GET %s", key))
	val, err := c.cmdable.Get(ctx, key).Bytes()
	finishSpan(span, err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, hgerr.Newf(hgerr.CodeNotFound,
				"redis: no key set snapshot for issuer %q", issuer)
		}
		return nil, wrapError(err, "redis: failed to read key set snapshot")
	}
	return val, nil
}

// DeleteSnapshot removes the stored JWKS document for an issuer. Deleting
// a snapshot that does not exist is not an error.
func (c *Client) DeleteSnapshot(ctx context.Context, issuer string) error {
	key := snapshotKeyPrefix + issuer
	ctx, span := c.startSpan(ctx, "DeleteSnapshot", fmt.Sprintf("DEL %s", key))
	err := c.cmdable.Del(ctx, key).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: failed to delete key set snapshot")
	}
	return nil
}

// Health verifies that the Redis connection is alive by executing a ping.
// It applies [DefaultHealthTimeout] if the provided context has no
// deadline. Designed for use with readiness probes.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return hgerr.Wrap(err, hgerr.CodeUnavailable,
			"redis: health check failed")
	}
	return nil
}

// Close releases all connection resources. After Close is called, the
// client must not be used. Close is safe to call multiple times.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

// startSpan creates a new OpenTelemetry span with standard database
// semantic attributes.
func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", statement),
	)
	return ctx, span
}

// finishSpan records an error on the span (if any) and ends it. If err is
// nil, the span status is set to OK.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError converts a Redis error to a [*hgerr.Error]. Deadline
// exceedance maps to a retryable timeout code; everything else maps to an
// internal error, including context cancellation, because retrying an
// intentionally canceled request is wasteful.
func wrapError(err error, message string) *hgerr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return hgerr.Wrap(err, hgerr.CodeTimeoutDependency, message)
	}
	return hgerr.Wrap(err, hgerr.CodeInternal, message)
}
