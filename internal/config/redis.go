package config

// Redis backs the rate limiter and the refund consumer's deduplication
// keys.  If the server cannot be reached at startup, NewRedisClient returns
// nil and callers degrade: rate limiting is disabled and the refund
// consumer is not started.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
    Addr     string `mapstructure:"redis_addr"`     // host:port; empty disables Redis
    Password string `mapstructure:"redis_password"` // optional password
    DB       int    `mapstructure:"redis_db"`       // database number
    TLS      bool   `mapstructure:"redis_tls"`      // enable TLS
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  The returned client is nil if Addr is empty or the server is
// unreachable.
func NewRedisClient(ctx context.Context, cfg RedisConfig) *redis.Client {
    if cfg.Addr == "" {
        return nil
    }
    var tlsConf *tls.Config
    if cfg.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      cfg.Addr,
        Password:  cfg.Password,
        DB:        cfg.DB,
        TLSConfig: tlsConf,
    })
    pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
