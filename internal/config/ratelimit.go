package config

import "time"

// RateLimitConfig drives the Redis token-bucket limiter on /v1.
type RateLimitConfig struct {
    Enabled        bool          `mapstructure:"rate_limit_enabled"`
    Capacity       int           `mapstructure:"rate_limit_capacity"`
    RefillTokens   int           `mapstructure:"rate_limit_refill_tokens"`
    RefillInterval time.Duration `mapstructure:"rate_limit_refill_interval"`
    TTL            time.Duration `mapstructure:"rate_limit_ttl"`
    KeyStrategy    string        `mapstructure:"rate_limit_key_strategy"`
    Prefix         string        `mapstructure:"rate_limit_prefix"`
    Debug          bool          `mapstructure:"rate_limit_debug"`
}

func (c *RateLimitConfig) normalize() {
    if c.Capacity < 1 { c.Capacity = 1 }
    if c.RefillTokens < 1 { c.RefillTokens = 1 }
    if c.RefillInterval <= 0 { c.RefillInterval = time.Second }
    minTTL := 5 * c.RefillInterval
    if c.TTL < minTTL { c.TTL = minTTL }
    if c.Prefix == "" { c.Prefix = "rl" }
}
