// Package config loads application configuration from the environment.
// A .env file, when present, is read first; real environment variables
// always win over it.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable of the same name in upper case.
type Config struct {
	Env      string `mapstructure:"app_env"`  // application environment (dev/test/prod)
	Port     string `mapstructure:"app_port"` // HTTP port to listen on
	LogLevel string `mapstructure:"log_level"`

	DBUser string `mapstructure:"db_user"`
	DBPass string `mapstructure:"db_pass"`
	DBHost string `mapstructure:"db_host"` // empty selects the in-memory store
	DBPort string `mapstructure:"db_port"`
	DBName string `mapstructure:"db_name"`

	JWTSecret string `mapstructure:"jwt_secret"`

	HoldDuration   time.Duration `mapstructure:"hold_duration"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
	PreciseExpiry  bool          `mapstructure:"precise_expiry"` // arm a timer per hold in addition to polling

	RabbitMQURL string `mapstructure:"rabbitmq_url"` // empty disables broker publishing/consuming
	RefundLog   string `mapstructure:"refund_log"`

	Redis     RedisConfig     `mapstructure:",squash"`
	RateLimit RateLimitConfig `mapstructure:",squash"`
}

// UseDatabase reports whether a MySQL store is configured.
func (c Config) UseDatabase() bool { return c.DBHost != "" }

var keys = []string{
	"app_env", "app_port", "log_level",
	"db_user", "db_pass", "db_host", "db_port", "db_name",
	"jwt_secret",
	"hold_duration", "sweep_interval", "sweep_batch_size", "precise_expiry",
	"rabbitmq_url", "refund_log",
	"redis_addr", "redis_password", "redis_db", "redis_tls",
	"rate_limit_enabled", "rate_limit_capacity", "rate_limit_refill_tokens",
	"rate_limit_refill_interval", "rate_limit_ttl", "rate_limit_key_strategy",
	"rate_limit_prefix", "rate_limit_debug",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "dev")
	v.SetDefault("app_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_port", "3306")
	v.SetDefault("db_name", "reservations")
	v.SetDefault("hold_duration", 10*time.Minute)
	v.SetDefault("sweep_interval", 5*time.Second)
	v.SetDefault("sweep_batch_size", 500)
	v.SetDefault("precise_expiry", false)
	v.SetDefault("refund_log", "logs/refunds.log")
	v.SetDefault("redis_db", 0)
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_capacity", 60)
	v.SetDefault("rate_limit_refill_tokens", 1)
	v.SetDefault("rate_limit_refill_interval", time.Second)
	v.SetDefault("rate_limit_ttl", 10*time.Minute)
	v.SetDefault("rate_limit_key_strategy", "ip_user_route")
	v.SetDefault("rate_limit_prefix", "rl")
}

// Load reads configuration from .env (if any) and the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromViper(viper.New())
}

// FromViper binds every known key on v to its environment variable and
// decodes the result.
func FromViper(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	c.RateLimit.normalize()
	return c, nil
}
