// Package config loads service configuration from the environment with an
// optional .env file for local development. Construction is explicit: Load is
// called once at process start and the result is passed down.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SCOLARA"

// Config holds everything the binaries need to run.
type Config struct {
	Env      string
	HTTPAddr string

	PGDSN string

	AuthSecret string
	TokenTTL   time.Duration

	SendgridAPIKey string
	EmailFrom      string

	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64

	ShutdownTimeout time.Duration
}

// Load reads configuration. Environment variables use the SCOLARA_ prefix
// (SCOLARA_PG_DSN, SCOLARA_AUTH_SECRET, ...); a .env file in the working
// directory is merged in when present.
func Load() (*Config, error) {
	// Ignore a missing .env; only local setups carry one.
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("auth_secret", "")
	v.SetDefault("token_ttl", 15*time.Minute)
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("email_from", "noreply@scolara.org")
	v.SetDefault("rate_limit_per_second", 20)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("max_body_bytes", int64(1<<20))
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Env:                strings.ToLower(v.GetString("env")),
		HTTPAddr:           v.GetString("http_addr"),
		PGDSN:              v.GetString("pg_dsn"),
		AuthSecret:         v.GetString("auth_secret"),
		TokenTTL:           v.GetDuration("token_ttl"),
		SendgridAPIKey:     v.GetString("sendgrid_api_key"),
		EmailFrom:          v.GetString("email_from"),
		RateLimitPerSecond: v.GetInt("rate_limit_per_second"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
		MaxBodyBytes:       v.GetInt64("max_body_bytes"),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
	}
	return cfg, nil
}

// IsProd reports whether the service runs with production settings.
func (c *Config) IsProd() bool { return c.Env == "prod" }

// Hostname is exposed for log enrichment.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
