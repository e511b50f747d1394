package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration loaded from RISTORO_* environment
// variables and an optional .env file.
type Config struct {
	// Server
	HTTPAddr        string        `mapstructure:"RISTORO_HTTP_ADDR"`
	GRPCAddr        string        `mapstructure:"RISTORO_GRPC_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"RISTORO_SHUTDOWN_TIMEOUT"`

	// Database. Empty selects the in-memory stores.
	PGDSN string `mapstructure:"RISTORO_PG_DSN"`

	// Auth
	AuthSecret string `mapstructure:"RISTORO_AUTH_SECRET"`
	AuthIssuer string `mapstructure:"RISTORO_AUTH_ISSUER"`

	// Payment gateway. Empty URL selects the static development gateway.
	PaymentURL         string        `mapstructure:"RISTORO_PAYMENT_URL"`
	PaymentSecret      string        `mapstructure:"RISTORO_PAYMENT_SECRET"`
	PaymentCallbackURL string        `mapstructure:"RISTORO_PAYMENT_CALLBACK_URL"`
	PaymentTimeout     time.Duration `mapstructure:"RISTORO_PAYMENT_TIMEOUT"`

	// HTTP edge
	RateBurst   int     `mapstructure:"RISTORO_RATE_BURST"`
	RatePerSec  float64 `mapstructure:"RISTORO_RATE_PER_SEC"`
	CORSOrigins string  `mapstructure:"RISTORO_CORS_ORIGINS"`
}

var defaults = map[string]any{
	"RISTORO_HTTP_ADDR":            ":8080",
	"RISTORO_GRPC_ADDR":            ":9090",
	"RISTORO_SHUTDOWN_TIMEOUT":     10 * time.Second,
	"RISTORO_PG_DSN":               "",
	"RISTORO_AUTH_SECRET":          "",
	"RISTORO_AUTH_ISSUER":          "ristoro",
	"RISTORO_PAYMENT_URL":          "",
	"RISTORO_PAYMENT_SECRET":       "",
	"RISTORO_PAYMENT_CALLBACK_URL": "http://localhost:8080/v1/payments/callback",
	"RISTORO_PAYMENT_TIMEOUT":      15 * time.Second,
	"RISTORO_RATE_BURST":           200,
	"RISTORO_RATE_PER_SEC":         100.0,
	"RISTORO_CORS_ORIGINS":         "",
}

// Load reads configuration from the environment and, when present, a .env
// file in dir. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AuthSecret) == "" {
		return nil, errors.New("RISTORO_AUTH_SECRET is required")
	}
	if strings.TrimSpace(cfg.PaymentURL) != "" && strings.TrimSpace(cfg.PaymentSecret) == "" {
		return nil, errors.New("RISTORO_PAYMENT_SECRET is required when RISTORO_PAYMENT_URL is set")
	}
	if cfg.RateBurst <= 0 || cfg.RatePerSec <= 0 {
		return nil, errors.New("RISTORO_RATE_BURST and RISTORO_RATE_PER_SEC must be positive")
	}
	return cfg, nil
}

// Origins returns the allowed CORS origins. An empty list disables CORS.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
