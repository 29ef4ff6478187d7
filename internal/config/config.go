// Package config loads Sonic Net backend configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Pesapal holds the payment gateway configuration.
type Pesapal struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	IPNURL         string
	Currency       string
	Branch         string
}

// Configured reports whether gateway credentials are present.
// Without them order creation cannot work.
func (p Pesapal) Configured() bool {
	return p.ConsumerKey != "" && p.ConsumerSecret != ""
}

// MikroTik holds the hotspot router management API configuration.
// All fields may be empty; the system then degrades to a payment-and-voucher
// ledger without touching any router.
type MikroTik struct {
	BaseURL  string
	Username string
	Password string
}

// Configured reports whether the router client can be used.
func (m MikroTik) Configured() bool {
	return m.BaseURL != "" && m.Username != "" && m.Password != ""
}

// Admin holds the dashboard credential configuration. PasswordHash is a
// bcrypt hash, never a plaintext password.
type Admin struct {
	Username     string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

// Config is the full backend configuration.
type Config struct {
	ListenAddr    string
	DatabasePath  string
	CodeLength    int
	SweepInterval time.Duration

	Pesapal  Pesapal
	MikroTik MikroTik
	Admin    Admin
}

// Load reads config.yaml (if present) and SONIC_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SONIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("database.path", "sonic.db")
	v.SetDefault("voucher.code_length", 4)
	v.SetDefault("sweeper.interval", "5m")
	v.SetDefault("pesapal.base_url", "https://pay.pesapal.com/v3")
	v.SetDefault("pesapal.currency", "UGX")
	v.SetDefault("pesapal.branch", "Sonic Net")
	v.SetDefault("admin.token_ttl", "12h")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		ListenAddr:    v.GetString("server.listen_addr"),
		DatabasePath:  v.GetString("database.path"),
		CodeLength:    v.GetInt("voucher.code_length"),
		SweepInterval: v.GetDuration("sweeper.interval"),
		Pesapal: Pesapal{
			BaseURL:        v.GetString("pesapal.base_url"),
			ConsumerKey:    v.GetString("pesapal.consumer_key"),
			ConsumerSecret: v.GetString("pesapal.consumer_secret"),
			CallbackURL:    v.GetString("pesapal.callback_url"),
			IPNURL:         v.GetString("pesapal.ipn_url"),
			Currency:       v.GetString("pesapal.currency"),
			Branch:         v.GetString("pesapal.branch"),
		},
		MikroTik: MikroTik{
			BaseURL:  v.GetString("mikrotik.base_url"),
			Username: v.GetString("mikrotik.username"),
			Password: v.GetString("mikrotik.password"),
		},
		Admin: Admin{
			Username:     v.GetString("admin.username"),
			PasswordHash: v.GetString("admin.password_hash"),
			JWTSecret:    v.GetString("admin.jwt_secret"),
			TokenTTL:     v.GetDuration("admin.token_ttl"),
		},
	}

	if cfg.CodeLength < 4 {
		return nil, fmt.Errorf("voucher.code_length must be at least 4, got %d", cfg.CodeLength)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweeper.interval must be positive")
	}

	return cfg, nil
}
