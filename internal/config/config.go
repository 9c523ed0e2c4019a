package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/arcs-relay/internal/ratelimit"
)

// Config is the full server configuration, loaded from YAML with
// environment variable overrides for secrets and addresses.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"` // WebSocket + management API
		WSPath     string `yaml:"ws_path"`
	} `yaml:"server"`

	Auth struct {
		JWTSigningKey string        `yaml:"jwt_signing_key"`
		TokenExpiry   time.Duration `yaml:"token_expiry"`
		// AllowUnregistered must stay false outside of tests; the server
		// refuses to start with it set.
		AllowUnregistered bool `yaml:"allow_unregistered"`
	} `yaml:"auth"`

	Devices struct {
		CredentialsFile string `yaml:"credentials_file"`
		PostgresDSN     string `yaml:"postgres_dsn"`
	} `yaml:"devices"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Audit struct {
		LogFile string `yaml:"log_file"`
	} `yaml:"audit"`

	RateLimits map[ratelimit.Category]ratelimit.LimitConfig `yaml:"rate_limits"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	cfg := &Config{}
	cfg.Server.ListenAddr = ":8080"
	cfg.Server.WSPath = "/ws"
	cfg.Auth.TokenExpiry = 24 * time.Hour
	cfg.Audit.LogFile = "arcs_audit.log"
	return cfg
}

// Load reads the YAML file at path (if it exists) over the defaults,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Auth.AllowUnregistered {
		return nil, fmt.Errorf("auth.allow_unregistered is not permitted in server configuration")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ARCS_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("JWT_SIGNING_KEY"); v != "" {
		cfg.Auth.JWTSigningKey = v
	}
	if v := os.Getenv("ARCS_CREDENTIALS_FILE"); v != "" {
		cfg.Devices.CredentialsFile = v
	}
	if v := os.Getenv("ARCS_POSTGRES_DSN"); v != "" {
		cfg.Devices.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ARCS_AUDIT_LOG"); v != "" {
		cfg.Audit.LogFile = v
	}
}
