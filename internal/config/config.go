// Package config loads application configuration: coded defaults, then an
// optional YAML file, then environment variables on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Generation  GenerationConfig  `yaml:"generation"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" env:"SERVER_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimitRPS   int      `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

type DatabaseConfig struct {
	// URL is a postgres DSN. Empty runs the server on the in-memory store.
	URL string `yaml:"url" env:"DATABASE_URL"`
}

type RedisConfig struct {
	// Addr empty disables the cache.
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

type WalletConfig struct {
	SignupGrant int64 `yaml:"signup_grant" env:"SIGNUP_GRANT"`
}

// PricingConfig is the per-kind job cost in points.
type PricingConfig struct {
	Text  int64 `yaml:"text" env:"PRICE_TEXT"`
	Image int64 `yaml:"image" env:"PRICE_IMAGE"`
	Video int64 `yaml:"video" env:"PRICE_VIDEO"`
}

type GenerationConfig struct {
	DispatchInterval time.Duration `yaml:"dispatch_interval" env:"DISPATCH_INTERVAL"`
	OpenAIKey        string        `yaml:"openai_key" env:"OPENAI_API_KEY"`
	TextModel        string        `yaml:"text_model" env:"TEXT_MODEL"`
	ImageModel       string        `yaml:"image_model" env:"IMAGE_MODEL"`
	VideoEndpoint    string        `yaml:"video_endpoint" env:"VIDEO_ENDPOINT"`
	VideoKey         string        `yaml:"video_key" env:"VIDEO_API_KEY"`
	// CallbackBaseURL is the public base URL providers use to reach the
	// job callback endpoint.
	CallbackBaseURL string `yaml:"callback_base_url" env:"CALLBACK_BASE_URL"`
	// CallbackSecret is the shared HMAC secret for callback payloads.
	// Empty skips signature verification.
	CallbackSecret string `yaml:"callback_secret" env:"CALLBACK_SECRET"`
}

type MaintenanceConfig struct {
	SweepSchedule string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the coded defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   25,
			RateLimitBurst: 50,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Wallet: WalletConfig{
			SignupGrant: 100,
		},
		Pricing: PricingConfig{
			Text:  5,
			Image: 10,
			Video: 50,
		},
		Generation: GenerationConfig{
			DispatchInterval: 2 * time.Second,
			CallbackBaseURL:  "http://localhost:8080",
		},
		Maintenance: MaintenanceConfig{
			SweepSchedule: "@hourly",
			Retention:     30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing),
// then applies environment variables on top of the defaults and file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Environment-only configuration.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Pricing.Text <= 0 || c.Pricing.Image <= 0 || c.Pricing.Video <= 0 {
		return fmt.Errorf("job prices must be positive")
	}
	return nil
}
