// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devSecret = "dev"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      int    `env:"PORT" envDefault:"8080"`
	PublicURL string `env:"API_URL" envDefault:"http://localhost:8080"`
	APIPrefix string `env:"API_PREFIX" envDefault:"/api/v1"`

	DatabaseURL     string        `env:"DATABASE_URL"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	StoreMaxRetries uint64        `env:"STORE_MAX_RETRIES" envDefault:"3"`

	JWTSecret          string        `env:"JWT_SECRET" envDefault:"dev"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"live-score"`
	ViewerTokenTTL     time.Duration `env:"VIEWER_TOKEN_TTL" envDefault:"24h"`
	ControllerTokenTTL time.Duration `env:"CONTROLLER_TOKEN_TTL" envDefault:"24h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	TombstoneTTL       time.Duration `env:"TOMBSTONE_TTL" envDefault:"1h"`
	ConnOutbox         int           `env:"CONN_OUTBOX" envDefault:"32"`
	EvictOnTokenExpiry bool          `env:"EVICT_ON_TOKEN_EXPIRY" envDefault:"false"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

func (c Config) Production() bool { return c.AppEnv == EnvProduction }

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Load reads .env.production when APP_ENV is production and .env.local
// otherwise, then parses the environment. Variables already set win over
// the dotenv file, and a missing file is not an error.
func Load() (Config, error) {
	file := ".env.local"
	if os.Getenv("APP_ENV") == EnvProduction {
		file = ".env.production"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", file, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Production() && c.JWTSecret == devSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.ConnOutbox <= 0 {
		return errors.New("CONN_OUTBOX must be positive")
	}
	return nil
}
