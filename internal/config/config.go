package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName string `env:"APP_NAME,default=estatehub"`
	Env     string `env:"APP_ENV,default=development"`
	Host    string `env:"HTTP_HOST,default=0.0.0.0"`
	Port    int    `env:"HTTP_PORT,default=8000"`

	DBDriver   string `env:"DB_DRIVER,default=postgres"`
	SQLitePath string `env:"SQLITE_PATH,default=estatehub.db"`
	PGHost     string `env:"POSTGRES_HOST,default=localhost"`
	PGPort     string `env:"POSTGRES_PORT,default=5432"`
	PGUser     string `env:"POSTGRES_USER,default=postgres"`
	PGPassword string `env:"POSTGRES_PASSWORD,default=postgres"`
	PGDatabase string `env:"POSTGRES_DB,default=estatehub"`

	JWTSecret          string `env:"JWT_SECRET"`
	AccessTokenMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES,default=1440"`
	EncryptKey         string `env:"ENCRYPTION_KEY"`
	LegacyEncryptKeys  string `env:"LEGACY_ENCRYPTION_KEYS"`

	CORSOriginsRaw string `env:"CORS_ORIGINS"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`

	WSSendBuffer      int           `env:"WS_SEND_BUFFER,default=128"`
	WSReadTimeout     time.Duration `env:"WS_READ_TIMEOUT,default=60s"`
	WSWriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT,default=10s"`
	WSMaxMessageBytes int64         `env:"WS_MAX_MESSAGE_BYTES,default=65536"`
	RegistryShards    int           `env:"REGISTRY_SHARDS,default=64"`
	HistoryPageSize   int           `env:"HISTORY_PAGE_SIZE,default=50"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.EncryptKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) DatabaseURL() string {
	if c.DBDriver == "sqlite" {
		return "file:" + c.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PGUser, c.PGPassword),
		Host:     fmt.Sprintf("%s:%s", c.PGHost, c.PGPort),
		Path:     c.PGDatabase,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) CORSOrigins() []string {
	if origins := splitList(c.CORSOriginsRaw); len(origins) > 0 {
		return origins
	}
	return []string{"http://localhost:3000", "http://localhost:5173"}
}

func (c *Config) LegacyKeys() []string {
	return splitList(c.LegacyEncryptKeys)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
