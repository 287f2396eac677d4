// Package config loads the service settings: defaults first, then an
// optional .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Storage backends accepted in DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MinSecretLength is the shortest JWT_SECRET accepted.
const MinSecretLength = 16

// Config holds runtime settings for the account service.
//
// Fields:
//   - Port: HTTP listen port (PORT).
//   - PublicURL: externally visible base URL; avatar URLs are built on it (PUBLIC_URL).
//   - JWTSecret: HMAC secret for session tokens (JWT_SECRET). Required.
//   - CostFactor: bcrypt work factor (COST_FACTOR).
//   - DBDriver: "sqlite" or "postgres" (DB_DRIVER).
//   - DBPath: SQLite file (DB_PATH).
//   - DatabaseURL: Postgres DSN (DATABASE_URL), required for postgres.
//   - AvatarDir: where avatar images are written and served from (AVATAR_DIR).
//   - LogLevel: slog level (LOG_LEVEL).
type Config struct {
	Port        int
	PublicURL   string
	JWTSecret   string
	CostFactor  int
	DBDriver    string
	DBPath      string
	DatabaseURL string
	AvatarDir   string
	LogLevel    slog.Level
}

// LoadDefaults populates Config with development defaults. JWTSecret has
// no default; it must come from the environment.
func (c *Config) LoadDefaults() {
	c.Port = 3000
	c.CostFactor = 10
	c.DBDriver = DriverSQLite
	c.DBPath = "data/accounts.db"
	c.AvatarDir = "public/images"
	c.LogLevel = slog.LevelInfo
}

// Load builds a Config from defaults, the given .env files (".env" when
// none are named) and the environment. Missing .env files are skipped;
// variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: reading %s: %w", f, err)
		}
	}

	cfg := &Config{}
	cfg.LoadDefaults()
	if err := cfg.parseEnv(); err != nil {
		return nil, err
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseEnv() error {
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT %q is not a number", v)
		}
		c.Port = port
	}
	if v, ok := lookup("COST_FACTOR"); ok {
		cost, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: COST_FACTOR %q is not a number", v)
		}
		c.CostFactor = cost
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("config: LOG_LEVEL %q: want debug, info, warn or error", v)
		}
	}

	if v, ok := lookup("PUBLIC_URL"); ok {
		c.PublicURL = v
	}
	if v, ok := lookup("JWT_SECRET"); ok {
		c.JWTSecret = v
	}
	if v, ok := lookup("DB_DRIVER"); ok {
		c.DBDriver = strings.ToLower(v)
	}
	if v, ok := lookup("DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := lookup("AVATAR_DIR"); ok {
		c.AvatarDir = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if len(c.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength))
	}
	if c.CostFactor < bcrypt.MinCost || c.CostFactor > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("COST_FACTOR must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.CostFactor))
	}

	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH must not be empty"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DB_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver))
	}

	if u, err := url.Parse(c.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_URL must be an absolute http(s) URL, got %q", c.PublicURL))
	}
	if c.AvatarDir == "" {
		errs = append(errs, errors.New("AVATAR_DIR must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// lookup treats an empty variable the same as an unset one.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
