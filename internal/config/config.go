// Package config reads server settings from the environment, loading a .env
// file first when one is present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseDriver string // "postgres", "sqlite" or "" for memory only
	DatabaseURL    string

	MutationTimeout time.Duration
	CountdownTick   time.Duration
	CountdownFrom   int

	ChatRetention    int
	ChatRateInterval time.Duration
	ChatBurst        int

	EmptyRoomTTL   time.Duration
	ReaperSchedule string

	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load reads .env (if any) and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, applying defaults for unset keys.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		Port:     r.str("PORT", "8080"),
		Env:      r.str("APP_ENV", "development"),
		LogLevel: r.str("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(r.str("DATABASE_DRIVER", "")),
		DatabaseURL:    r.str("DATABASE_URL", ""),

		MutationTimeout: r.duration("MUTATION_TIMEOUT", 5*time.Second),
		CountdownTick:   r.duration("COUNTDOWN_TICK", time.Second),
		CountdownFrom:   r.int("COUNTDOWN_FROM", 3),

		ChatRetention:    r.int("CHAT_RETENTION", 200),
		ChatRateInterval: r.duration("CHAT_RATE_INTERVAL", 500*time.Millisecond),
		ChatBurst:        r.int("CHAT_BURST", 5),

		EmptyRoomTTL:   r.duration("EMPTY_ROOM_TTL", 24*time.Hour),
		ReaperSchedule: r.str("REAPER_SCHEDULE", "@every 10m"),

		AllowedOrigins:  r.list("ALLOWED_ORIGINS", []string{"localhost:*", "127.0.0.1:*"}),
		ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "":
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for driver %q", c.DatabaseDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if c.MutationTimeout <= 0 {
		errs = append(errs, errors.New("MUTATION_TIMEOUT must be positive"))
	}
	if c.CountdownTick <= 0 {
		errs = append(errs, errors.New("COUNTDOWN_TICK must be positive"))
	}
	if c.CountdownFrom < 1 {
		errs = append(errs, errors.New("COUNTDOWN_FROM must be at least 1"))
	}
	if c.ChatRetention < 1 {
		errs = append(errs, errors.New("CHAT_RETENTION must be at least 1"))
	}
	if c.ChatBurst < 1 {
		errs = append(errs, errors.New("CHAT_BURST must be at least 1"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) err() error { return errors.Join(r.errs...) }
