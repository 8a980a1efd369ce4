package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultFeedURL is the KOERI bulletin endpoint. Overridable for tests and
// mirrors, but there is only one upstream.
const DefaultFeedURL = "http://www.koeri.boun.edu.tr/scripts/lst1.asp"

// DefaultPollInterval is used when POLL_INTERVAL is unset or invalid.
const DefaultPollInterval = 3600 * time.Second

// Config holds all service settings, populated from environment variables.
// A .env file in the working directory is loaded first if present.
type Config struct {
	DatabaseURL string
	FeedURL     string
	FeedTimeout time.Duration

	PollInterval   time.Duration
	DispatchPacing time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// WhatsApp Cloud API settings for the poll template pass. The poll pass
	// is skipped when NumberID or APIToken is empty.
	WANumberID         string
	WAAPIToken         string
	WATemplateName     string
	WATemplateLanguage string
	WADefaultRecipient string

	// DebugDir receives raw feed responses retained after extraction failures.
	DebugDir string

	// Warnings collects non-fatal configuration problems for the caller to log.
	Warnings []string
}

// Load reads configuration from environment variables, applying defaults
// where unset. Only DATABASE_URL is required.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		FeedURL:     envOrDefault("FEED_URL", DefaultFeedURL),
		HTTPAddr:    envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),

		WANumberID:         os.Getenv("WA_NUMBER_ID"),
		WAAPIToken:         os.Getenv("WA_API_TOKEN"),
		WATemplateName:     os.Getenv("WA_TEMPLATE_NAME"),
		WATemplateLanguage: envOrDefault("WA_TEMPLATE_LANGUAGE", "en"),
		WADefaultRecipient: os.Getenv("WA_DEFAULT_RECIPIENT"),

		DebugDir: envOrDefault("DEBUG_DIR", "data"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	cfg.PollInterval = cfg.parsePollInterval()

	var err error
	if cfg.FeedTimeout, err = parseDuration("FEED_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchPacing, err = parseDuration("DISPATCH_PACING", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parsePollInterval reads POLL_INTERVAL as whole seconds. An invalid or
// non-positive value falls back to the default and records a warning rather
// than failing: the scheduler must come up even with a bad interval.
func (c *Config) parsePollInterval() time.Duration {
	s := os.Getenv("POLL_INTERVAL")
	if s == "" {
		return DefaultPollInterval
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("invalid POLL_INTERVAL %q, using default of %d seconds", s, int(DefaultPollInterval.Seconds())))
		return DefaultPollInterval
	}
	return time.Duration(n) * time.Second
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
