// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the service reads at boot.
type Config struct {
	DataDir   string
	Listen    string
	JWTSecret string

	LogLevel  string
	LogFormat string
	LogFile   string

	GeminiAPIKey string
	GeminiModel  string

	TicketEndpoint      string
	TicketEndpointToken string
	DispatchMaxAttempts int
	DispatchBackoff     time.Duration

	AssignmentWindow time.Duration
	DuplicateRadiusM float64
	DuplicateWindow  time.Duration
}

// Load reads .env (if present) then the process environment, applying
// defaults for anything unset.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env always wins because godotenv
	// does not override existing variables.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:   envString("AEGIS_DATA_DIR", "./data"),
		Listen:    envString("AEGIS_LISTEN", ":8080"),
		JWTSecret: os.Getenv("AEGIS_JWT_SECRET"),

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "auto"),
		LogFile:   os.Getenv("LOG_FILE"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envString("GEMINI_MODEL", "gemini-2.5-flash"),

		TicketEndpoint:      os.Getenv("MOBILE_TICKET_CREATION_ENDPOINT"),
		TicketEndpointToken: os.Getenv("MOBILE_TICKET_ENDPOINT_AUTH_TOKEN"),
	}

	var err error
	if cfg.DispatchMaxAttempts, err = envInt("MOBILE_DISPATCH_MAX_ATTEMPTS", 6); err != nil {
		return nil, err
	}
	backoffSeconds, err := envFloat("MOBILE_DISPATCH_INITIAL_BACKOFF_SECONDS", 1.0)
	if err != nil {
		return nil, err
	}
	cfg.DispatchBackoff = time.Duration(backoffSeconds * float64(time.Second))

	windowSeconds, err := envInt("ASSIGNMENT_WINDOW_SECONDS", 600)
	if err != nil {
		return nil, err
	}
	cfg.AssignmentWindow = time.Duration(windowSeconds) * time.Second

	if cfg.DuplicateRadiusM, err = envFloat("DUPLICATE_RADIUS_M", 500); err != nil {
		return nil, err
	}
	dupSeconds, err := envInt("DUPLICATE_WINDOW_SECONDS", 1800)
	if err != nil {
		return nil, err
	}
	cfg.DuplicateWindow = time.Duration(dupSeconds) * time.Second

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("config: MOBILE_DISPATCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.DispatchBackoff <= 0 {
		return fmt.Errorf("config: MOBILE_DISPATCH_INITIAL_BACKOFF_SECONDS must be > 0")
	}
	if c.AssignmentWindow <= 0 {
		return fmt.Errorf("config: ASSIGNMENT_WINDOW_SECONDS must be > 0")
	}
	if c.DuplicateRadiusM <= 0 || c.DuplicateWindow <= 0 {
		return fmt.Errorf("config: duplicate detection radius and window must be > 0")
	}
	return nil
}

// DatabasePath returns the SQLite file location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "aegishub.db")
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
