package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port      string
	JWTSecret string

	// Token issuance
	TokenExpiry time.Duration

	// Database
	SQLiteDBPath string

	// AMQP event bus
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Worker
	SyncInterval time.Duration

	// Google Sheets export (optional)
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsJSON string

	// Client
	APIURL           string
	SnapshotPath     string
	TokenPath        string
	OutboxSize       int
	OutboxMaxRetries int
}

func Load() *Config {
	cfg := &Config{
		Port:      getEnv("PORT", "8081"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		TokenExpiry: getEnvDuration("TOKEN_EXPIRY", 7*24*time.Hour),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/expensegrid.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expensegrid"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_events"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 30),

		SyncInterval: getEnvDuration("SYNC_INTERVAL", 30*time.Second),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		APIURL:           getEnv("API_URL", ""),
		SnapshotPath:     getEnv("SNAPSHOT_PATH", defaultClientPath("months.json")),
		TokenPath:        getEnv("TOKEN_PATH", defaultClientPath("token")),
		OutboxSize:       getEnvInt("OUTBOX_SIZE", 128),
		OutboxMaxRetries: getEnvInt("OUTBOX_MAX_RETRIES", 3),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitRPS <= 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: must be positive", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if c.TokenExpiry < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid token expiry %v: must be at least 1 minute", c.TokenExpiry))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleCredentialsJSON == "" {
			errors = append(errors, "GOOGLE_CREDENTIALS_JSON is required when a spreadsheet ID is set")
		}
	}

	if c.APIURL != "" {
		if parsedURL, err := url.Parse(c.APIURL); err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid API URL '%s'", c.APIURL))
		}
	}

	if c.OutboxSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid outbox size %d: must be at least 1", c.OutboxSize))
	} else if c.OutboxSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid outbox size %d: must be at most 10000", c.OutboxSize))
	}
	if c.OutboxMaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid outbox max retries %d: must not be negative", c.OutboxMaxRetries))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// RequireJWTSecret enforces the server-side secret policy. Client commands
// never call this.
func (c *Config) RequireJWTSecret() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	return nil
}

func defaultClientPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".expensegrid", name)
	}
	return filepath.Join(home, ".expensegrid", name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
