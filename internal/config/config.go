package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	AppURL             string
	RateLimitPerMinute int

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPInviteQueue string

	// Identity
	JWTSecret         string
	JWTIssuer         string
	SessionTTL        time.Duration
	SessionMaxEntries int

	// Attachments
	AttachmentFolder string

	// Logging
	LogLevel  string
	LogFormat string

	// Mail (notify worker)
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Backend selection
	DataBackend string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		AppURL:             getEnv("APP_URL", "http://localhost:8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/moneymanager.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "moneymanager"),
		AMQPInviteQueue: getEnv("AMQP_INVITE_QUEUE", "invite_emails"),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", "moneymanager"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 12*time.Hour),
		SessionMaxEntries: getEnvInt("SESSION_MAX_ENTRIES", 10000),

		AttachmentFolder: getEnv("ATTACHMENT_FOLDER", "MoneyManager_Bills"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		DataBackend: getEnv("DATA_BACKEND", "sqlite"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if err := validatePort("port", c.Port); err != "" {
		errors = append(errors, err)
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
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
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPInviteQueue == "" {
			errors = append(errors, "AMQP invite queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Identity
	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	} else if c.SessionTTL > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at most 7 days", c.SessionTTL))
	}
	if c.SessionMaxEntries < 1 {
		errors = append(errors, fmt.Sprintf("invalid session max entries %d: must be at least 1", c.SessionMaxEntries))
	}

	if strings.TrimSpace(c.AttachmentFolder) == "" {
		errors = append(errors, "attachment folder name cannot be empty")
	}

	if c.AppURL != "" {
		if u, err := url.Parse(c.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid app URL '%s': must be absolute", c.AppURL))
		}
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	validFormats := []string{"text", "json", "tint"}
	if !slices.Contains(validFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}
	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateMailer checks the settings the notify worker needs on top of AMQP.
func (c *Config) ValidateMailer() error {
	var errors []string

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the notify worker")
	}
	if c.SMTPHost == "" {
		errors = append(errors, "SMTP_HOST is required for the notify worker")
	}
	if err := validatePort("SMTP port", c.SMTPPort); err != "" {
		errors = append(errors, err)
	}
	if _, err := mail.ParseAddress(c.SMTPFrom); err != nil {
		errors = append(errors, fmt.Sprintf("invalid SMTP_FROM '%s': %v", c.SMTPFrom, err))
	}
	if c.SMTPUsername != "" && c.SMTPPassword == "" {
		errors = append(errors, "SMTP_PASSWORD is required when SMTP_USERNAME is set")
	}

	if len(errors) > 0 {
		return fmt.Errorf("mailer configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func validatePort(name, value string) string {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Sprintf("invalid %s '%s': must be a number", name, value)
	}
	if port < 1 || port > 65535 {
		return fmt.Sprintf("invalid %s %d: must be between 1 and 65535", name, port)
	}
	return ""
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
