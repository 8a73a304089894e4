// Package config provides environment configuration for the development
// backend and the chat client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	SSEKeepAlive       time.Duration

	// NATS settings
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string
	EventsEnabled bool

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Chat client
	Client ClientConfig
}

// ClientConfig configures the chat client and its controller.
type ClientConfig struct {
	APIURL            string
	APIToken          string
	TenantID          string
	UserID            string
	DefaultModel      string
	SystemPrompt      string
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		SSEKeepAlive:       getDurationEnv("SSE_KEEPALIVE", 15*time.Second),

		// NATS
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:    getEnv("NATS_CA_FILE", ""),
		NATSCertFile:  getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:   getEnv("NATS_KEY_FILE", ""),
		NATSToken:     getEnv("NATS_TOKEN", ""),
		EventsEnabled: getBoolEnv("EVENTS_ENABLED", false),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "echo"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		// Chat client
		Client: ClientConfig{
			APIURL:            getEnv("CHAT_API_URL", "http://localhost:8080"),
			APIToken:          getEnv("CHAT_API_TOKEN", ""),
			TenantID:          getEnv("CHAT_TENANT_ID", "default"),
			UserID:            getEnv("CHAT_USER_ID", "local-user"),
			DefaultModel:      getEnv("CHAT_DEFAULT_MODEL", ""),
			SystemPrompt:      getEnv("CHAT_SYSTEM_PROMPT", ""),
			RequestTimeout:    getDurationEnv("CHAT_REQUEST_TIMEOUT", 30*time.Second),
			StreamIdleTimeout: getDurationEnv("CHAT_STREAM_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"SERVER_READ_TIMEOUT":  c.ServerReadTimeout,
		"SERVER_WRITE_TIMEOUT": c.ServerWriteTimeout,
		"JWT_EXPIRATION":       c.JWTExpiration,
		"RATE_LIMIT_WINDOW":    c.RateLimitWindow,
		"CHAT_REQUEST_TIMEOUT": c.Client.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Client.StreamIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("CHAT_STREAM_IDLE_TIMEOUT must not be negative, got %s", c.Client.StreamIdleTimeout))
	}
	if c.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests))
	}
	if c.Client.APIURL == "" {
		errs = append(errs, errors.New("CHAT_API_URL must not be empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
