package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger().WithField("component", "config")

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide
// settings coordinator, separated from business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Session   *SessionConfig   `json:"session"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// WebSocketConfig drives the transport and liveness layer: ping cadence,
// the read deadline that fences dead TCP peers, and the frame size cap.
type WebSocketConfig struct {
	PingInterval     time.Duration `json:"ping_interval"`
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	ReadLimitBytes   int64         `json:"read_limit_bytes"`
}

// SessionConfig drives session and invite lifecycle.
type SessionConfig struct {
	Timeout       time.Duration `json:"timeout"`
	InviteTTL     time.Duration `json:"invite_ttl"`
	MaxClients    int           `json:"max_clients"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// RateLimitConfig drives the per-connection token bucket.
type RateLimitConfig struct {
	Capacity           int     `json:"capacity"`
	RefillRate         float64 `json:"refill_rate"`
	ViolationThreshold int     `json:"violation_threshold"`
}

// FUNCTIONAL DISCOVERY: Defaults sized for a single experiment room: a
// handful of devices, 30-minute idle expiry, 10-minute invite codes
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/syncdeck.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			HeartbeatTimeout: 60 * time.Second,
			ReadTimeout:      90 * time.Second,
			WriteTimeout:     10 * time.Second,
			ReadLimitBytes:   64 * 1024,
		},
		Session: &SessionConfig{
			Timeout:       30 * time.Minute,
			InviteTTL:     10 * time.Minute,
			MaxClients:    8,
			SweepInterval: 60 * time.Second,
		},
		RateLimit: &RateLimitConfig{
			Capacity:           20,
			RefillRate:         10,
			ViolationThreshold: 5,
		},
	}
}

// Validate prevents invalid system configurations from reaching runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.HeartbeatTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket heartbeat timeout must exceed the ping interval")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.ReadLimitBytes <= 0 {
		return fmt.Errorf("WebSocket read limit must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Session.InviteTTL <= 0 {
		return fmt.Errorf("invite TTL must be positive")
	}
	if c.Session.MaxClients < 0 {
		return fmt.Errorf("session max clients cannot be negative")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate limit capacity must be positive")
	}
	if c.RateLimit.RefillRate <= 0 {
		return fmt.Errorf("rate limit refill rate must be positive")
	}
	if c.RateLimit.ViolationThreshold <= 0 {
		return fmt.Errorf("rate limit violation threshold must be positive")
	}

	return nil
}

// LoadFromEnv builds configuration from environment variables over the
// defaults. A .env file in the working directory is loaded first so
// local development matches containerized deployments.
func LoadFromEnv() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env file")
	}

	config := DefaultConfig()

	if port := os.Getenv("SYNCDECK_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("SYNCDECK_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("SYNCDECK_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	applyDuration := func(key string, target *time.Duration) {
		if raw := os.Getenv(key); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*target = d
			}
		}
	}
	applyDuration("SYNCDECK_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	applyDuration("SYNCDECK_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	applyDuration("SYNCDECK_DATABASE_TIMEOUT", &config.Database.Timeout)
	applyDuration("SYNCDECK_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	applyDuration("SYNCDECK_WEBSOCKET_HEARTBEAT_TIMEOUT", &config.WebSocket.HeartbeatTimeout)
	applyDuration("SYNCDECK_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	applyDuration("SYNCDECK_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	applyDuration("SYNCDECK_SESSION_TIMEOUT", &config.Session.Timeout)
	applyDuration("SYNCDECK_INVITE_TTL", &config.Session.InviteTTL)
	applyDuration("SYNCDECK_SWEEP_INTERVAL", &config.Session.SweepInterval)

	if readLimit := os.Getenv("SYNCDECK_WEBSOCKET_READ_LIMIT"); readLimit != "" {
		if n, err := strconv.ParseInt(readLimit, 10, 64); err == nil {
			config.WebSocket.ReadLimitBytes = n
		}
	}
	if maxClients := os.Getenv("SYNCDECK_SESSION_MAX_CLIENTS"); maxClients != "" {
		if n, err := strconv.Atoi(maxClients); err == nil {
			config.Session.MaxClients = n
		}
	}
	if capacity := os.Getenv("SYNCDECK_RATE_LIMIT_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			config.RateLimit.Capacity = n
		}
	}
	if refill := os.Getenv("SYNCDECK_RATE_LIMIT_REFILL_RATE"); refill != "" {
		if f, err := strconv.ParseFloat(refill, 64); err == nil {
			config.RateLimit.RefillRate = f
		}
	}
	if threshold := os.Getenv("SYNCDECK_RATE_LIMIT_VIOLATION_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.RateLimit.ViolationThreshold = n
		}
	}

	return config
}

// ConfigFile is the JSON shape for file-based configuration. Durations
// are strings ("30m", "10s") so operators do not count nanoseconds.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Session   *SessionConfigFile   `json:"session"`
	RateLimit *RateLimitConfig     `json:"rate_limit"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval     string `json:"ping_interval"`
	HeartbeatTimeout string `json:"heartbeat_timeout"`
	ReadTimeout      string `json:"read_timeout"`
	WriteTimeout     string `json:"write_timeout"`
	ReadLimitBytes   int64  `json:"read_limit_bytes"`
}

type SessionConfigFile struct {
	Timeout       string `json:"timeout"`
	InviteTTL     string `json:"invite_ttl"`
	MaxClients    *int   `json:"max_clients"`
	SweepInterval string `json:"sweep_interval"`
}

// LoadFromFile reads JSON configuration, layering it over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	parseDuration := func(raw string, target *time.Duration) {
		if raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*target = d
			}
		}
	}

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		parseDuration(configFile.Database.Timeout, &config.Database.Timeout)
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		parseDuration(configFile.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		parseDuration(configFile.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.ReadLimitBytes > 0 {
			config.WebSocket.ReadLimitBytes = configFile.WebSocket.ReadLimitBytes
		}
		parseDuration(configFile.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		parseDuration(configFile.WebSocket.HeartbeatTimeout, &config.WebSocket.HeartbeatTimeout)
		parseDuration(configFile.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		parseDuration(configFile.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if configFile.Session != nil {
		if configFile.Session.MaxClients != nil {
			config.Session.MaxClients = *configFile.Session.MaxClients
		}
		parseDuration(configFile.Session.Timeout, &config.Session.Timeout)
		parseDuration(configFile.Session.InviteTTL, &config.Session.InviteTTL)
		parseDuration(configFile.Session.SweepInterval, &config.Session.SweepInterval)
	}

	if configFile.RateLimit != nil {
		if configFile.RateLimit.Capacity > 0 {
			config.RateLimit.Capacity = configFile.RateLimit.Capacity
		}
		if configFile.RateLimit.RefillRate > 0 {
			config.RateLimit.RefillRate = configFile.RateLimit.RefillRate
		}
		if configFile.RateLimit.ViolationThreshold > 0 {
			config.RateLimit.ViolationThreshold = configFile.RateLimit.ViolationThreshold
		}
	}

	// Validate after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment
// > defaults, so deployments can mix the sources.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		} else {
			// Environment/defaults still work without the file
			log.WithError(err).Warn("config file ignored")
		}
	}

	return config
}
