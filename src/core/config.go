package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port               string
	LogLevel           string
	LogFile            LogFileConfig
	RateLimitPerMinute int
	// RateLimitClients bounds how many client buckets the limiter keeps
	RateLimitClients int
	// TrustProxyHeaders keys rate limits on X-Forwarded-For / X-Real-IP; only
	// enable behind a proxy that overwrites them
	TrustProxyHeaders bool
	MaxBodySizeBytes  int64
	ShutdownTimeout   time.Duration
	HTTPClientTimeout time.Duration

	// Owner may pause and resume the ledger
	Owner        string
	FirstAirline string
	EventBuffer  int
	// IndexSeed makes oracle index assignment reproducible; 0 seeds from entropy
	IndexSeed uint64

	Relay RelayConfig
}

// LogFileConfig controls rotated file logging
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// RelayConfig controls the oracle relay
type RelayConfig struct {
	Enabled bool
	// NodeURL is the ledger node a standalone relay talks to
	NodeURL     string
	Oracles     int
	Status      FlightStatus
	AuthSecret  string
	RequireAuth bool
}

// Default values
const (
	DefaultPort               = "8080"
	DefaultLogLevel           = "info"
	DefaultRateLimitPerMinute = 100
	DefaultRateLimitClients   = 10000
	DefaultMaxBodySizeBytes   = 1 << 20 // 1MB
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultHTTPClientTimeout  = 5 * time.Second
	DefaultLogMaxSizeMB       = 100
	DefaultLogMaxBackups      = 5
	DefaultLogMaxAgeDays      = 28
	DefaultRelayOracles       = 20
	DefaultRelayNodeURL       = "http://localhost:8080"
	DefaultRelayStatus        = StatusLateAirline
)

// fileConfig mirrors Config for YAML and JSON files. Durations are strings.
type fileConfig struct {
	Port               string `json:"port" yaml:"port"`
	LogLevel           string `json:"logLevel" yaml:"log_level"`
	LogFile            string `json:"logFile" yaml:"log_file"`
	LogMaxSizeMB       int    `json:"logMaxSizeMb" yaml:"log_max_size_mb"`
	LogMaxBackups      int    `json:"logMaxBackups" yaml:"log_max_backups"`
	LogMaxAgeDays      int    `json:"logMaxAgeDays" yaml:"log_max_age_days"`
	LogCompress        *bool  `json:"logCompress" yaml:"log_compress"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute" yaml:"rate_limit_per_minute"`
	RateLimitClients   int    `json:"rateLimitClients" yaml:"rate_limit_clients"`
	TrustProxyHeaders  *bool  `json:"trustProxyHeaders" yaml:"trust_proxy_headers"`
	MaxBodySizeBytes   int64  `json:"maxBodySizeBytes" yaml:"max_body_size_bytes"`
	ShutdownTimeout    string `json:"shutdownTimeout" yaml:"shutdown_timeout"`
	HTTPClientTimeout  string `json:"httpClientTimeout" yaml:"http_client_timeout"`
	Owner              string `json:"owner" yaml:"owner"`
	FirstAirline       string `json:"firstAirline" yaml:"first_airline"`
	EventBuffer        int    `json:"eventBuffer" yaml:"event_buffer"`
	IndexSeed          uint64 `json:"indexSeed" yaml:"index_seed"`
	RelayEnabled       *bool  `json:"relayEnabled" yaml:"relay_enabled"`
	RelayNodeURL       string `json:"relayNodeUrl" yaml:"relay_node_url"`
	RelayOracles       int    `json:"relayOracles" yaml:"relay_oracles"`
	RelayStatus        string `json:"relayStatus" yaml:"relay_status"`
	RelayAuthSecret    string `json:"relayAuthSecret" yaml:"relay_auth_secret"`
	RequireRelayAuth   *bool  `json:"requireRelayAuth" yaml:"require_relay_auth"`
}

func defaultConfig() *Config {
	return &Config{
		Port:               DefaultPort,
		LogLevel:           DefaultLogLevel,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		RateLimitClients:   DefaultRateLimitClients,
		MaxBodySizeBytes:   DefaultMaxBodySizeBytes,
		ShutdownTimeout:    DefaultShutdownTimeout,
		HTTPClientTimeout:  DefaultHTTPClientTimeout,
		EventBuffer:        DefaultEventBuffer,
		LogFile: LogFileConfig{
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
		Relay: RelayConfig{
			NodeURL: DefaultRelayNodeURL,
			Oracles: DefaultRelayOracles,
			Status:  DefaultRelayStatus,
		},
	}
}

// loadDotEnv loads a .env file from the working directory when one exists
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env file", "error", err)
	}
}

// LoadConfig reads configuration from CONFIG_FILE (if set) and then environment
// variables, which take precedence. Invalid values fall back to defaults.
func LoadConfig() *Config {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			logger.Warn("Failed to load config file, using defaults", "path", path, "error", err)
		}
	}

	cfg.applyEnv()
	return cfg
}

// LoadConfigFromFile reads a YAML or JSON config file on top of the defaults
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}

	return cfg.applyFile(fc)
}

func (cfg *Config) applyFile(fc fileConfig) error {
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" {
		cfg.LogFile.Path = fc.LogFile
	}
	if fc.LogMaxSizeMB > 0 {
		cfg.LogFile.MaxSizeMB = fc.LogMaxSizeMB
	}
	if fc.LogMaxBackups > 0 {
		cfg.LogFile.MaxBackups = fc.LogMaxBackups
	}
	if fc.LogMaxAgeDays > 0 {
		cfg.LogFile.MaxAgeDays = fc.LogMaxAgeDays
	}
	if fc.LogCompress != nil {
		cfg.LogFile.Compress = *fc.LogCompress
	}
	if fc.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = fc.RateLimitPerMinute
	}
	if fc.RateLimitClients > 0 {
		cfg.RateLimitClients = fc.RateLimitClients
	}
	if fc.TrustProxyHeaders != nil {
		cfg.TrustProxyHeaders = *fc.TrustProxyHeaders
	}
	if fc.MaxBodySizeBytes > 0 {
		cfg.MaxBodySizeBytes = fc.MaxBodySizeBytes
	}
	if fc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(fc.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if fc.HTTPClientTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPClientTimeout)
		if err != nil {
			return fmt.Errorf("invalid http_client_timeout: %w", err)
		}
		cfg.HTTPClientTimeout = d
	}
	if fc.Owner != "" {
		cfg.Owner = fc.Owner
	}
	if fc.FirstAirline != "" {
		cfg.FirstAirline = fc.FirstAirline
	}
	if fc.EventBuffer > 0 {
		cfg.EventBuffer = fc.EventBuffer
	}
	if fc.IndexSeed != 0 {
		cfg.IndexSeed = fc.IndexSeed
	}
	if fc.RelayEnabled != nil {
		cfg.Relay.Enabled = *fc.RelayEnabled
	}
	if fc.RelayNodeURL != "" {
		cfg.Relay.NodeURL = fc.RelayNodeURL
	}
	if fc.RelayOracles > 0 {
		cfg.Relay.Oracles = fc.RelayOracles
	}
	if fc.RelayStatus != "" {
		status, err := ParseFlightStatus(fc.RelayStatus)
		if err != nil {
			return err
		}
		cfg.Relay.Status = status
	}
	if fc.RelayAuthSecret != "" {
		cfg.Relay.AuthSecret = fc.RelayAuthSecret
	}
	if fc.RequireRelayAuth != nil {
		cfg.Relay.RequireAuth = *fc.RequireRelayAuth
	}
	return nil
}

func (cfg *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile.Path = logFile
	}

	if rateLimitEnv := os.Getenv("RATE_LIMIT_PER_MINUTE"); rateLimitEnv != "" {
		if rateLimit, err := strconv.Atoi(rateLimitEnv); err == nil && rateLimit > 0 {
			cfg.RateLimitPerMinute = rateLimit
		}
	}

	if clientsEnv := os.Getenv("RATE_LIMIT_CLIENTS"); clientsEnv != "" {
		if clients, err := strconv.Atoi(clientsEnv); err == nil && clients > 0 {
			cfg.RateLimitClients = clients
		}
	}

	if trust := os.Getenv("TRUST_PROXY_HEADERS"); trust != "" {
		cfg.TrustProxyHeaders = trust == "true"
	}

	if maxBodyEnv := os.Getenv("MAX_BODY_SIZE_BYTES"); maxBodyEnv != "" {
		if maxBody, err := strconv.ParseInt(maxBodyEnv, 10, 64); err == nil && maxBody > 0 {
			cfg.MaxBodySizeBytes = maxBody
		}
	}

	if shutdownTimeout := os.Getenv("SHUTDOWN_TIMEOUT"); shutdownTimeout != "" {
		if duration, err := time.ParseDuration(shutdownTimeout); err == nil {
			cfg.ShutdownTimeout = duration
		}
	}

	if clientTimeout := os.Getenv("HTTP_CLIENT_TIMEOUT"); clientTimeout != "" {
		if duration, err := time.ParseDuration(clientTimeout); err == nil {
			cfg.HTTPClientTimeout = duration
		}
	}

	if owner := os.Getenv("LEDGER_OWNER"); owner != "" {
		cfg.Owner = owner
	}

	if firstAirline := os.Getenv("FIRST_AIRLINE"); firstAirline != "" {
		cfg.FirstAirline = firstAirline
	}

	if bufferEnv := os.Getenv("EVENT_BUFFER"); bufferEnv != "" {
		if buffer, err := strconv.Atoi(bufferEnv); err == nil && buffer > 0 {
			cfg.EventBuffer = buffer
		}
	}

	if seedEnv := os.Getenv("INDEX_SEED"); seedEnv != "" {
		if seed, err := strconv.ParseUint(seedEnv, 10, 64); err == nil {
			cfg.IndexSeed = seed
		}
	}

	if enabled := os.Getenv("RELAY_ENABLED"); enabled != "" {
		cfg.Relay.Enabled = enabled == "true"
	}

	if nodeURL := os.Getenv("RELAY_NODE_URL"); nodeURL != "" {
		cfg.Relay.NodeURL = nodeURL
	}

	if oraclesEnv := os.Getenv("RELAY_ORACLES"); oraclesEnv != "" {
		if oracles, err := strconv.Atoi(oraclesEnv); err == nil && oracles > 0 {
			cfg.Relay.Oracles = oracles
		}
	}

	if statusEnv := os.Getenv("RELAY_STATUS"); statusEnv != "" {
		if status, err := ParseFlightStatus(statusEnv); err == nil {
			cfg.Relay.Status = status
		}
	}

	if secret := os.Getenv("RELAY_AUTH_SECRET"); secret != "" {
		cfg.Relay.AuthSecret = secret
	}

	if required := os.Getenv("REQUIRE_RELAY_AUTH"); required != "" {
		cfg.Relay.RequireAuth = required == "true"
	}
}

// ParseFlightStatus accepts a numeric status code or its name, e.g. "20" or "late_airline"
func ParseFlightStatus(s string) (FlightStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, err := strconv.ParseUint(s, 10, 8); err == nil {
		status := FlightStatus(code)
		if status.Valid() {
			return status, nil
		}
		return 0, fmt.Errorf("unknown flight status code: %d", code)
	}

	for _, status := range []FlightStatus{StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther} {
		if status.String() == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown flight status: %q", s)
}
