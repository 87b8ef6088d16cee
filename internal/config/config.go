// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted by SIMUVERSE_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"

	// ProviderExternal marks a provider supplied in code by an embedding
	// program rather than selected by environment.
	ProviderExternal = "external"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Completion provider settings.
	Provider              string // "openai", "ollama", or "mock"
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	Model                 string
	Temperature           float64
	OllamaURL             string
	OllamaModel           string
	CompletionTimeout     time.Duration
	MaxConcurrentRequests int // process-wide cap on in-flight completion calls

	// Action parsing.
	TargetCasing string // "mixed", "lower", or "preserve"

	// Event log settings.
	EventLogBackend    string // "memory", "sqlite", "badger", or "postgres"
	EventLogPath       string // sqlite file or badger directory
	DatabaseURL        string // postgres backend only
	EventBufferSize    int
	EventFlushInterval time.Duration

	// Rate limiting for /generate.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitKey     string // "ip" or "agent"

	// OTEL settings.
	OTELEndpoint    string
	OTELInsecure    bool
	OTELSampleRatio float64
	ServiceName     string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads configuration from environment variables with sensible defaults
// but leaves cross-field checks to Validate, so callers can apply overrides
// first. Every malformed variable is reported, not just the first.
func Parse() (Config, error) {
	var errs []error

	cfg := Config{
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", ""),
		Provider:        strings.ToLower(envStr("SIMUVERSE_PROVIDER", ProviderOpenAI)),
		Model:           envStr("SIMUVERSE_MODEL", "gpt-4o-mini-2024-07-18"),
		OllamaURL:       envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     envStr("OLLAMA_MODEL", "llama3.2"),
		TargetCasing:    envStr("SIMUVERSE_TARGET_CASING", "mixed"),
		EventLogBackend: strings.ToLower(envStr("SIMUVERSE_EVENTLOG_BACKEND", "memory")),
		EventLogPath:    envStr("SIMUVERSE_EVENTLOG_PATH", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "simuverse"),
		LogLevel:        envStr("SIMUVERSE_LOG_LEVEL", "info"),
		RateLimitKey:    strings.ToLower(envStr("SIMUVERSE_RATE_LIMIT_KEY", "ip")),
	}

	var err error
	if cfg.Port, err = envInt("SIMUVERSE_PORT", 3000); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReadTimeout, err = envDuration("SIMUVERSE_READ_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	// Completions take seconds; the write timeout must outlast one.
	if cfg.WriteTimeout, err = envDuration("SIMUVERSE_WRITE_TIMEOUT", 90*time.Second); err != nil {
		errs = append(errs, err)
	}
	maxBody, err := envInt("SIMUVERSE_MAX_REQUEST_BODY_BYTES", 1<<20)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MaxRequestBodyBytes = int64(maxBody)
	if cfg.Temperature, err = envFloat("SIMUVERSE_TEMPERATURE", 1.0); err != nil {
		errs = append(errs, err)
	}
	if cfg.CompletionTimeout, err = envDuration("SIMUVERSE_COMPLETION_TIMEOUT", 60*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxConcurrentRequests, err = envInt("SIMUVERSE_MAX_CONCURRENT_COMPLETIONS", 16); err != nil {
		errs = append(errs, err)
	}
	if cfg.EventBufferSize, err = envInt("SIMUVERSE_EVENT_BUFFER_SIZE", 100); err != nil {
		errs = append(errs, err)
	}
	if cfg.EventFlushInterval, err = envDuration("SIMUVERSE_EVENT_FLUSH_TIMEOUT", time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitEnabled, err = envBool("SIMUVERSE_RATE_LIMIT_ENABLED", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitRPS, err = envFloat("SIMUVERSE_RATE_LIMIT_RPS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitBurst, err = envInt("SIMUVERSE_RATE_LIMIT_BURST", 20); err != nil {
		errs = append(errs, err)
	}
	if cfg.OTELInsecure, err = envBool("SIMUVERSE_OTEL_INSECURE", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.OTELSampleRatio, err = envFloat("SIMUVERSE_OTEL_SAMPLE_RATIO", 1.0); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when SIMUVERSE_PROVIDER=openai"))
		}
	case ProviderOllama:
		if c.OllamaModel == "" {
			errs = append(errs, errors.New("OLLAMA_MODEL is required when SIMUVERSE_PROVIDER=ollama"))
		}
	case ProviderMock, ProviderExternal:
	default:
		errs = append(errs, fmt.Errorf("SIMUVERSE_PROVIDER=%q is not one of openai, ollama, mock", c.Provider))
	}

	switch c.TargetCasing {
	case "mixed", "lower", "preserve":
	default:
		errs = append(errs, fmt.Errorf("SIMUVERSE_TARGET_CASING=%q is not one of mixed, lower, preserve", c.TargetCasing))
	}

	switch c.EventLogBackend {
	case "memory":
	case "sqlite", "badger":
		if c.EventLogPath == "" {
			errs = append(errs, fmt.Errorf("SIMUVERSE_EVENTLOG_PATH is required for the %s event log", c.EventLogBackend))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres event log"))
		}
	default:
		errs = append(errs, fmt.Errorf("SIMUVERSE_EVENTLOG_BACKEND=%q is not one of memory, sqlite, badger, postgres", c.EventLogBackend))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("SIMUVERSE_PORT=%d is out of range", c.Port))
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, errors.New("SIMUVERSE_MAX_CONCURRENT_COMPLETIONS must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("SIMUVERSE_TEMPERATURE=%g must be between 0 and 2", c.Temperature))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("SIMUVERSE_RATE_LIMIT_RPS and SIMUVERSE_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("SIMUVERSE_OTEL_SAMPLE_RATIO=%g must be between 0 and 1", c.OTELSampleRatio))
	}
	if c.RateLimitKey != "ip" && c.RateLimitKey != "agent" {
		errs = append(errs, fmt.Errorf("SIMUVERSE_RATE_LIMIT_KEY=%q is not one of ip, agent", c.RateLimitKey))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
