package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	Port                 string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIOrg            string
	OpenAIProject        string
	GeoIPDBPath          string
	StoragePath          string
	DefaultLocale        string
	CORSAllowedOrigins   []string
	MaxUploadBytes       int64
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	UpstreamTimeout      time.Duration
	RateLimitPerMin      int
	PollInterval         time.Duration
	PollMaxAttempts      int
	PollTransientRetries int
	OTelExporter         string
	OTelEndpoint         string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:            os.Getenv("OPENAI_ORG"),
		OpenAIProject:        os.Getenv("OPENAI_PROJECT"),
		GeoIPDBPath:          os.Getenv("GEOIP_DB_PATH"),
		StoragePath:          getEnv("STORAGE_PATH", "./storage"),
		DefaultLocale:        getEnv("DEFAULT_LOCALE", "en"),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		UpstreamTimeout:      time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 90)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		PollInterval:         time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollMaxAttempts:      getEnvInt("POLL_MAX_ATTEMPTS", 120),
		PollTransientRetries: getEnvInt("POLL_TRANSIENT_RETRIES", 3),
		OTelExporter:         strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
		OTelEndpoint:         os.Getenv("OTEL_ENDPOINT"),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
