package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "scmrelay.yaml"

// ConfigurationError reports a missing or invalid setting detected at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Field + " " + e.Reason
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("SCMRELAY_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.CORSOrigin, "CORS_ORIGIN")
	setString(&cfg.Server.AppURL, "APP_URL")
	setString(&cfg.Server.EventPath, "EVENT_PATH")
	setDuration(&cfg.Server.RequestTimeout, "SCMRELAY_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "SCMRELAY_WRITE_TIMEOUT")

	setString(&cfg.Upstream.URL, "UNIZO_API_URL")
	setString(&cfg.Upstream.APIKey, "UNIZO_API_KEY")
	setString(&cfg.Upstream.AuthUserID, "UNIZO_AUTH_USER_ID")
	setString(&cfg.Upstream.IntegrationID, "INTEGRATION_ID")
	setString(&cfg.Upstream.TargetOrganization, "TARGET_ORGANIZATION")
	setMillis(&cfg.Upstream.Timeout, "REQUEST_TIMEOUT_MS")

	setInt(&cfg.Retry.MaxRetries, "MAX_RETRIES")
	setMillis(&cfg.Retry.BaseDelay, "RETRY_DELAY_MS")

	setString(&cfg.Webhook.EventSecret, "EVENT_SECRET")
	setString(&cfg.Webhook.HubSecret, "WEBHOOK_SECRET")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Service, "SCMRELAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SCMRELAY_LOG_ASYNC")

	// Rate limiting
	setFloat64(&cfg.Rate.RequestsPerSecond, "SCMRELAY_RATE_RPS")
	setInt(&cfg.Rate.Burst, "RATE_LIMIT_MAX_REQUESTS")
	setDuration(&cfg.Rate.CleanupInterval, "SCMRELAY_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SCMRELAY_RATE_MAX_IDLE_TIME")
	if v := os.Getenv("RATE_LIMIT_WINDOW_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 && cfg.Rate.Burst > 0 {
			cfg.Rate.RequestsPerSecond = float64(cfg.Rate.Burst) / (float64(ms) / 1000)
		}
	}

	setInt(&cfg.Breaker.MaxFailures, "SCMRELAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SCMRELAY_BREAKER_TIMEOUT")

	setInt(&cfg.Registration.Concurrency, "SCMRELAY_REGISTER_CONCURRENCY")
	setDuration(&cfg.Registration.RunTimeout, "SCMRELAY_REGISTER_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "SCMRELAY_NATS_SUBJECT_PREFIX")
	setString(&cfg.NATS.KVBucket, "SCMRELAY_NATS_KV_BUCKET")

	setInt64(&cfg.Cache.L1MaxSizeMB, "SCMRELAY_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.ConfigTTL, "SCMRELAY_CACHE_CONFIG_TTL")

	setBool(&cfg.OTEL.Enabled, "SCMRELAY_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "SCMRELAY_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "SCMRELAY_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	required := []struct {
		field string
		value string
	}{
		{"server.port", cfg.Server.Port},
		{"upstream.url", cfg.Upstream.URL},
		{"upstream.api_key", cfg.Upstream.APIKey},
		{"upstream.auth_user_id", cfg.Upstream.AuthUserID},
		{"upstream.integration_id", cfg.Upstream.IntegrationID},
		{"upstream.target_organization", cfg.Upstream.TargetOrganization},
		{"webhook.event_secret", cfg.Webhook.EventSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigurationError{Field: r.field, Reason: "is required"}
		}
	}

	if cfg.Upstream.Timeout <= 0 {
		return &ConfigurationError{Field: "upstream.timeout", Reason: "must be > 0"}
	}
	if cfg.Retry.MaxRetries < 0 {
		return &ConfigurationError{Field: "retry.max_retries", Reason: "must be >= 0"}
	}
	if cfg.Retry.BaseDelay < 0 {
		return &ConfigurationError{Field: "retry.base_delay", Reason: "must be >= 0"}
	}
	if cfg.Breaker.MaxFailures < 1 {
		return &ConfigurationError{Field: "breaker.max_failures", Reason: "must be >= 1"}
	}
	if cfg.Rate.Burst < 1 {
		return &ConfigurationError{Field: "rate.burst", Reason: "must be >= 1"}
	}
	if cfg.Registration.Concurrency < 1 {
		return &ConfigurationError{Field: "registration.concurrency", Reason: "must be >= 1"}
	}
	if cfg.Server.WriteTimeout <= 0 {
		return &ConfigurationError{Field: "server.write_timeout", Reason: "must be > 0"}
	}
	// The summary is written after the run, so the run must end first.
	if cfg.Registration.RunTimeout <= 0 || cfg.Registration.RunTimeout >= cfg.Server.WriteTimeout {
		return &ConfigurationError{Field: "registration.run_timeout", Reason: "must be > 0 and below server.write_timeout"}
	}
	if !strings.HasPrefix(cfg.Server.EventPath, "/") {
		return &ConfigurationError{Field: "server.event_path", Reason: "must start with /"}
	}
	return nil
}

// Masked returns a copy of the config safe to log.
func (c Config) Masked() Config {
	c.Upstream.APIKey = mask(c.Upstream.APIKey)
	c.Webhook.EventSecret = mask(c.Webhook.EventSecret)
	c.Webhook.HubSecret = mask(c.Webhook.HubSecret)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setMillis reads an integer millisecond value.
func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
