// Package config provides hierarchical configuration loading for scmrelay.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all scmrelay configuration.
type Config struct {
	Server       Server       `yaml:"server"`
	Upstream     Upstream     `yaml:"upstream"`
	Retry        Retry        `yaml:"retry"`
	Breaker      Breaker      `yaml:"breaker"`
	Webhook      Webhook      `yaml:"webhook"`
	Registration Registration `yaml:"registration"`
	Logging      Logging      `yaml:"logging"`
	Rate         Rate         `yaml:"rate"`
	NATS         NATS         `yaml:"nats"`
	Cache        Cache        `yaml:"cache"`
	OTEL         OTEL         `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// AppURL is the externally reachable base URL of this service. Event
	// subscriptions are registered with AppURL+EventPath as callback.
	AppURL    string `yaml:"app_url"`
	EventPath string `yaml:"event_path"`
	// RequestTimeout bounds ordinary API requests. Bulk registration and
	// the event stream are exempt; registration has its own run_timeout.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// CallbackURL returns the URL the upstream platform delivers events to.
func (s Server) CallbackURL() string {
	return s.AppURL + s.EventPath
}

// Upstream holds the eventing platform connection settings.
type Upstream struct {
	URL                string        `yaml:"url"`
	APIKey             string        `yaml:"api_key"`
	AuthUserID         string        `yaml:"auth_user_id"`
	IntegrationID      string        `yaml:"integration_id"`
	TargetOrganization string        `yaml:"target_organization"`
	Timeout            time.Duration `yaml:"timeout"` // per attempt
}

// Retry holds the outbound retry policy.
type Retry struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// Breaker holds circuit breaker configuration for upstream calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Webhook holds the shared secrets for inbound callbacks.
type Webhook struct {
	EventSecret string `yaml:"event_secret"` // x-unizo-signature
	HubSecret   string `yaml:"hub_secret"`   // x-hub-signature-256, falls back to EventSecret
}

// SCMSecret returns the secret used for the SCM webhook endpoint.
func (w Webhook) SCMSecret() string {
	if w.HubSecret != "" {
		return w.HubSecret
	}
	return w.EventSecret
}

// Registration holds bulk registration tuning.
type Registration struct {
	Concurrency int           `yaml:"concurrency"` // parallel registrations within one page
	RunTimeout  time.Duration `yaml:"run_timeout"` // must stay below server.write_timeout
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Rate holds per-IP rate limiting configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// NATS holds the event relay connection. An empty URL disables relaying.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	KVBucket      string `yaml:"kv_bucket"`
}

// Cache holds the organization config cache settings.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	ConfigTTL   time.Duration `yaml:"config_ttl"`
}

// OTEL holds OpenTelemetry export configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "3000",
			CORSOrigin:     "*",
			AppURL:         "http://localhost:3000",
			EventPath:      "/events",
			RequestTimeout: 60 * time.Second,
			WriteTimeout:   5 * time.Minute,
		},
		Upstream: Upstream{
			URL:     "https://api.unizo.ai/api/v1",
			Timeout: 10 * time.Second,
		},
		Retry: Retry{
			MaxRetries: 3,
			BaseDelay:  time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Registration: Registration{
			Concurrency: 4,
			RunTimeout:  4 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "scmrelay",
		},
		// 100 requests per 15 minutes, expressed as a token bucket.
		Rate: Rate{
			RequestsPerSecond: 100.0 / (15 * 60),
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       30 * time.Minute,
		},
		NATS: NATS{
			SubjectPrefix: "scm",
			KVBucket:      "SCMRELAY_CACHE",
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			ConfigTTL:   5 * time.Minute,
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "scmrelay",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}
