// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// scheduler (cron expressions, business timezone), the SQLite store, send
// pacing and retry policy, reconciliation tuning, logging, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ScheduleConfig holds the cron expressions driving the background jobs.
// All expressions are evaluated in the business timezone.
type ScheduleConfig struct {
	DayAdvance  string // CRON_DAY_ADVANCE: daily advancement job
	StepRun     string // CRON_STEP_RUN: hourly step execution (business hours)
	FullSync    string // CRON_FULL_SYNC: nightly reconciliation
	QuickSync   string // CRON_QUICK_SYNC: six-hourly divergence check
	RetryFailed string // CRON_RETRY_FAILED: hourly failed-action retry
}

// RetryConfig tunes the backoff executor wrapped around channel sends.
type RetryConfig struct {
	InitialInterval time.Duration // SEND_RETRY_INITIAL
	MaxInterval     time.Duration // SEND_RETRY_MAX_INTERVAL
	MaxAttempts     int           // SEND_RETRY_ATTEMPTS
}

// ChannelConfig points at the channel provider's send API.
type ChannelConfig struct {
	MessageURL   string        // CHANNEL_MESSAGE_URL
	EmailURL     string        // CHANNEL_EMAIL_URL
	InterlockURL string        // CHANNEL_INTERLOCK_URL
	APIKey       string        // CHANNEL_API_KEY
	Timeout      time.Duration // CHANNEL_TIMEOUT
}

// ReconcileConfig tunes the reconciliation service.
type ReconcileConfig struct {
	// RetryWindow bounds how old a failed action may be and still be
	// retried by the hourly pass.
	RetryWindow time.Duration // RECONCILE_RETRY_WINDOW
	// MaxRetries caps reconciliation-driven resends per action.
	MaxRetries int // RECONCILE_MAX_RETRIES
	// StalePendingAfter is the age at which a still-pending send counts
	// as interrupted and is swept into the failed-action retry queue.
	StalePendingAfter time.Duration // RECONCILE_STALE_PENDING_AFTER
	// FullSyncCooldown suppresses quick-sync-triggered full syncs that
	// would start within this window of the previous one.
	FullSyncCooldown time.Duration // RECONCILE_FULL_SYNC_COOLDOWN
	// NurtureHorizon is how far out the reactivation date is set when an
	// enrollment completes without a response.
	NurtureHorizon time.Duration // NURTURE_HORIZON
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops HTTP server (health, metrics, delivery webhooks)
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Store
	DBPath string // SQLite path

	// Tenancy: the scheduler instance serves one tenant scope.
	TenantID string // TENANT_ID

	// Scheduling
	Timezone string // BUSINESS_TIMEZONE (IANA name)
	Cron     ScheduleConfig

	// Step execution
	StepBatchSize int           // STEP_BATCH_SIZE: enrollments per hourly run
	SendRate      float64       // SEND_RATE: sends per second against the channel
	SendBurst     int           // SEND_BURST: token bucket burst
	Retry         RetryConfig
	DeliveryTTL   time.Duration // DELIVERY_TTL: pending-mapping eviction age
	Channel       ChannelConfig

	// Follow-up generation: path to the snippet corpus; empty disables
	// contextual follow-ups and every step keeps its template.
	SnippetsPath string // FOLLOWUP_SNIPPETS_PATH
	// FollowupThreshold is the minimum retrieval score for a variant.
	FollowupThreshold float64 // FOLLOWUP_THRESHOLD

	// Reconciliation
	Reconcile ReconcileConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Ops server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Store
		DBPath: getenv("DB_PATH", "app.db"),

		// Tenancy
		TenantID: getenv("TENANT_ID", "default"),

		// Scheduling
		Timezone: getenv("BUSINESS_TIMEZONE", "America/Mexico_City"),
		Cron: ScheduleConfig{
			DayAdvance:  getenv("CRON_DAY_ADVANCE", "0 7 * * *"),
			StepRun:     getenv("CRON_STEP_RUN", "0 9-18 * * *"),
			FullSync:    getenv("CRON_FULL_SYNC", "0 2 * * *"),
			QuickSync:   getenv("CRON_QUICK_SYNC", "0 */6 * * *"),
			RetryFailed: getenv("CRON_RETRY_FAILED", "30 * * * *"),
		},

		// Step execution
		StepBatchSize: getint("STEP_BATCH_SIZE", 20),
		SendRate:      getfloat("SEND_RATE", 0.5),
		SendBurst:     getint("SEND_BURST", 1),
		Retry: RetryConfig{
			InitialInterval: getdur("SEND_RETRY_INITIAL", 2*time.Second),
			MaxInterval:     getdur("SEND_RETRY_MAX_INTERVAL", 30*time.Second),
			MaxAttempts:     getint("SEND_RETRY_ATTEMPTS", 3),
		},
		DeliveryTTL: getdur("DELIVERY_TTL", time.Hour),
		Channel: ChannelConfig{
			MessageURL:   getenv("CHANNEL_MESSAGE_URL", ""),
			EmailURL:     getenv("CHANNEL_EMAIL_URL", ""),
			InterlockURL: getenv("CHANNEL_INTERLOCK_URL", ""),
			APIKey:       getenv("CHANNEL_API_KEY", ""),
			Timeout:      getdur("CHANNEL_TIMEOUT", 10*time.Second),
		},

		// Follow-up generation
		SnippetsPath:      getenv("FOLLOWUP_SNIPPETS_PATH", ""),
		FollowupThreshold: getfloat("FOLLOWUP_THRESHOLD", 0.15),

		// Reconciliation
		Reconcile: ReconcileConfig{
			RetryWindow:       getdur("RECONCILE_RETRY_WINDOW", 24*time.Hour),
			MaxRetries:        getint("RECONCILE_MAX_RETRIES", 3),
			StalePendingAfter: getdur("RECONCILE_STALE_PENDING_AFTER", time.Hour),
			FullSyncCooldown:  getdur("RECONCILE_FULL_SYNC_COOLDOWN", time.Hour),
			NurtureHorizon:    getdur("NURTURE_HORIZON", 90*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-outreach-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return cfg, errors.New("TENANT_ID must not be empty")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, errors.New("BUSINESS_TIMEZONE must be a valid IANA timezone name")
	}
	if cfg.StepBatchSize < 1 {
		return cfg, errors.New("STEP_BATCH_SIZE must be >= 1")
	}
	if cfg.SendRate <= 0 {
		return cfg, errors.New("SEND_RATE must be > 0")
	}
	if cfg.SendBurst < 1 {
		return cfg, errors.New("SEND_BURST must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return cfg, errors.New("SEND_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.Retry.InitialInterval <= 0 || cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return cfg, errors.New("send retry intervals must be positive and max >= initial")
	}
	if cfg.DeliveryTTL <= 0 {
		return cfg, errors.New("DELIVERY_TTL must be > 0")
	}
	if cfg.FollowupThreshold < 0 || cfg.FollowupThreshold > 1 {
		return cfg, errors.New("FOLLOWUP_THRESHOLD must be in [0,1]")
	}
	if cfg.Reconcile.RetryWindow <= 0 {
		return cfg, errors.New("RECONCILE_RETRY_WINDOW must be > 0")
	}
	if cfg.Reconcile.MaxRetries < 0 {
		return cfg, errors.New("RECONCILE_MAX_RETRIES must be >= 0")
	}
	if cfg.Reconcile.StalePendingAfter <= 0 {
		return cfg, errors.New("RECONCILE_STALE_PENDING_AFTER must be > 0")
	}
	if cfg.Reconcile.FullSyncCooldown < 0 {
		return cfg, errors.New("RECONCILE_FULL_SYNC_COOLDOWN must be >= 0")
	}
	if cfg.Reconcile.NurtureHorizon <= 0 {
		return cfg, errors.New("NURTURE_HORIZON must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// Location resolves the configured business timezone. Call after Load has
// validated the name.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
