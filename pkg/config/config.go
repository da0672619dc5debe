package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading service.
type Config struct {
	Port     string
	GRPCPort string // gRPC health; empty disables it

	// Broker
	Broker          string // "sim" is the only built-in adapter
	DryRun          bool
	SimSymbols      []string
	SimSeed         int64
	SimStepInterval time.Duration // simulated market tick

	// Scan cycle
	ScanInterval     time.Duration
	ScanLimit        int
	PrescreenPercent float64
	UnsubscribeStale bool
	QuoteRate        float64 // quote pulls per second; 0 = unlimited
	QuoteBurst       int
	QuoteMaxAge      time.Duration

	// Momentum thresholds; a thresholds file overrides these.
	ChangePercent  float64
	VolumeLots     int64
	OrderLots      int64
	ThresholdsPath string

	// Pre-trade risk
	EnableTrading       bool
	MaxOrdersPerSession int
	MaxNotionalPerOrder float64
	MaxSessionNotional  float64
	Blocklist           []string

	// Persistence
	DBPath        string
	JournalPath   string // empty disables the event journal
	ResumeSession bool   // replay the journal into the tracker at startup

	// Background services
	AccountSyncInterval   time.Duration
	ReconcileInterval     time.Duration
	WriterBatchSize       int
	WriterFlushInterval   time.Duration
	EventQueueCapacity    int
	BusSubscriberCapacity int

	// Auth
	JWTSecret string

	// Observability
	LogLevel      string
	LogFormat     string // "text" or "json"
	PyroscopeAddr string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "9090"),

		Broker:          strings.ToLower(getEnv("BROKER", "sim")),
		DryRun:          getEnv("DRY_RUN", "true") == "true",
		SimSymbols:      splitAndTrim(getEnv("SIM_SYMBOLS", "2330,2317,2454,2603,3008,2882,1301,2412")),
		SimSeed:         int64(getEnvInt("SIM_SEED", 1)),
		SimStepInterval: getEnvDuration("SIM_STEP_INTERVAL", 2*time.Second),

		ScanInterval:     getEnvDuration("SCAN_INTERVAL", 600*time.Second),
		ScanLimit:        getEnvInt("SCAN_LIMIT", 100),
		PrescreenPercent: getEnvFloat("PRESCREEN_PERCENT", 4.0),
		UnsubscribeStale: getEnv("UNSUBSCRIBE_STALE", "false") == "true",
		QuoteRate:        getEnvFloat("QUOTE_RATE", 20),
		QuoteBurst:       getEnvInt("QUOTE_BURST", 5),
		QuoteMaxAge:      getEnvDuration("QUOTE_MAX_AGE", 30*time.Second),

		ChangePercent:  getEnvFloat("CHANGE_PERCENT", 6.0),
		VolumeLots:     int64(getEnvInt("VOLUME_LOTS", 1000)),
		OrderLots:      int64(getEnvInt("ORDER_LOTS", 1)),
		ThresholdsPath: getEnv("THRESHOLDS_PATH", ""),

		EnableTrading:       getEnv("ENABLE_TRADING", "true") == "true",
		MaxOrdersPerSession: getEnvInt("MAX_ORDERS_PER_SESSION", 20),
		MaxNotionalPerOrder: getEnvFloat("MAX_NOTIONAL_PER_ORDER", 2_000_000),
		MaxSessionNotional:  getEnvFloat("MAX_SESSION_NOTIONAL", 0),
		Blocklist:           splitAndTrim(getEnv("BLOCKLIST", "")),

		DBPath:        getEnv("DB_PATH", "./data/momentum.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "./data/journal.log"),
		ResumeSession: getEnv("RESUME_SESSION", "false") == "true",

		AccountSyncInterval:   getEnvDuration("ACCOUNT_SYNC_INTERVAL", 60*time.Second),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", 60*time.Second),
		WriterBatchSize:       getEnvInt("WRITER_BATCH_SIZE", 100),
		WriterFlushInterval:   getEnvDuration("WRITER_FLUSH_INTERVAL", time.Second),
		EventQueueCapacity:    getEnvInt("EVENT_QUEUE_CAPACITY", 1024),
		BusSubscriberCapacity: getEnvInt("BUS_SUBSCRIBER_CAPACITY", 256),

		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		PyroscopeAddr: getEnv("PYROSCOPE_ADDR", ""),

		Language: strings.ToLower(getEnv("LANGUAGE", "en")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Broker != "sim" {
		errs = append(errs, fmt.Errorf("BROKER %q: only \"sim\" is built in", c.Broker))
	}
	if c.Broker == "sim" && len(c.SimSymbols) == 0 {
		errs = append(errs, errors.New("SIM_SYMBOLS is empty"))
	}
	if c.ScanInterval < time.Second {
		errs = append(errs, fmt.Errorf("SCAN_INTERVAL %v must be at least 1s", c.ScanInterval))
	}
	if c.ScanLimit < 1 || c.ScanLimit > 200 {
		errs = append(errs, fmt.Errorf("SCAN_LIMIT %d must be within 1..200", c.ScanLimit))
	}
	if c.PrescreenPercent < 0 {
		errs = append(errs, fmt.Errorf("PRESCREEN_PERCENT %.2f must not be negative", c.PrescreenPercent))
	}
	if c.ChangePercent <= 0 {
		errs = append(errs, fmt.Errorf("CHANGE_PERCENT %.2f must be positive", c.ChangePercent))
	}
	if c.VolumeLots <= 0 {
		errs = append(errs, fmt.Errorf("VOLUME_LOTS %d must be positive", c.VolumeLots))
	}
	if c.OrderLots <= 0 {
		errs = append(errs, fmt.Errorf("ORDER_LOTS %d must be positive", c.OrderLots))
	}
	if c.QuoteRate < 0 {
		errs = append(errs, fmt.Errorf("QUOTE_RATE %.2f must not be negative", c.QuoteRate))
	}
	if c.MaxOrdersPerSession < 0 || c.MaxNotionalPerOrder < 0 || c.MaxSessionNotional < 0 {
		errs = append(errs, errors.New("risk limits must not be negative"))
	}
	if c.EventQueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_QUEUE_CAPACITY %d must be positive", c.EventQueueCapacity))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is empty"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	switch c.Language {
	case "en", "zh":
	default:
		errs = append(errs, fmt.Errorf("LANGUAGE %q must be en or zh", c.Language))
	}
	return errors.Join(errs...)
}

// Mode names the execution mode for status output.
func (c *Config) Mode() string {
	if c.DryRun {
		return "dry-run"
	}
	return "live"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("600").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
