package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Store    StoreConfig
	Server   ServerConfig
	Sync     SyncConfig
	Payment  PaymentConfig
	Admin    AdminConfig
	Kafka    KafkaConfig
	Shutdown time.Duration
	Prompt   time.Duration
}

type StoreConfig struct {
	Backend     string
	SQLitePath  string
	PostgresDSN string
	MaxConns    int
}

type ServerConfig struct {
	Host          string
	Port          int
	PublicBaseURL string
}

type SyncConfig struct {
	Interval      time.Duration
	Burst         int
	RetryAttempts int
	RetryBackoff  time.Duration
}

type PaymentConfig struct {
	Timeout time.Duration
}

type AdminConfig struct {
	CodeFile    string
	DefaultCode string
}

type KafkaConfig struct {
	Brokers       []string
	SalesTopic    string
	OrderTopic    string
	ConsumerGroup string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads envFile (".env" when empty) into the environment, then builds
// the configuration from environment variables. A missing default .env is
// fine; a missing explicit file is an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("env file %s not found", envFile)
		}
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("KIOSK_STORE", StoreSQLite)),
			SQLitePath:  getEnv("KIOSK_DB", "kopikiosk.db"),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
			MaxConns:    getEnvAsInt("POSTGRES_MAX_CONNS", 4),
		},
		Server: ServerConfig{
			Host:          getEnv("HTTP_HOST", "0.0.0.0"),
			Port:          getEnvAsInt("HTTP_PORT", 5000),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:5000"),
		},
		Sync: SyncConfig{
			Interval:      getEnvAsDuration("SYNC_INTERVAL", 300*time.Second),
			Burst:         getEnvAsInt("SYNC_BURST", 32),
			RetryAttempts: getEnvAsInt("SYNC_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getEnvAsDuration("SYNC_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Payment: PaymentConfig{
			Timeout: getEnvAsDuration("QRIS_TIMEOUT", 300*time.Second),
		},
		Admin: AdminConfig{
			CodeFile:    getEnv("ADMIN_CODE_FILE", "credentials/admin_code.txt"),
			DefaultCode: getEnv("DEFAULT_ADMIN_CODE", "1234567890"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			SalesTopic:    getEnv("KAFKA_SALES_TOPIC", "kiosk.sales"),
			OrderTopic:    getEnv("KAFKA_ORDER_TOPIC", "kiosk.orders"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "kopikiosk"),
		},
		Shutdown: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Prompt:   getEnvAsDuration("PROMPT_TIMEOUT", 60*time.Second),
	}

	return cfg, cfg.Validate()
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

/* ================= helpers ================= */

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("KIOSK_DB is empty")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("KIOSK_STORE %q is invalid (want sqlite, postgres or memory)", c.Store.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT is invalid")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("SYNC_RETRY_ATTEMPTS must be positive")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("QRIS_TIMEOUT must be positive")
	}
	if c.Admin.CodeFile == "" {
		return fmt.Errorf("ADMIN_CODE_FILE is empty")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvAsDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if val := strings.TrimSpace(p); val != "" {
			out = append(out, val)
		}
	}
	return out
}
