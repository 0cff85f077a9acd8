package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type HTTP struct {
	Addr string
}

type DB struct {
	// URL is the PostgreSQL DSN. Empty runs spotd against the in-memory
	// store (dev mode).
	URL string
	// LockTimeout bounds row-lock waits; expiry surfaces to callers as a
	// retryable conflict.
	LockTimeout time.Duration
}

type Events struct {
	// Brokers empty disables Kafka publishing; the outbox still records.
	Brokers    []string
	Topic      string
	OutboxPath string
}

type Market struct {
	// Symbols is the whitelist of tradable assets.
	Symbols []string
	// OrderbookTTL caches the public orderbook snapshot between
	// invalidations.
	OrderbookTTL time.Duration
}

type Config struct {
	HTTP    HTTP
	DB      DB
	Events  Events
	Market  Market
	LogFile string
}

func Default() Config {
	return Config{
		HTTP: HTTP{Addr: ":8080"},
		DB: DB{
			URL:         "",
			LockTimeout: 3 * time.Second,
		},
		Events: Events{
			Brokers:    nil,
			Topic:      "openspot.events",
			OutboxPath: "data/outbox",
		},
		Market: Market{
			Symbols:      []string{"BTC", "ETH"},
			OrderbookTTL: 2 * time.Second,
		},
		LogFile: "data/spotd.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.DB.URL = dsn
	}
	if ms := envMillis("DB_LOCK_TIMEOUT_MS"); ms > 0 {
		cfg.DB.LockTimeout = ms
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Events.Topic = topic
	}
	if path := os.Getenv("OUTBOX_PATH"); path != "" {
		cfg.Events.OutboxPath = path
	}
	if symbols := os.Getenv("SYMBOLS"); symbols != "" {
		cfg.Market.Symbols = splitList(symbols)
	}
	if ms := envMillis("ORDERBOOK_CACHE_TTL_MS"); ms > 0 {
		cfg.Market.OrderbookTTL = ms
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}

	return cfg
}

func envMillis(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
