package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Engine struct {
	EpochDuration time.Duration // collection window deadline
	MaxRequests   int           // request-count close ceiling, 0 = unbounded
	PriceMaxAge   time.Duration // oracle staleness bound at epoch close
	SettleWorkers int           // concurrent pair settlements
	VenueTimeout  time.Duration // per venue call
}

type API struct {
	Addr string
}

type Storage struct {
	// Path of the Pebble epoch archive. Empty keeps the archive in memory.
	Path string
}

type Redis struct {
	// Addr of the shared price cache. Empty disables it.
	Addr     string
	Password string
}

type Kafka struct {
	// Brokers of the settlement event stream. Empty disables publishing.
	Brokers []string
	Topic   string
}

type Config struct {
	Engine   Engine
	API      API
	Storage  Storage
	Redis    Redis
	Kafka    Kafka
	LogFile  string
	LogLevel string
}

func Default() Config {
	return Config{
		Engine: Engine{
			EpochDuration: 2 * time.Second,
			MaxRequests:   0,
			PriceMaxAge:   10 * time.Second,
			SettleWorkers: 8,
			VenueTimeout:  5 * time.Second,
		},
		API:     API{Addr: ":8080"},
		Storage: Storage{Path: "data/epochs"},
		Kafka:   Kafka{Topic: "swapnet.settlements"},
		LogFile: "data/swapnetd.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if ms, ok := envMs("EPOCH_DURATION_MS"); ok {
		cfg.Engine.EpochDuration = ms
	}
	if v := os.Getenv("EPOCH_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxRequests = n
		}
	}
	if ms, ok := envMs("PRICE_MAX_AGE_MS"); ok {
		cfg.Engine.PriceMaxAge = ms
	}
	if v := os.Getenv("SETTLE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.SettleWorkers = n
		}
	}
	if ms, ok := envMs("VENUE_TIMEOUT_MS"); ok {
		cfg.Engine.VenueTimeout = ms
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("ARCHIVE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

func envMs(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
