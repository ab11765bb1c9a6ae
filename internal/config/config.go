package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis     RedisConfig
	Upstream  UpstreamConfig
	Cache     CacheConfig
	Reconcile ReconcileConfig
}

// TelemetryConfig feeds logging, tracing and metrics export.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
	MetricsPath   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type UpstreamConfig struct {
	BaseURL          string
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	MaxResponseBytes int64
	SharedRateLimit  bool
}

type CacheConfig struct {
	Driver     string
	TTLSeconds int
	KeyPrefix  string
	ScanCount  int64
}

type ReconcileConfig struct {
	QueueDriver     string
	Workers         int
	QueueSize       int
	MaxRetries      int
	RetryDelay      time.Duration
	RefreshInterval time.Duration
	RefreshLockTTL  time.Duration
	ScheduleTimeout time.Duration
	WarmUp          bool

	Stream           string
	ConsumerGroup    string
	ConsumerName     string
	DeadLetterStream string
	ClaimMinIdle     time.Duration

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	KafkaDeadLetter string
}

const (
	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"

	QueueDriverMemory = "memory"
	QueueDriverRedis  = "redis"
	QueueDriverKafka  = "kafka"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "catalog"
	}

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "catalog"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		NodeID:      getenvInt64("SNOWFLAKE_NODE_ID", 1),
		Telemetry:   loadTelemetry(),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "catalog"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "catalog.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Upstream: UpstreamConfig{
			BaseURL:          strings.TrimRight(getenv("UPSTREAM_BASE_URL", "https://fakestoreapi.com/products"), "/"),
			Timeout:          getenvDuration("UPSTREAM_TIMEOUT", 5*time.Second),
			RatePerSecond:    getenvFloat("UPSTREAM_RATE_PER_SECOND", 10),
			Burst:            getenvInt("UPSTREAM_BURST", 10),
			MaxResponseBytes: getenvInt64("UPSTREAM_MAX_RESPONSE_BYTES", 10*1024*1024),
			SharedRateLimit:  getenvBool("UPSTREAM_SHARED_RATE_LIMIT", false),
		},
		Cache: CacheConfig{
			Driver:     strings.ToLower(getenv("CACHE_DRIVER", CacheDriverRedis)),
			TTLSeconds: getenvInt("CACHE_TTL_SECONDS", 300),
			KeyPrefix:  getenv("CACHE_KEY_PREFIX", "catalog_item"),
			ScanCount:  getenvInt64("CACHE_SCAN_COUNT", 100),
		},
		Reconcile: ReconcileConfig{
			QueueDriver:     strings.ToLower(getenv("RECONCILE_QUEUE_DRIVER", QueueDriverMemory)),
			Workers:         getenvInt("RECONCILE_WORKERS", 4),
			QueueSize:       getenvInt("RECONCILE_QUEUE_SIZE", 1024),
			MaxRetries:      getenvInt("RECONCILE_MAX_RETRIES", 3),
			RetryDelay:      getenvDuration("RECONCILE_RETRY_DELAY", 60*time.Second),
			RefreshInterval: getenvDuration("RECONCILE_REFRESH_INTERVAL", 0),
			RefreshLockTTL:  getenvDuration("RECONCILE_REFRESH_LOCK_TTL", 30*time.Second),
			ScheduleTimeout: getenvDuration("RECONCILE_SCHEDULE_TIMEOUT", 250*time.Millisecond),
			WarmUp:          getenvBool("RECONCILE_WARM_UP", false),

			Stream:           getenv("RECONCILE_STREAM", "catalog:reconcile"),
			ConsumerGroup:    getenv("RECONCILE_CONSUMER_GROUP", "catalog-workers"),
			ConsumerName:     getenv("RECONCILE_CONSUMER_NAME", hostname),
			DeadLetterStream: getenv("RECONCILE_DEAD_LETTER_STREAM", "catalog:reconcile:dlq"),
			ClaimMinIdle:     getenvDuration("RECONCILE_CLAIM_MIN_IDLE", 5*time.Minute),

			KafkaBrokers:    parseList(getenv("RECONCILE_KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:      getenv("RECONCILE_KAFKA_TOPIC", "catalog.reconcile"),
			KafkaGroupID:    getenv("RECONCILE_KAFKA_GROUP_ID", "catalog-workers"),
			KafkaDeadLetter: getenv("RECONCILE_KAFKA_DEAD_LETTER_TOPIC", "catalog.reconcile.dlq"),
		},
	}

	return cfg
}

func loadTelemetry() TelemetryConfig {
	endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "")))
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return TelemetryConfig{
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OTLPEnabled:   getenvBool("OTEL_ENABLED", endpoint != ""),
		OTLPEndpoint:  endpoint,
		OTLPProtocol:  strings.ToLower(strings.TrimSpace(protocol)),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		MetricsPath:   getenv("METRICS_PATH", "/metrics"),
	}
}

// CacheTTL returns the configured cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
