package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Logger      LoggerConfig
	Mongo       MongoConfig
	Audit       AuditConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Reservation ReservationConfig
}

type ServerConfig struct {
	AppEnv         string
	HTTPPort       string
	GRPCHealthPort string
	RequestTimeout time.Duration
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type MongoConfig struct {
	URI    string
	DBName string
}

// AuditConfig selects the ledger backend: postgres, sqlite or memory
type AuditConfig struct {
	Driver         string
	DSN            string
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ReservationConfig struct {
	Window          time.Duration
	SweeperEnabled  bool
	SweeperInterval time.Duration
	SweeperBatch    int
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:         getEnv("APP_ENV", "development"),
			HTTPPort:       getEnv("HTTP_PORT", "8084"),
			GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", "50053"),
			RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Encoding:          getEnv("LOG_ENCODING", "json"),
			DisableCaller:     getEnvBool("LOG_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOG_DISABLE_STACKTRACE", true),
		},
		Mongo: MongoConfig{
			URI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
			DBName: getEnv("MONGO_DB_NAME", "inventory"),
		},
		Audit: AuditConfig{
			Driver:         getEnv("AUDIT_DRIVER", "sqlite"),
			DSN:            getEnv("AUDIT_DSN", "./data/audit.db"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/audit/migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("STOCK_CACHE_TTL_SECONDS", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "inventory-events"),
		},
		Reservation: ReservationConfig{
			Window:          time.Duration(getEnvInt("RESERVATION_WINDOW_MINUTES", 30)) * time.Minute,
			SweeperEnabled:  getEnvBool("RESERVATION_SWEEPER_ENABLED", true),
			SweeperInterval: time.Duration(getEnvInt("RESERVATION_SWEEPER_INTERVAL_MINUTES", 5)) * time.Minute,
			SweeperBatch:    getEnvInt("RESERVATION_SWEEPER_BATCH_SIZE", 50),
		},
	}
}

// IsDevelopment reports whether the service runs outside production
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.AppEnv == "dev"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
