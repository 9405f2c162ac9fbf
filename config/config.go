package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Call      CallConfig
	Redis     RedisConfig
	Recording RecordingConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

// CallConfig bounds the call lifecycle: how long an invite rings, the
// duration budget used when an appointment carries none, and the grace
// period added on top of every budget.
type CallConfig struct {
	RingTimeout     time.Duration
	DefaultDuration time.Duration
	GracePeriod     time.Duration
}

// RedisConfig configures the presence mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr        string
	DB          int
	PresenceTTL time.Duration
}

// RecordingConfig points at the external recording orchestrator.
// Empty BaseURL disables recording calls entirely.
type RecordingConfig struct {
	BaseURL string
	Timeout time.Duration
}

func Load() *Config {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "caredial:caredial@tcp(localhost:3306)/caredial?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "change-me-refresh"),
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			Issuer:        "caredial",
		},
		Call: CallConfig{
			RingTimeout:     getDuration("CALL_RING_TIMEOUT", 30*time.Second),
			DefaultDuration: getDuration("CALL_DEFAULT_DURATION", 60*time.Minute),
			GracePeriod:     getDuration("CALL_GRACE_PERIOD", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			DB:          getInt("REDIS_DB", 0),
			PresenceTTL: getDuration("PRESENCE_TTL", 120*time.Second),
		},
		Recording: RecordingConfig{
			BaseURL: getEnv("RECORDING_BASE_URL", ""),
			Timeout: getDuration("RECORDING_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
