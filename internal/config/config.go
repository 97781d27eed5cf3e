package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	// Enabled is false when no REDIS_ADDR is configured; the engine then
	// runs without cache, rate limiting and idempotency replay.
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	// Enabled is false when no POSTGRES_USER is configured; the engine then
	// keeps inventory in memory only and nothing survives a restart.
	Enabled  bool
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type EngineConfig struct {
	MinHoldTTL        time.Duration
	MaxHoldTTL        time.Duration
	DefaultHoldTTL    time.Duration
	ReaperInterval    time.Duration
	LockWait          time.Duration
	LuckyDipRetries   int
	MaxHoldsPerHolder int
	RateLimit         int
	RateWindow        time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresCfg := PostgresConfig{}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		postgresHost := os.Getenv("POSTGRES_HOST")
		if postgresHost == "" {
			postgresHost = "localhost"
		}

		postgresPort, err := intEnv("POSTGRES_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		postgresPassword := os.Getenv("POSTGRES_PASSWORD")
		if postgresPassword == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
		}

		postgresDB := os.Getenv("POSTGRES_DB")
		if postgresDB == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
		}

		postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
		if postgresSSLMode == "" {
			postgresSSLMode = "disable"
		}

		postgresCfg = PostgresConfig{
			Enabled:  true,
			User:     user,
			Password: postgresPassword,
			Name:     postgresDB,
			Host:     postgresHost,
			Port:     postgresPort,
			SSLMode:  postgresSSLMode,
		}
	}

	redisCfg := RedisConfig{}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB, err := intEnv("REDIS_DB", 0)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		redisCfg = RedisConfig{
			Enabled:  true,
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		}
	}

	engineCfg := EngineConfig{}

	engineCfg.MinHoldTTL, err = durationEnv("HOLD_TTL_MIN", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.MaxHoldTTL, err = durationEnv("HOLD_TTL_MAX", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.DefaultHoldTTL, err = durationEnv("HOLD_TTL_DEFAULT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.ReaperInterval, err = durationEnv("REAPER_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.LockWait, err = durationEnv("LEDGER_LOCK_WAIT", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.LuckyDipRetries, err = intEnv("LUCKY_DIP_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.MaxHoldsPerHolder, err = intEnv("MAX_HOLDS_PER_HOLDER", 1)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.RateLimit, err = intEnv("RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	engineCfg.RateWindow, err = durationEnv("RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Engine:   engineCfg,
	}, nil
}

func intEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return v, nil
}
