package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

type StoreConfig struct {
	Backend     Backend
	DataDir     string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string
}

type APIConfig struct {
	Addr              string
	Store             StoreConfig
	MarketTickEvery   time.Duration
	SeedFile          string
	StartupSeedStocks bool
	LogLevel          slog.Level
}

type CLIConfig struct {
	APIBaseURL        string
	Store             StoreConfig
	SeedFile          string
	StartupSeedStocks bool
	LogLevel          slog.Level
}

func LoadStoreFromEnv() (StoreConfig, error) {
	cfg := StoreConfig{
		Backend:     Backend(strings.ToLower(envDefault("STOCKCLASS_STORE", string(BackendFile)))),
		DataDir:     strings.TrimSpace(os.Getenv("STOCKCLASS_DATA_DIR")),
		SQLitePath:  strings.TrimSpace(os.Getenv("STOCKCLASS_SQLITE_PATH")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
	}
	return cfg, cfg.Validate()
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
		return nil
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		return nil
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
		return nil
	default:
		return fmt.Errorf("unknown STOCKCLASS_STORE %q (memory|file|sqlite|postgres|redis)", c.Backend)
	}
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STOCKCLASS_API_ADDR", ":8080")
	}

	store, err := LoadStoreFromEnv()
	cfg := APIConfig{
		Addr:              addr,
		Store:             store,
		MarketTickEvery:   envDurationDefault("STOCKCLASS_MARKET_TICK_EVERY", 0),
		SeedFile:          strings.TrimSpace(os.Getenv("STOCKCLASS_SEED_FILE")),
		StartupSeedStocks: envBoolDefault("STOCKCLASS_STARTUP_SEED_STOCKS", true),
		LogLevel:          envLevelDefault("STOCKCLASS_LOG_LEVEL", slog.LevelInfo),
	}
	if err != nil {
		return cfg, err
	}
	if cfg.MarketTickEvery < 0 {
		return cfg, fmt.Errorf("STOCKCLASS_MARKET_TICK_EVERY must be >= 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	store, err := LoadStoreFromEnv()
	return CLIConfig{
		APIBaseURL:        envDefault("STOCKCLASS_API_URL", "http://localhost:8080"),
		Store:             store,
		SeedFile:          strings.TrimSpace(os.Getenv("STOCKCLASS_SEED_FILE")),
		StartupSeedStocks: envBoolDefault("STOCKCLASS_STARTUP_SEED_STOCKS", true),
		LogLevel:          envLevelDefault("STOCKCLASS_LOG_LEVEL", slog.LevelWarn),
	}, err
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}
