package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "STOCKCLASS_API_ADDR", "STOCKCLASS_STORE", "STOCKCLASS_MARKET_TICK_EVERY", "STOCKCLASS_STARTUP_SEED_STOCKS", "STOCKCLASS_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store.Backend != BackendFile || cfg.MarketTickEvery != 0 || !cfg.StartupSeedStocks || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadAPIFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STOCKCLASS_STORE", "Memory")
	t.Setenv("STOCKCLASS_MARKET_TICK_EVERY", "30s")
	t.Setenv("STOCKCLASS_STARTUP_SEED_STOCKS", "false")
	t.Setenv("STOCKCLASS_LOG_LEVEL", "debug")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Store.Backend != BackendMemory || cfg.MarketTickEvery != 30*time.Second || cfg.StartupSeedStocks || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadAPIFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STOCKCLASS_STORE", "memory")
	t.Setenv("STOCKCLASS_MARKET_TICK_EVERY", "soon")
	t.Setenv("STOCKCLASS_STARTUP_SEED_STOCKS", "maybe")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MarketTickEvery != 0 || !cfg.StartupSeedStocks {
		t.Fatalf("expected fallbacks, got %+v", cfg)
	}
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("STOCKCLASS_STORE", "sqlite")
	t.Setenv("STOCKCLASS_LOG_LEVEL", "")
	t.Setenv("STOCKCLASS_API_URL", "")
	cfg, err := LoadCLIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.LogLevel != slog.LevelWarn || cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("STOCKCLASS_API_URL", "http://class.local:9000")
	cfg, _ = LoadCLIFromEnv()
	if cfg.APIBaseURL != "http://class.local:9000" {
		t.Fatalf("api url=%q", cfg.APIBaseURL)
	}
}

func TestStoreConfigValidate(t *testing.T) {
	tests := []struct {
		cfg     StoreConfig
		wantErr string
	}{
		{cfg: StoreConfig{Backend: BackendMemory}},
		{cfg: StoreConfig{Backend: BackendSQLite}},
		{cfg: StoreConfig{Backend: BackendPostgres}, wantErr: "DATABASE_URL"},
		{cfg: StoreConfig{Backend: BackendPostgres, DatabaseURL: "postgres://localhost/x"}},
		{cfg: StoreConfig{Backend: BackendRedis}, wantErr: "REDIS_URL"},
		{cfg: StoreConfig{Backend: "etcd"}, wantErr: "unknown"},
	}
	for _, tc := range tests {
		err := tc.cfg.Validate()
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.cfg.Backend, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err=%v want mention of %q", tc.cfg.Backend, err, tc.wantErr)
		}
	}
}

func TestLoadSeedStocks(t *testing.T) {
	t.Setenv("SEED_NAME", "Acme Widgets")
	path := filepath.Join(t.TempDir(), "seed.yaml")
	body := `stocks:
  - ticker: acme
    name: ${SEED_NAME}
    price: 12.345
  - ticker: ZED
    price: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	stocks, err := LoadSeedStocks(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stocks) != 2 {
		t.Fatalf("stocks=%d want 2", len(stocks))
	}
	if stocks[0].Ticker != "ACME" || stocks[0].Name != "Acme Widgets" || stocks[0].Price.String() != "12.35" {
		t.Fatalf("unexpected first stock %+v", stocks[0])
	}
	if stocks[1].Name != "ZED" || stocks[1].Price.String() != "3" {
		t.Fatalf("unexpected second stock %+v", stocks[1])
	}
}

func TestLoadSeedStocksErrors(t *testing.T) {
	tests := map[string]string{
		"empty":     "stocks: []\n",
		"duplicate": "stocks:\n  - {ticker: AAA, price: 1}\n  - {ticker: aaa, price: 2}\n",
		"bad price": "stocks:\n  - {ticker: AAA, price: 0}\n",
		"bad tick":  "stocks:\n  - {ticker: 'A B', price: 1}\n",
		"bad yaml":  "stocks: [\n",
	}
	for name, body := range tests {
		path := filepath.Join(t.TempDir(), "seed.yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadSeedStocks(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSeedStocksDefault(t *testing.T) {
	stocks, err := SeedStocks("")
	if err != nil || len(stocks) == 0 {
		t.Fatalf("stocks=%d err=%v", len(stocks), err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "class.env")
	body := "STOCKCLASS_TEST_DOTENV_A=from-file\nSTOCKCLASS_TEST_DOTENV_B=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STOCKCLASS_ENV_FILE", path)
	t.Setenv("STOCKCLASS_TEST_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("STOCKCLASS_TEST_DOTENV_A") })

	if err := LoadDotEnv(); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("STOCKCLASS_TEST_DOTENV_A"); got != "from-file" {
		t.Fatalf("A=%q", got)
	}
	if got := os.Getenv("STOCKCLASS_TEST_DOTENV_B"); got != "from-env" {
		t.Fatalf("B=%q, existing env must win", got)
	}

	t.Setenv("STOCKCLASS_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	if err := LoadDotEnv(); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
