package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var envMu sync.Mutex

const testPostgresURL = "postgres://u:p@localhost:5432/db?sslmode=disable"

func TestLoadAll_HappyPath_NoRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", testPostgresURL)

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if cfg.Database.PostgresURL != testPostgresURL {
		t.Fatalf("unexpected PostgresURL: %q", cfg.Database.PostgresURL)
	}
	if cfg.Store.Driver != StorePostgres {
		t.Fatalf("unexpected Store.Driver default: %q", cfg.Store.Driver)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected Server.Address default: %q", cfg.Server.Address)
	}
	if cfg.Scheduler.Interval != 60*time.Second {
		t.Fatalf("unexpected Scheduler.Interval default: %v", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.BatchSize != 100 {
		t.Fatalf("unexpected Scheduler.BatchSize default: %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Dispatch.Window != 5*time.Minute {
		t.Fatalf("unexpected Dispatch.Window default: %v", cfg.Dispatch.Window)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Fatalf("unexpected Dispatch.Workers default: %d", cfg.Dispatch.Workers)
	}
	if cfg.Transport.CountryCode != "55" {
		t.Fatalf("unexpected Transport.CountryCode default: %q", cfg.Transport.CountryCode)
	}
	if cfg.Transport.EvolutionDelay != time.Second {
		t.Fatalf("unexpected Transport.EvolutionDelay default: %v", cfg.Transport.EvolutionDelay)
	}
	if cfg.Recovery.CartLinkBase != "https://loja.com.br/carrinho?id=" {
		t.Fatalf("unexpected Recovery.CartLinkBase default: %q", cfg.Recovery.CartLinkBase)
	}
	if cfg.Redis.Enabled {
		t.Fatalf("expected Redis disabled when REDIS_ADDR is empty")
	}
}

func TestLoadAll_HappyPath_WithRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("POSTGRES_URL", testPostgresURL)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TTL_SECONDS", "10")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Fatalf("expected Redis enabled")
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Fatalf("unexpected Redis.Address: %q", cfg.Redis.Address)
	}
	if cfg.Redis.Password != "secret" {
		t.Fatalf("unexpected Redis.Password: %q", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 2 {
		t.Fatalf("unexpected Redis.DB: %d", cfg.Redis.DB)
	}
	if cfg.Redis.TTL != 10*time.Second {
		t.Fatalf("unexpected Redis.TTL: %v", cfg.Redis.TTL)
	}
	if cfg.Redis.LockTTL != 60*time.Second {
		t.Fatalf("unexpected Redis.LockTTL default: %v", cfg.Redis.LockTTL)
	}
}

func TestLoadAll_MemoryStoreNeedsNoPostgres(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("STORE", "Memory")
	t.Setenv("MEMORY_SEED_FILE", "seed.json")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Fatalf("unexpected Store.Driver: %q", cfg.Store.Driver)
	}
	if cfg.Store.SeedFile != "seed.json" {
		t.Fatalf("unexpected Store.SeedFile: %q", cfg.Store.SeedFile)
	}
	if cfg.Database.PostgresURL != "" {
		t.Fatalf("expected empty PostgresURL, got %q", cfg.Database.PostgresURL)
	}
}

func TestLoadAll_RequiredEnvMissing(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	_, err := LoadAll()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "POSTGRES_URL") {
		t.Fatalf("expected error mentioning POSTGRES_URL, got: %v", err)
	}
}

func TestLoadAll_InvalidInts(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid SCHED_INTERVAL_SECONDS", "SCHED_INTERVAL_SECONDS", "nope"},
		{"invalid SCHED_BATCH_SIZE", "SCHED_BATCH_SIZE", "x"},
		{"invalid DISPATCH_WORKERS", "DISPATCH_WORKERS", "many"},
		{"invalid EVOLUTION_DELAY_MS", "EVOLUTION_DELAY_MS", "1s"},
		{"invalid REDIS_DB", "REDIS_DB", "bad"},
		{"invalid REDIS_TTL_SECONDS", "REDIS_TTL_SECONDS", "bad"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)

			t.Setenv("POSTGRES_URL", testPostgresURL)

			// Enable redis only for redis-related invalid ints.
			if strings.HasPrefix(tc.key, "REDIS_") {
				t.Setenv("REDIS_ADDR", "localhost:6379")
			}

			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestLoadAll_ValidationFailures(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"batch size <= 0", "SCHED_BATCH_SIZE", "0", "SCHED_BATCH_SIZE"},
		{"interval <= 0", "SCHED_INTERVAL_SECONDS", "0", "SCHED_INTERVAL_SECONDS"},
		{"workers <= 0", "DISPATCH_WORKERS", "0", "DISPATCH_WORKERS"},
		{"window <= 0", "DISPATCH_WINDOW_SECONDS", "-5", "DISPATCH_WINDOW_SECONDS"},
		{"country code not digits", "COUNTRY_CODE", "+55", "COUNTRY_CODE"},
		{"unknown store", "STORE", "sqlite", "STORE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)

			t.Setenv("POSTGRES_URL", testPostgresURL)
			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoadAll_ReportsEveryProblem(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("SCHED_BATCH_SIZE", "x")
	t.Setenv("DISPATCH_WORKERS", "y")

	_, err := LoadAll()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	for _, key := range []string{"POSTGRES_URL", "SCHED_BATCH_SIZE", "DISPATCH_WORKERS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error mentioning %s, got: %v", key, err)
		}
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	path := filepath.Join(t.TempDir(), "test.env")
	content := "STORE=memory\nDISPATCH_WORKERS=9\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv sets variables directly; register them for cleanup.
	t.Setenv("STORE", "")
	t.Setenv("DISPATCH_WORKERS", "")
	_ = os.Unsetenv("STORE")
	_ = os.Unsetenv("DISPATCH_WORKERS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Fatalf("unexpected Store.Driver: %q", cfg.Store.Driver)
	}
	if cfg.Dispatch.Workers != 9 {
		t.Fatalf("unexpected Dispatch.Workers: %d", cfg.Dispatch.Workers)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	t.Setenv("STORE", "memory")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestEnvReaderInt(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	var r envReader
	if got := r.int("MISSING", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}

	t.Setenv("N", "123")
	if got := r.int("N", 7); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
	if len(r.errs) != 0 {
		t.Fatalf("unexpected errors: %v", r.errs)
	}

	t.Setenv("BAD", "abc")
	if got := r.int("BAD", 7); got != 7 {
		t.Fatalf("expected default on bad input, got %d", got)
	}
	if len(r.errs) != 1 || !strings.Contains(r.errs[0].Error(), "BAD") {
		t.Fatalf("expected one error mentioning BAD, got: %v", r.errs)
	}
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_ADDRESS",
		"STORE",
		"MEMORY_SEED_FILE",
		"POSTGRES_URL",
		"POSTGRES_CONNECT_TIMEOUT_SECONDS",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_TTL_SECONDS",
		"REDIS_LOCK_TTL_SECONDS",
		"SCHED_INTERVAL_SECONDS",
		"SCHED_BATCH_SIZE",
		"SWEEP_SCHEDULE",
		"DISPATCH_WINDOW_SECONDS",
		"DISPATCH_WORKERS",
		"DISPATCH_MESSAGE_TIMEOUT_SECONDS",
		"ENROLL_GRACE_SECONDS",
		"TRANSPORT_HTTP_TIMEOUT_SECONDS",
		"COUNTRY_CODE",
		"OFFICIAL_API_BASE_URL",
		"EVOLUTION_DELAY_MS",
		"CART_LINK_BASE",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"N",
		"BAD",
	}
	for _, k := range keys {
		// t.Setenv registers restoration of the original value.
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}
