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

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	Transport TransportConfig
	Recovery  RecoveryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type StoreConfig struct {
	Driver   string
	SeedFile string
}

type DatabaseConfig struct {
	PostgresURL    string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	LockTTL  time.Duration
}

type SchedulerConfig struct {
	Interval      time.Duration
	BatchSize     int
	SweepSchedule string
}

type DispatchConfig struct {
	Window         time.Duration
	Workers        int
	MessageTimeout time.Duration
	EnrollGrace    time.Duration
}

type TransportConfig struct {
	HTTPTimeout     time.Duration
	CountryCode     string
	OfficialBaseURL string
	EvolutionDelay  time.Duration
}

type RecoveryConfig struct {
	CartLinkBase string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the given .env files (default ".env") when present and then
// builds the configuration from the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return LoadAll()
}

func LoadAll() (*Config, error) {
	var r envReader

	cfg := &Config{
		Server: ServerConfig{
			Address: r.str("SERVER_ADDRESS", ":8080"),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(r.str("STORE", StorePostgres)),
			SeedFile: r.str("MEMORY_SEED_FILE", ""),
		},
		Scheduler: SchedulerConfig{
			Interval:      r.seconds("SCHED_INTERVAL_SECONDS", 60),
			BatchSize:     r.int("SCHED_BATCH_SIZE", 100),
			SweepSchedule: r.str("SWEEP_SCHEDULE", "*/5 * * * *"),
		},
		Dispatch: DispatchConfig{
			Window:         r.seconds("DISPATCH_WINDOW_SECONDS", 300),
			Workers:        r.int("DISPATCH_WORKERS", 4),
			MessageTimeout: r.seconds("DISPATCH_MESSAGE_TIMEOUT_SECONDS", 30),
			EnrollGrace:    r.seconds("ENROLL_GRACE_SECONDS", 60),
		},
		Transport: TransportConfig{
			HTTPTimeout:     r.seconds("TRANSPORT_HTTP_TIMEOUT_SECONDS", 15),
			CountryCode:     r.str("COUNTRY_CODE", "55"),
			OfficialBaseURL: r.str("OFFICIAL_API_BASE_URL", "https://graph.facebook.com/v17.0"),
			EvolutionDelay:  time.Duration(r.int("EVOLUTION_DELAY_MS", 1000)) * time.Millisecond,
		},
		Recovery: RecoveryConfig{
			CartLinkBase: r.str("CART_LINK_BASE", "https://loja.com.br/carrinho?id="),
		},
		Log: LogConfig{
			Level:  r.str("LOG_LEVEL", "info"),
			Format: r.str("LOG_FORMAT", "text"),
		},
		Redis: loadRedisConfig(&r),
	}

	if cfg.Store.Driver == StorePostgres {
		cfg.Database = DatabaseConfig{
			PostgresURL:    r.required("POSTGRES_URL"),
			ConnectTimeout: r.seconds("POSTGRES_CONNECT_TIMEOUT_SECONDS", 30),
		}
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig(r *envReader) RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       r.int("REDIS_DB", 0),
		TTL:      r.seconds("REDIS_TTL_SECONDS", 86400),
		LockTTL:  r.seconds("REDIS_LOCK_TTL_SECONDS", 60),
	}
}

func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(cfg.Store.Driver == StorePostgres || cfg.Store.Driver == StoreMemory, "STORE must be postgres or memory")
	check(cfg.Scheduler.BatchSize > 0, "SCHED_BATCH_SIZE must be > 0")
	check(cfg.Scheduler.Interval > 0, "SCHED_INTERVAL_SECONDS must be > 0")
	check(cfg.Dispatch.Window > 0, "DISPATCH_WINDOW_SECONDS must be > 0")
	check(cfg.Dispatch.Workers > 0, "DISPATCH_WORKERS must be > 0")
	check(cfg.Dispatch.MessageTimeout > 0, "DISPATCH_MESSAGE_TIMEOUT_SECONDS must be > 0")
	check(cfg.Transport.HTTPTimeout > 0, "TRANSPORT_HTTP_TIMEOUT_SECONDS must be > 0")
	check(cfg.Transport.EvolutionDelay >= 0, "EVOLUTION_DELAY_MS must be >= 0")
	check(isDigits(cfg.Transport.CountryCode), "COUNTRY_CODE must be digits")
	if cfg.Redis.Enabled {
		check(cfg.Redis.TTL > 0, "REDIS_TTL_SECONDS must be > 0")
		check(cfg.Redis.LockTTL > 0, "REDIS_LOCK_TTL_SECONDS must be > 0")
	}

	return errors.Join(errs...)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (r *envReader) required(key string) string {
	val := os.Getenv(key)
	if val == "" {
		r.errs = append(r.errs, fmt.Errorf("missing required env var: %s", key))
	}
	return val
}

func (r *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid int for env %s: %s", key, v))
		return def
	}
	return i
}

func (r *envReader) seconds(key string, def int) time.Duration {
	return time.Duration(r.int(key, def)) * time.Second
}
