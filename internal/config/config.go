package config

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Redispatch modes
const (
	RedispatchLocal = "local"
	RedispatchKafka = "kafka"
)

// Config stores service settings.
type Config struct {
	Port       int
	LogLevel   string
	DB         DB
	Dispatch   Dispatch
	Redispatch Redispatch
	Kafka      Kafka
	Redis      Redis
	Auth       Auth
	RateLimit  RateLimit
	GRPC       GRPC
	Pprof      Pprof
}

// DB stores PostgreSQL connection settings.
type DB struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN builds a postgres connection string.
func (d DB) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Pass),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Dispatch stores offer dispatch settings.
type Dispatch struct {
	OfferWindow      time.Duration // how long a driver has to answer
	CandidateWindows []int         // ranking limits tried in order
	SweepInterval    time.Duration // 0 disables the in-process sweeper
	SweepBatch       int
	ParkedRetryAfter time.Duration // 0 disables parked retries
	OperationTimeout time.Duration
	SweepLeaseTTL    time.Duration
}

// Redispatch stores settings of the redispatch queue.
type Redispatch struct {
	Mode        string
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Kafka stores broker settings shared by the producer and the worker.
type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Redis stores settings of the sweep lease store. Empty Addr disables the lease.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Auth stores bearer token verification settings.
type Auth struct {
	JWTSecret string
	Issuer    string
}

// RateLimit stores per-client rate limit settings.
type RateLimit struct {
	Enabled    bool
	Limit      int
	Window     time.Duration
	TTL        time.Duration
	MaxBuckets int
}

// GRPC stores settings of the gRPC health endpoint. Zero HealthPort disables it.
type GRPC struct {
	HealthPort int
}

// Pprof stores settings of the profiling listener. Non-loopback clients need basic auth.
type Pprof struct {
	Enabled bool
	Addr    string
	User    string
	Pass    string
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with explicit command line arguments.
func LoadArgs(args []string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("courier-dispatch", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	// go test and other wrappers pass their own flags
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&cfg.Dispatch.OfferWindow, "offer-window", cfg.Dispatch.OfferWindow, "offer response window")
	fs.DurationVar(&cfg.Dispatch.SweepInterval, "sweep-interval", cfg.Dispatch.SweepInterval, "expiry sweep interval, 0 disables")
	fs.StringVar(&cfg.Redispatch.Mode, "redispatch", cfg.Redispatch.Mode, "redispatch mode: local or kafka")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:       defaultPort,
		LogLevel:   defaultLogLevel,
		DB:         DefaultDB(),
		Dispatch:   DefaultDispatch(),
		Redispatch: DefaultRedispatch(),
		Kafka:      DefaultKafka(),
		RateLimit:  DefaultRateLimit(),
		Pprof:      DefaultPprof(),
	}

	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)

	setString("POSTGRES_HOST", &cfg.DB.Host)
	setString("POSTGRES_PORT", &cfg.DB.Port)
	setString("POSTGRES_USER", &cfg.DB.User)
	setString("POSTGRES_PASSWORD", &cfg.DB.Pass)
	setString("POSTGRES_DB", &cfg.DB.Name)
	if _, err := strconv.Atoi(cfg.DB.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid POSTGRES_PORT: %w", err))
	}

	setDuration("OFFER_WINDOW", &cfg.Dispatch.OfferWindow)
	setDuration("SWEEP_INTERVAL", &cfg.Dispatch.SweepInterval)
	setInt("SWEEP_BATCH", &cfg.Dispatch.SweepBatch)
	setDuration("PARKED_RETRY_AFTER", &cfg.Dispatch.ParkedRetryAfter)
	setDuration("OPERATION_TIMEOUT", &cfg.Dispatch.OperationTimeout)
	setDuration("SWEEP_LEASE_TTL", &cfg.Dispatch.SweepLeaseTTL)
	if v := os.Getenv("DISPATCH_CANDIDATE_WINDOWS"); v != "" {
		windows, err := parseWindows(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DISPATCH_CANDIDATE_WINDOWS: %w", err))
		} else {
			cfg.Dispatch.CandidateWindows = windows
		}
	}

	setString("REDISPATCH_MODE", &cfg.Redispatch.Mode)
	setInt("REDISPATCH_WORKERS", &cfg.Redispatch.Workers)
	setInt("REDISPATCH_QUEUE_SIZE", &cfg.Redispatch.QueueSize)
	setInt("REDISPATCH_MAX_ATTEMPTS", &cfg.Redispatch.MaxAttempts)
	setDuration("REDISPATCH_BASE_DELAY", &cfg.Redispatch.BaseDelay)
	setDuration("REDISPATCH_MAX_DELAY", &cfg.Redispatch.MaxDelay)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	setString("KAFKA_TOPIC", &cfg.Kafka.Topic)
	setString("KAFKA_GROUP_ID", &cfg.Kafka.GroupID)

	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)

	setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("JWT_ISSUER", &cfg.Auth.Issuer)

	setBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("RATE_LIMIT_LIMIT", &cfg.RateLimit.Limit)
	setDuration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	setDuration("RATE_LIMIT_TTL", &cfg.RateLimit.TTL)
	setInt("RATE_LIMIT_MAX_BUCKETS", &cfg.RateLimit.MaxBuckets)

	setInt("GRPC_HEALTH_PORT", &cfg.GRPC.HealthPort)

	setBool("PPROF_ENABLED", &cfg.Pprof.Enabled)
	setString("PPROF_ADDR", &cfg.Pprof.Addr)
	setString("PPROF_USER", &cfg.Pprof.User)
	setString("PPROF_PASSWORD", &cfg.Pprof.Pass)

	if len(errs) > 0 {
		return nil, errs[0]
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.GRPC.HealthPort < 0 || c.GRPC.HealthPort > 65535 {
		return fmt.Errorf("invalid grpc health port: %d", c.GRPC.HealthPort)
	}
	if c.Dispatch.OfferWindow <= 0 {
		return fmt.Errorf("offer window must be positive, got %s", c.Dispatch.OfferWindow)
	}
	if c.Dispatch.SweepInterval < 0 || c.Dispatch.ParkedRetryAfter < 0 {
		return fmt.Errorf("sweep interval and parked retry must not be negative")
	}
	if c.Dispatch.SweepBatch <= 0 {
		return fmt.Errorf("sweep batch must be positive, got %d", c.Dispatch.SweepBatch)
	}
	if c.Dispatch.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %s", c.Dispatch.OperationTimeout)
	}
	switch c.Redispatch.Mode {
	case RedispatchLocal, RedispatchKafka:
	default:
		return fmt.Errorf("unknown redispatch mode %q", c.Redispatch.Mode)
	}
	if c.Redispatch.Workers <= 0 || c.Redispatch.QueueSize <= 0 || c.Redispatch.MaxAttempts <= 0 {
		return fmt.Errorf("redispatch workers, queue size and attempts must be positive")
	}
	if c.Pprof.Enabled && c.Pprof.Addr == "" {
		return fmt.Errorf("pprof enabled without PPROF_ADDR")
	}
	if c.Redispatch.Mode == RedispatchKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka redispatch requires KAFKA_BROKERS")
	}
	return nil
}

// parseWindows parses "1,20" into strictly increasing positive limits.
func parseWindows(s string) ([]int, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	out := make([]int, 0, len(parts))
	prev := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		if n <= prev {
			return nil, fmt.Errorf("windows must be positive and increasing, got %d after %d", n, prev)
		}
		out = append(out, n)
		prev = n
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
