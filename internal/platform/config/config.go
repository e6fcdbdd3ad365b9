package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from defaults, then an
// optional YAML file named by EXAMBOARD_CONFIG, then environment variables.
type Config struct {
	Server       Server       `yaml:"server"`
	Database     Database     `yaml:"database"`
	Redis        RedisConfig  `yaml:"redis"`
	Kafka        Kafka        `yaml:"kafka"`
	Auth         Auth         `yaml:"auth"`
	Issuance     Issuance     `yaml:"issuance"`
	Rendering    Rendering    `yaml:"rendering"`
	Verification Verification `yaml:"verification"`
	Log          Log          `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	// TrustedProxies are the load balancer addresses or CIDR ranges whose
	// forwarding headers name the client. Empty means the peer address is used.
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

// Database selects the storage backend. An empty URL runs on in-memory stores.
type Database struct {
	URL          string        `yaml:"url"`
	Driver       string        `yaml:"driver"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxIdle  time.Duration `yaml:"conn_max_idle"`
	TxTimeout    time.Duration `yaml:"tx_timeout"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Kafka configures the notification producer and the audit outbox relay.
// No brokers means notifications are logged and the relay does not run.
type Kafka struct {
	Brokers           []string      `yaml:"brokers"`
	ClientID          string        `yaml:"client_id"`
	AuditTopicPrefix  string        `yaml:"audit_topic_prefix"`
	NotificationTopic string        `yaml:"notification_topic"`
	RelayInterval     time.Duration `yaml:"relay_interval"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
}

type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// Issuance holds the money and collision rules of the payment and issuance flow.
type Issuance struct {
	FeePerStudentMinor    int64         `yaml:"fee_per_student_minor"`
	Currency              string        `yaml:"currency"`
	MaxAllocationAttempts int           `yaml:"max_allocation_attempts"`
	CredentialValidity    time.Duration `yaml:"credential_validity"`
}

// Rendering configures the document renderer. An empty URL uses the local
// renderer, which only records a reference.
type Rendering struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Verification configures the public verification endpoint. PublicBaseURL is
// printed on documents, so a change only affects credentials issued after it.
type Verification struct {
	PublicBaseURL    string        `yaml:"public_base_url"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	RateLimit        int           `yaml:"rate_limit"`
	RateLimitWindow  time.Duration `yaml:"rate_limit_window"`
	RateLimitEnabled bool          `yaml:"rate_limit_enabled"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Database: Database{
			Driver:       "pgx",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnMaxIdle:  5 * time.Minute,
			TxTimeout:    5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			ClientID:          "examboard",
			AuditTopicPrefix:  "examboard.audit",
			NotificationTopic: "examboard.notifications",
			RelayInterval:     2 * time.Second,
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Auth: Auth{
			// Use a default for development - must be overridden in production
			JWTSigningKey: "dev-secret-key-change-in-production",
			Issuer:        "examboard",
			Audience:      "examboard-admin",
		},
		Issuance: Issuance{
			FeePerStudentMinor:    10000,
			Currency:              "UGX",
			MaxAllocationAttempts: 50,
		},
		Rendering: Rendering{
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Verification: Verification{
			PublicBaseURL:    "http://localhost:8080/verify",
			CacheTTL:         5 * time.Minute,
			RateLimit:        30,
			RateLimitWindow:  time.Minute,
			RateLimitEnabled: true,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and env.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("EXAMBOARD_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("EXAMBOARD_ADDR", &cfg.Server.Addr)
	if v, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		cfg.Server.TrustedProxies = splitList(v)
	}
	str("DATABASE_URL", &cfg.Database.URL)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	if v, ok := os.LookupEnv("DATABASE_AUTO_MIGRATE"); ok {
		cfg.Database.AutoMigrate = v == "true"
	}
	str("REDIS_URL", &cfg.Redis.URL)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("RENDERER_URL", &cfg.Rendering.URL)
	dur("RENDERER_TIMEOUT", &cfg.Rendering.Timeout)
	num("MAX_ALLOCATION_ATTEMPTS", &cfg.Issuance.MaxAllocationAttempts)
	if v, ok := os.LookupEnv("FEE_PER_STUDENT_MINOR"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEE_PER_STUDENT_MINOR: %w", err))
		} else {
			cfg.Issuance.FeePerStudentMinor = n
		}
	}
	dur("CREDENTIAL_VALIDITY", &cfg.Issuance.CredentialValidity)
	str("VERIFY_BASE_URL", &cfg.Verification.PublicBaseURL)
	dur("VERIFY_CACHE_TTL", &cfg.Verification.CacheTTL)
	num("VERIFY_RATE_LIMIT", &cfg.Verification.RateLimit)
	if v, ok := os.LookupEnv("VERIFY_RATE_LIMIT_DISABLED"); ok {
		cfg.Verification.RateLimitEnabled = v != "true"
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Issuance.FeePerStudentMinor <= 0 {
		errs = append(errs, errors.New("issuance.fee_per_student_minor must be positive"))
	}
	if c.Issuance.MaxAllocationAttempts < 1 {
		errs = append(errs, errors.New("issuance.max_allocation_attempts must be at least 1"))
	}
	if c.Issuance.CredentialValidity < 0 {
		errs = append(errs, errors.New("issuance.credential_validity must not be negative"))
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an address or CIDR range", proxy))
		}
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Verification.PublicBaseURL == "" {
		errs = append(errs, errors.New("verification.public_base_url is required"))
	}
	if c.Verification.RateLimit < 1 {
		errs = append(errs, errors.New("verification.rate_limit must be at least 1"))
	}
	return errors.Join(errs...)
}

func validProxy(v string) bool {
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err == nil
	}
	_, err := netip.ParseAddr(v)
	return err == nil
}
