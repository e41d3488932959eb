package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/discount"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendMongo  Backend = "mongo"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	StorageBackend  Backend       `yaml:"storage_backend"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	MongoURI        string        `yaml:"mongo_uri"`
	MongoDBName     string        `yaml:"mongo_db_name"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`
	LogLevel        string        `yaml:"log_level"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`

	// SessionIdleTimeout drops unused sessions from memory. Zero disables it.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// Discounts replaces the compiled-in code list when the config file
	// provides one.
	Discounts []DiscountEntry `yaml:"discounts"`
}

// DiscountEntry is the file form of a discount code. ExpiresAt accepts a
// date (2006-01-02) or an RFC 3339 timestamp.
type DiscountEntry struct {
	Code       string  `yaml:"code"`
	Type       string  `yaml:"type"`
	Value      float64 `yaml:"value"`
	ExpiresAt  string  `yaml:"expires_at"`
	UsageLimit int     `yaml:"usage_limit"`
	Used       int     `yaml:"used"`
}

// Load reads defaults, then the YAML file named by STOREFRONT_CONFIG if set,
// then individual environment variables. Later sources win.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        "8080",
		StorageBackend:  BackendMemory,
		RedisAddr:       "localhost:6379",
		MongoURI:        "mongodb://localhost:27017",
		MongoDBName:     "storefront",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		SnapshotTTL:     7 * 24 * time.Hour,
		LogLevel:        "info",
		RateBurst:       20,
	}
	cfg.SessionIdleTimeout = 30 * time.Minute

	if path := os.Getenv("STOREFRONT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.StorageBackend = Backend(strings.ToLower(getEnv("STORAGE_BACKEND", string(cfg.StorageBackend))))
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDBName = getEnv("MONGO_DB_NAME", cfg.MongoDBName)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = getDuration("SNAPSHOT_TTL", cfg.SnapshotTTL); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = getDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout); err != nil {
		return nil, err
	}

	if cfg.RateLimit, err = getFloat("RATE_LIMIT", cfg.RateLimit); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getInt("RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return errors.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.RequestTimeout <= 0 {
		return errors.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.SessionIdleTimeout < 0 {
		return errors.Errorf("session idle timeout must not be negative, got %s", c.SessionIdleTimeout)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("rate limit must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	return nil
}

// Level is the configured zerolog level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// DiscountCodes returns the configured code list, or the compiled-in list
// when the config file does not define one.
func (c *Config) DiscountCodes() ([]discount.Code, error) {
	if len(c.Discounts) == 0 {
		return discount.DefaultCodes(), nil
	}

	codes := make([]discount.Code, 0, len(c.Discounts))
	for _, e := range c.Discounts {
		code, err := e.toCode()
		if err != nil {
			return nil, errors.Wrapf(err, "discount %q", e.Code)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func (e DiscountEntry) toCode() (discount.Code, error) {
	if e.Code == "" {
		return discount.Code{}, errors.New("empty code")
	}

	kind := discount.Kind(strings.ToLower(e.Type))
	if kind != discount.KindPercent && kind != discount.KindFixed {
		return discount.Code{}, errors.Errorf("unknown type %q", e.Type)
	}
	if e.Value < 0 || (kind == discount.KindPercent && e.Value > 100) {
		return discount.Code{}, errors.Errorf("value %v out of range", e.Value)
	}

	code := discount.Code{
		Code:       e.Code,
		Kind:       kind,
		Value:      decimal.NewFromFloat(e.Value),
		UsageLimit: e.UsageLimit,
		Used:       e.Used,
	}
	if e.ExpiresAt != "" {
		t, err := parseExpiry(e.ExpiresAt)
		if err != nil {
			return discount.Code{}, err
		}
		code.ExpiresAt = &t
	}
	return code, nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid expires_at %q", s)
	}
	return t, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return f, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}
