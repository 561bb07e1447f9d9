package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "github.com/H51976/roombox-fyp/common/config"
	"github.com/H51976/roombox-fyp/internal/gateway"

	"gopkg.in/yaml.v3"
)

// Config roombox service configuration.
// Precedence: built-in defaults < YAML file named by ROOMBOX_CONFIG < environment.
type Config struct {
	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	DBEnabled bool                     `yaml:"db_enabled"`
	Database  commoncfg.DatabaseConfig `yaml:"database"`
	Redis     RedisConfig              `yaml:"redis"`
	MQTT      MQTTConfig               `yaml:"mqtt"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Events    EventsConfig    `yaml:"events"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// RedisConfig Redis is optional; without it events and the availability cache are disabled.
type RedisConfig struct {
	Enabled               bool `yaml:"enabled"`
	commoncfg.RedisConfig `yaml:",inline"`
	AvailabilityTTLSeconds int `yaml:"availability_ttl_seconds"`
}

type MQTTConfig struct {
	Enabled              bool `yaml:"enabled"`
	commoncfg.MQTTConfig `yaml:",inline"`
}

// GatewayConfig eSewa merchant settings
type GatewayConfig struct {
	SecretKey   string `yaml:"secret_key"`
	ProductCode string `yaml:"product_code"`
	FormURL     string `yaml:"form_url"`
	StatusURL   string `yaml:"status_url"`
	SuccessURL  string `yaml:"success_url"`
	FailureURL  string `yaml:"failure_url"`
	TestMode    bool   `yaml:"test_mode"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TrustHeaders accepts X-User-Id / X-User-Role without a token. Local development only.
	TrustHeaders bool `yaml:"trust_headers"`
}

type LifecycleConfig struct {
	AllowRejectApproved bool          `yaml:"allow_reject_approved"`
	ExpirePending       bool          `yaml:"expire_pending"`
	PendingTTL          time.Duration `yaml:"pending_ttl"`
	ReconcileAfter      time.Duration `yaml:"reconcile_after"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

type EventsConfig struct {
	Stream        string `yaml:"stream"`
	MaxLen        int64  `yaml:"max_len"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
	BatchSize     int64  `yaml:"batch_size"`
}

type NotifyConfig struct {
	TopicPrefix string `yaml:"topic_prefix"`
}

// Defaults configuration used when nothing else is provided.
func Defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 10 * time.Second

	cfg.DBEnabled = true
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "roombox",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,

		ApplicationName: "roombox",
	}

	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.AvailabilityTTLSeconds = 300

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "roombox-notifier"
	cfg.MQTT.QoS = 1

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Gateway = GatewayConfig{
		SecretKey:   gateway.TestSecretKey,
		ProductCode: gateway.TestProductCode,
		FormURL:     gateway.TestFormURL,
		StatusURL:   gateway.TestStatusURL,
		SuccessURL:  "http://localhost:5173/payment/success",
		FailureURL:  "http://localhost:5173/payment/failure",
		TestMode:    true,
	}

	cfg.Lifecycle.PendingTTL = 72 * time.Hour
	cfg.Lifecycle.ReconcileAfter = 30 * time.Minute
	cfg.Lifecycle.SweepInterval = 5 * time.Minute

	cfg.Events.Stream = "roombox:lifecycle"
	cfg.Events.MaxLen = 100000
	cfg.Events.ConsumerGroup = "roombox-notifier"
	cfg.Events.ConsumerName = "notifier-1"
	cfg.Events.BatchSize = 50

	cfg.Notify.TopicPrefix = "roombox"
	return cfg
}

// Load defaults, then the optional YAML file, then environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("ROOMBOX_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ShutdownTimeout = parseDuration(os.Getenv("HTTP_SHUTDOWN_TIMEOUT"), cfg.HTTP.ShutdownTimeout)

	cfg.DBEnabled = parseBool(os.Getenv("DB_ENABLED"), cfg.DBEnabled)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = parseInt(os.Getenv("DB_PORT"), cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = parseInt(os.Getenv("DB_MAX_CONNS"), cfg.Database.MaxConns)
	cfg.Database.ApplicationName = getEnv("DB_APPLICATION_NAME", cfg.Database.ApplicationName)
	cfg.Database.ConnectTimeout = parseInt(os.Getenv("DB_CONNECT_TIMEOUT"), cfg.Database.ConnectTimeout)

	cfg.Redis.Enabled = parseBool(os.Getenv("REDIS_ENABLED"), cfg.Redis.Enabled)
	cfg.Redis.RedisConfig.LoadFromEnv("REDIS")
	cfg.Redis.AvailabilityTTLSeconds = parseInt(os.Getenv("REDIS_AVAILABILITY_TTL"), cfg.Redis.AvailabilityTTLSeconds)

	cfg.MQTT.Enabled = parseBool(os.Getenv("MQTT_ENABLED"), cfg.MQTT.Enabled)
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Gateway.SecretKey = getEnv("ESEWA_SECRET_KEY", cfg.Gateway.SecretKey)
	cfg.Gateway.ProductCode = getEnv("ESEWA_PRODUCT_CODE", cfg.Gateway.ProductCode)
	cfg.Gateway.SuccessURL = getEnv("ESEWA_SUCCESS_URL", cfg.Gateway.SuccessURL)
	cfg.Gateway.FailureURL = getEnv("ESEWA_FAILURE_URL", cfg.Gateway.FailureURL)
	cfg.Gateway.TestMode = parseBool(os.Getenv("ESEWA_TEST_MODE"), cfg.Gateway.TestMode)
	if !cfg.Gateway.TestMode {
		if cfg.Gateway.FormURL == gateway.TestFormURL {
			cfg.Gateway.FormURL = gateway.ProductionFormURL
		}
		if cfg.Gateway.StatusURL == gateway.TestStatusURL {
			cfg.Gateway.StatusURL = gateway.ProductionStatusURL
		}
	}
	cfg.Gateway.FormURL = getEnv("ESEWA_FORM_URL", cfg.Gateway.FormURL)
	cfg.Gateway.StatusURL = getEnv("ESEWA_STATUS_URL", cfg.Gateway.StatusURL)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TrustHeaders = parseBool(os.Getenv("AUTH_TRUST_HEADERS"), cfg.Auth.TrustHeaders)

	cfg.Lifecycle.AllowRejectApproved = parseBool(os.Getenv("LIFECYCLE_ALLOW_REJECT_APPROVED"), cfg.Lifecycle.AllowRejectApproved)
	cfg.Lifecycle.ExpirePending = parseBool(os.Getenv("LIFECYCLE_EXPIRE_PENDING"), cfg.Lifecycle.ExpirePending)
	cfg.Lifecycle.PendingTTL = parseDuration(os.Getenv("LIFECYCLE_PENDING_TTL"), cfg.Lifecycle.PendingTTL)
	cfg.Lifecycle.ReconcileAfter = parseDuration(os.Getenv("LIFECYCLE_RECONCILE_AFTER"), cfg.Lifecycle.ReconcileAfter)
	cfg.Lifecycle.SweepInterval = parseDuration(os.Getenv("LIFECYCLE_SWEEP_INTERVAL"), cfg.Lifecycle.SweepInterval)

	cfg.Events.Stream = getEnv("EVENTS_STREAM", cfg.Events.Stream)
	cfg.Events.ConsumerGroup = getEnv("EVENTS_CONSUMER_GROUP", cfg.Events.ConsumerGroup)
	cfg.Events.ConsumerName = getEnv("EVENTS_CONSUMER_NAME", cfg.Events.ConsumerName)
	cfg.Events.BatchSize = int64(parseInt(os.Getenv("EVENTS_BATCH_SIZE"), int(cfg.Events.BatchSize)))

	cfg.Notify.TopicPrefix = getEnv("NOTIFY_TOPIC_PREFIX", cfg.Notify.TopicPrefix)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.SecretKey == "" {
		return fmt.Errorf("gateway secret key is required")
	}
	if c.Gateway.ProductCode == "" {
		return fmt.Errorf("gateway product code is required")
	}
	if !c.Auth.TrustHeaders && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required unless AUTH_TRUST_HEADERS=true")
	}
	if c.Lifecycle.ExpirePending && c.Lifecycle.PendingTTL <= 0 {
		return fmt.Errorf("pending TTL must be positive when expiry is enabled")
	}
	if c.Events.BatchSize <= 0 {
		c.Events.BatchSize = 50
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
