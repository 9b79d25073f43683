package config

import (
	"bytes"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const EnvProduction = "production"

// ---- Root ----

type Config struct {
	App        AppConfig       `mapstructure:"app"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Webhook    WebhookConfig   `mapstructure:"webhook"`
	WhatsApp   WhatsAppConfig  `mapstructure:"whatsapp"`
	Router     RouterConfig    `mapstructure:"router"`
	Tasks      TasksConfig     `mapstructure:"tasks"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Sender     SenderConfig    `mapstructure:"sender"`
	Identity   IdentityConfig  `mapstructure:"identity"`
}

// ---- Leaf structs ----

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

func (a AppConfig) Production() bool {
	return strings.EqualFold(strings.TrimSpace(a.Env), EnvProduction)
}

type HTTPConfig struct {
	Addr           string `mapstructure:"addr"`
	BodyLimitBytes int64  `mapstructure:"body_limit_bytes"`
	AdminAPIKey    string `mapstructure:"admin_api_key"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	OutboundTopic  string   `mapstructure:"outbound_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type WebhookConfig struct {
	Path             string        `mapstructure:"path"`
	VerifyToken      string        `mapstructure:"verify_token"`
	AppSecret        string        `mapstructure:"app_secret"`
	StorageTimeout   time.Duration `mapstructure:"storage_timeout"`
	MonotonicStatus  bool          `mapstructure:"monotonic_status"`
	MarkRead         bool          `mapstructure:"mark_read"`
	PublishUnhandled bool          `mapstructure:"publish_unhandled"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

// WhatsAppConfig holds the Cloud API send credentials. Values are only
// presence-checked; the provider is the authority on their validity.
type WhatsAppConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIVersion    string        `mapstructure:"api_version"`
	PhoneNumberID string        `mapstructure:"phone_number_id"`
	AccessToken   string        `mapstructure:"access_token"`
	TimeoutMs     int           `mapstructure:"timeout_ms"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

func (w WhatsAppConfig) Enabled() bool {
	return strings.TrimSpace(w.PhoneNumberID) != "" && strings.TrimSpace(w.AccessToken) != ""
}

type RouterConfig struct {
	OptInKeywords  []string      `mapstructure:"opt_in_keywords"`
	OptOutKeywords []string      `mapstructure:"opt_out_keywords"`
	HelpKeywords   []string      `mapstructure:"help_keywords"`
	Replies        RepliesConfig `mapstructure:"replies"`
}

type RepliesConfig struct {
	OptIn  string `mapstructure:"opt_in"`
	OptOut string `mapstructure:"opt_out"`
	Help   string `mapstructure:"help"`
}

type TasksConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type SenderConfig struct {
	Workers     int    `mapstructure:"workers"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// IdentityConfig maps canonical phones to user ids for deployments without
// an external user directory.
type IdentityConfig struct {
	Static map[string]string `mapstructure:"static"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (WAGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (WAGW_WEBHOOK_APP_SECRET -> webhook.app_secret)
	v.SetEnvPrefix("WAGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs presence checks only.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MySQL.DSN) == "" {
		errs = append(errs, errors.New("mysql.dsn is required"))
	}
	if strings.TrimSpace(c.Webhook.VerifyToken) == "" {
		errs = append(errs, errors.New("webhook.verify_token is required"))
	}
	if c.App.Production() && strings.TrimSpace(c.Webhook.AppSecret) == "" {
		errs = append(errs, errors.New("webhook.app_secret is required in production"))
	}
	return errors.Join(errs...)
}
