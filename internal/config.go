package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"repowatch/pkg/auth"
	"repowatch/pkg/delivery"
	"repowatch/pkg/notify"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Sync          SyncConfig         `yaml:"sync"`
	Notifications NotificationConfig `yaml:"notifications"`
	// Providers contains API settings for each hosting platform.
	Providers   auth.Config       `yaml:"providers"`
	Storage     StorageConfig     `yaml:"storage"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
	// Watermill configures where notifications are published.
	Watermill WatermillConfig `yaml:"watermill"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
}

// Config represents the application configuration including rules.
type Config struct {
	AppConfig   `yaml:",inline"`
	Rules       []Rule `yaml:"rules"`
	RulesStrict bool   `yaml:"rules_strict"`
}

// SyncConfig controls the polling cycle.
type SyncConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Concurrency       int           `yaml:"concurrency"`
	FreeTierLimit     int           `yaml:"free_tier_limit"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// NotificationConfig toggles each notification kind. A nil toggle means enabled.
type NotificationConfig struct {
	Releases  *bool `yaml:"releases"`
	Stars     *bool `yaml:"stars"`
	Issues    *bool `yaml:"issues"`
	Analytics *bool `yaml:"analytics"`
}

// Enabled reports whether a toggle is on.
func Enabled(toggle *bool) bool {
	return toggle == nil || *toggle
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is one of sqlite, sqlite3, postgres, mysql or bolt.
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	TablePrefix string `yaml:"table_prefix"`
	AutoMigrate *bool  `yaml:"auto_migrate"`
}

// EntitlementConfig describes how the subscription flag is obtained.
type EntitlementConfig struct {
	Subscribed    bool   `yaml:"subscribed"`
	LicenseKey    string `yaml:"license_key"`
	LicenseSecret string `yaml:"license_secret"`
}

// DeliveryConfig configures the worker that hands notifications to the sink.
type DeliveryConfig struct {
	Enabled     bool                      `yaml:"enabled"`
	Topics      []string                  `yaml:"topics"`
	Concurrency int                       `yaml:"concurrency"`
	MaxAttempts int                       `yaml:"max_attempts"`
	DedupSize   int                       `yaml:"dedup_size"`
	Subscriber  delivery.SubscriberConfig `yaml:"subscriber"`
}

// WatermillConfig holds the configuration for Watermill, which handles messaging.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	Topic        string             `yaml:"topic"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the river job-table publisher.
type RiverQueueConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Table       string   `yaml:"table"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule `yaml:"rules"`
	Strict bool   `yaml:"rules_strict"`
	Logger Logger `yaml:"-"`
}

// LoadConfig loads the full configuration, including rules, from a YAML
// file. A .env file next to the config and one in the working directory are
// loaded first so ${VAR} references can use them; variables already set in the
// environment win. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := loadDotEnv(path); err != nil {
			return cfg, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, err
		}
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized
	return cfg, nil
}

// RulesConfig returns the routing rules section.
func (c Config) RulesConfig(logger Logger) RulesConfig {
	return RulesConfig{Rules: c.Rules, Strict: c.RulesStrict, Logger: logger}
}

// DeliveryTopics returns the topics the delivery worker subscribes to: the
// configured list, or every topic a rule emits plus the default topic.
func (c Config) DeliveryTopics() []string {
	if len(c.Delivery.Topics) > 0 {
		return c.Delivery.Topics
	}
	topics := []string{c.Watermill.Topic}
	seen := map[string]struct{}{c.Watermill.Topic: {}}
	for _, rule := range c.Rules {
		for _, topic := range rule.Emit {
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	return topics
}

func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = 15 * time.Minute
	}
	if cfg.Sync.Concurrency <= 0 {
		cfg.Sync.Concurrency = 1
	}
	if cfg.Sync.FreeTierLimit <= 0 {
		cfg.Sync.FreeTierLimit = 3
	}
	if cfg.Sync.RequestTimeout <= 0 {
		cfg.Sync.RequestTimeout = 30 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		if strings.EqualFold(cfg.Storage.Driver, "bolt") {
			cfg.Storage.DSN = "repowatch.bolt"
		} else {
			cfg.Storage.DSN = "repowatch.db"
		}
	}
	if cfg.Storage.AutoMigrate == nil {
		on := true
		cfg.Storage.AutoMigrate = &on
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.Topic == "" {
		cfg.Watermill.Topic = notify.DefaultTopic
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Table == "" {
		cfg.Watermill.RiverQueue.Table = "river_job"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "repowatch.notification"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
	if cfg.Delivery.Concurrency <= 0 {
		cfg.Delivery.Concurrency = 1
	}
	if cfg.Delivery.MaxAttempts <= 0 {
		cfg.Delivery.MaxAttempts = 3
	}
	if cfg.Delivery.DedupSize <= 0 {
		cfg.Delivery.DedupSize = delivery.DefaultDedupSize
	}
	cfg.Delivery.Subscriber.ApplyDefaults()
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		emit := make(EmitList, 0, len(rule.Emit))
		for _, topic := range rule.Emit {
			if trimmed := strings.TrimSpace(topic); trimmed != "" {
				emit = append(emit, trimmed)
			}
		}
		rule.Emit = emit
		if rule.When == "" {
			return nil, fmt.Errorf("rule %d is missing when", i)
		}
		if len(rule.Emit) == 0 && !rule.Drop {
			return nil, fmt.Errorf("rule %d needs emit or drop", i)
		}
		if len(rule.Drivers) > 0 {
			drivers := make([]string, 0, len(rule.Drivers))
			for _, driver := range rule.Drivers {
				if trimmed := strings.TrimSpace(driver); trimmed != "" {
					drivers = append(drivers, trimmed)
				}
			}
			rule.Drivers = drivers
		}
		out = append(out, rule)
	}
	return out, nil
}
