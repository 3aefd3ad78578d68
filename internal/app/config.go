package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const envPrefix = "HMS"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	StorageDriver       string `mapstructure:"storage_driver"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate bool   `mapstructure:"postgres_auto_migrate"`

	KafkaBrokers          []string `mapstructure:"kafka_brokers"`
	KafkaClientID         string   `mapstructure:"kafka_client_id"`
	KafkaTopic            string   `mapstructure:"kafka_topic"`
	KafkaDLQTopic         string   `mapstructure:"kafka_dlq_topic"`
	KafkaConsumerGroup    string   `mapstructure:"kafka_consumer_group"`
	RefundConsumerEnabled bool     `mapstructure:"refund_consumer_enabled"`

	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts  int           `mapstructure:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `mapstructure:"outbox_retry_delay"`
	OutboxMaxPending   time.Duration `mapstructure:"outbox_max_pending"`

	IdempotencyTTL             time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyCleanupInterval time.Duration `mapstructure:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatch    int           `mapstructure:"idempotency_cleanup_batch"`

	DefaultAdmissionFee string `mapstructure:"default_admission_fee"`
	Currency            string `mapstructure:"currency"`
	PhoneRegion         string `mapstructure:"phone_region"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 5 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID:      "admission-service",
		KafkaTopic:         "hms.admission.events",
		KafkaDLQTopic:      "hms.dlq",
		KafkaConsumerGroup: "admission-refunds",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,
		OutboxMaxPending:   5 * time.Minute,

		IdempotencyTTL:             24 * time.Hour,
		IdempotencyCleanupInterval: time.Minute,
		IdempotencyCleanupBatch:    500,

		DefaultAdmissionFee: "300",
		Currency:            "BDT",
		PhoneRegion:         "BD",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig читает настройки: значения по умолчанию, затем YAML-файл (если path не пустой
// или admission.yaml найден рядом), затем переменные окружения HMS_*.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("admission")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hms")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("grpc_addr", cfg.GRPCAddr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)

	v.SetDefault("storage_driver", cfg.StorageDriver)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", cfg.PostgresAutoMigrate)

	v.SetDefault("kafka_brokers", cfg.KafkaBrokers)
	v.SetDefault("kafka_client_id", cfg.KafkaClientID)
	v.SetDefault("kafka_topic", cfg.KafkaTopic)
	v.SetDefault("kafka_dlq_topic", cfg.KafkaDLQTopic)
	v.SetDefault("kafka_consumer_group", cfg.KafkaConsumerGroup)
	v.SetDefault("refund_consumer_enabled", cfg.RefundConsumerEnabled)

	v.SetDefault("outbox_poll_interval", cfg.OutboxPollInterval)
	v.SetDefault("outbox_batch_size", cfg.OutboxBatchSize)
	v.SetDefault("outbox_max_attempts", cfg.OutboxMaxAttempts)
	v.SetDefault("outbox_retry_delay", cfg.OutboxRetryDelay)
	v.SetDefault("outbox_max_pending", cfg.OutboxMaxPending)

	v.SetDefault("idempotency_ttl", cfg.IdempotencyTTL)
	v.SetDefault("idempotency_cleanup_interval", cfg.IdempotencyCleanupInterval)
	v.SetDefault("idempotency_cleanup_batch", cfg.IdempotencyCleanupBatch)

	v.SetDefault("default_admission_fee", cfg.DefaultAdmissionFee)
	v.SetDefault("currency", cfg.Currency)
	v.SetDefault("phone_region", cfg.PhoneRegion)

	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.KafkaBrokers = splitBrokers(c.KafkaBrokers)
}

// splitBrokers раскрывает "a:9092,b:9092", пришедшее одной строкой из окружения.
func splitBrokers(raw []string) []string {
	var brokers []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	return brokers
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage_driver %q", c.StorageDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if fee, err := decimal.NewFromString(strings.TrimSpace(c.DefaultAdmissionFee)); err != nil {
		errs = append(errs, fmt.Errorf("default_admission_fee: %w", err))
	} else if fee.IsNegative() {
		errs = append(errs, errors.New("default_admission_fee must not be negative"))
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka_topic is required when kafka_brokers is set"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox_max_attempts must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency_ttl must be positive"))
	}
	if c.IdempotencyCleanupBatch <= 0 {
		errs = append(errs, errors.New("idempotency_cleanup_batch must be positive"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}
