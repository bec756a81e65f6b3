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
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type KafkaConfig struct {
	BootstrapServers string `yaml:"bootstrap_servers"`
	Topic            string `yaml:"topic"`
	ClientID         string `yaml:"client_id"`
}

type BrokerConfig struct {
	Driver   string         `yaml:"driver"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type NotificationsConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Config struct {
	App           AppConfig           `yaml:"app"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Store         StoreConfig         `yaml:"store"`
	Broker        BrokerConfig        `yaml:"broker"`
	Redis         RedisConfig         `yaml:"redis"`
	Outbox        OutboxConfig        `yaml:"outbox"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	BrokerDriverLog      = "log"
	BrokerDriverRabbitMQ = "rabbitmq"
	BrokerDriverKafka    = "kafka"
)

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "oplaisir"
	cfg.App.Port = "8080"
	cfg.App.Env = "development"
	cfg.App.LogLevel = "debug"
	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = time.Hour
	cfg.Postgres.MigrationsPath = "migrations"
	cfg.Store.Driver = StoreDriverPostgres
	cfg.Broker.Driver = BrokerDriverLog
	cfg.Broker.RabbitMQ.Exchange = "oplaisir.orders"
	cfg.Broker.Kafka.Topic = "oplaisir.orders"
	cfg.Broker.Kafka.ClientID = "oplaisir"
	cfg.Redis.Channel = "oplaisir:admin"
	cfg.Outbox.PollInterval = 2 * time.Second
	cfg.Outbox.BatchSize = 50
	cfg.Outbox.MaxAttempts = 10
	cfg.Notifications.SweepInterval = 30 * time.Second
	return cfg
}

// NewConfig loads defaults, then the YAML file named by CONFIG_PATH, then
// .env, then the process environment. Later sources win.
func NewConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Name, "APP_NAME")
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Store.Driver, "STORE_DRIVER")

	setString(&cfg.Broker.Driver, "BROKER_DRIVER")
	setString(&cfg.Broker.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&cfg.Broker.RabbitMQ.Exchange, "RABBITMQ_EXCHANGE")
	setString(&cfg.Broker.Kafka.BootstrapServers, "KAFKA_BOOTSTRAP_SERVERS")
	setString(&cfg.Broker.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.Broker.Kafka.ClientID, "KAFKA_CLIENT_ID")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Redis.Channel, "REDIS_CHANNEL")

	var errs []error
	errs = append(errs,
		setInt32(&cfg.Postgres.MaxConns, "DB_MAX_CONNS"),
		setInt32(&cfg.Postgres.MinConns, "DB_MIN_CONNS"),
		setDuration(&cfg.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"),
		setInt(&cfg.Redis.DB, "REDIS_DB"),
		setDuration(&cfg.Outbox.PollInterval, "OUTBOX_POLL_INTERVAL"),
		setInt(&cfg.Outbox.BatchSize, "OUTBOX_BATCH_SIZE"),
		setInt(&cfg.Outbox.MaxAttempts, "OUTBOX_MAX_ATTEMPTS"),
		setDuration(&cfg.Notifications.SweepInterval, "PENDING_SWEEP_INTERVAL"),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = int32(n)
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a duration: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var missing []string
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require(c.App.Port, "APP_PORT")

	switch c.Store.Driver {
	case StoreDriverPostgres:
		require(c.Postgres.Host, "DB_HOST")
		require(c.Postgres.Port, "DB_PORT")
		require(c.Postgres.User, "DB_USER")
		require(c.Postgres.Password, "DB_PASSWORD")
		require(c.Postgres.DBName, "DB_NAME")
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Broker.Driver {
	case BrokerDriverLog:
	case BrokerDriverRabbitMQ:
		require(c.Broker.RabbitMQ.URL, "RABBITMQ_URL")
		require(c.Broker.RabbitMQ.Exchange, "RABBITMQ_EXCHANGE")
	case BrokerDriverKafka:
		require(c.Broker.Kafka.BootstrapServers, "KAFKA_BOOTSTRAP_SERVERS")
		require(c.Broker.Kafka.Topic, "KAFKA_TOPIC")
	default:
		return fmt.Errorf("unknown broker driver %q", c.Broker.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
}
