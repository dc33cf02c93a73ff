package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

type Config struct {
	AppName     string `mapstructure:"APP_NAME"`
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	GRPCAddr    string `mapstructure:"GRPC_ADDR"`

	// Database configuration
	DBDriver           string `mapstructure:"DB_DRIVER"`
	DBHost             string `mapstructure:"DB_HOST"`
	DBPort             int    `mapstructure:"DB_PORT"`
	DBUser             string `mapstructure:"DB_USER"`
	DBPassword         string `mapstructure:"DB_PASSWORD"`
	DBName             string `mapstructure:"DB_NAME"`
	DBSSLMode          string `mapstructure:"DB_SSL_MODE"`
	DBMaxOpenConns     int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBAutoMigrate      bool   `mapstructure:"DB_AUTO_MIGRATE"`
	DBAllowSchemaDrift bool   `mapstructure:"DB_ALLOW_SCHEMA_DRIFT"`

	// Redis configuration; empty address disables idempotency and pub/sub
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	// Notifications; empty RabbitMQ URL disables the AMQP broadcaster
	RabbitMQURL     string        `mapstructure:"RABBITMQ_URL"`
	NotifyExchange  string        `mapstructure:"NOTIFY_EXCHANGE"`
	NotifyTopic     string        `mapstructure:"NOTIFY_TOPIC"`
	NotifyQueueSize int           `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyWorkers   int           `mapstructure:"NOTIFY_WORKERS"`
	NotifyTimeout   time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	PaymentAPIURL   string        `mapstructure:"PAYMENT_API_URL"`
	PaymentAPIKey   string        `mapstructure:"PAYMENT_API_KEY"`
	PaymentCurrency string        `mapstructure:"PAYMENT_CURRENCY"`
	PaymentTimeout  time.Duration `mapstructure:"PAYMENT_TIMEOUT"`

	RestockOnCancel bool `mapstructure:"RESTOCK_ON_CANCEL"`
}

// Load reads app.env from path when present; environment variables win over
// the file and defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults.")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(cfg.DBDriver)
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "ios-aquatics")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "aquatics")
	v.SetDefault("DB_PASSWORD", "aquatics")
	v.SetDefault("DB_NAME", "aquatics")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_ALLOW_SCHEMA_DRIFT", false)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("NOTIFY_EXCHANGE", "aquatics.events")
	v.SetDefault("NOTIFY_TOPIC", "aquatics.status")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 1000)
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_TIMEOUT", "5s")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("PAYMENT_API_URL", "")
	v.SetDefault("PAYMENT_API_KEY", "")
	v.SetDefault("PAYMENT_CURRENCY", "PHP")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")

	v.SetDefault("RESTOCK_ON_CANCEL", true)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.IsProduction() && c.DBDriver == DriverMemory {
		return errors.New("DB_DRIVER=memory is not allowed in production")
	}
	if c.NotifyWorkers < 1 || c.NotifyQueueSize < 1 {
		return errors.New("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	if c.DBMaxOpenConns < 1 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}
	return nil
}

// DSN builds the driver-specific connection string.
func (c Config) DSN() string {
	if c.DBDriver == DriverMySQL {
		m := mysql.NewConfig()
		m.User = c.DBUser
		m.Passwd = c.DBPassword
		m.Net = "tcp"
		m.Addr = c.DBHost + ":" + strconv.Itoa(c.DBPort)
		m.DBName = c.DBName
		m.ParseTime = true
		return m.FormatDSN()
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}
