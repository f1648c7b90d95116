package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Paystack PaystackConfig `mapstructure:"paystack"`
	Alipay   AlipayConfig   `mapstructure:"alipay"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	BaseURL      string        `mapstructure:"base_url"` // public URL, used for redirect and webhook URLs
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration. Redis is optional; an empty
// address disables the webhook dedup cache.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds token validation configuration. Token issuance lives
// in the identity service; this server only validates.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PaymentConfig holds payment business rules.
type PaymentConfig struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultCurrency string        `mapstructure:"default_currency"`
	DefaultPeriods  int           `mapstructure:"default_periods"`
	StudentPeriods  int           `mapstructure:"student_periods"`
	SuitPeriods     int           `mapstructure:"suit_periods"`
	FulfillmentLead time.Duration `mapstructure:"fulfillment_lead"`  // task due date offset from settlement
	DeadlineBuffer  time.Duration `mapstructure:"deadline_buffer"`   // internal deadline before due date
	WebhookDedupTTL time.Duration `mapstructure:"webhook_dedup_ttl"` // redis SETNX guard lifetime
	SuccessPath     string        `mapstructure:"success_path"`
	CancelPath      string        `mapstructure:"cancel_path"`
}

// StripeConfig holds Stripe provider configuration.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// PaystackConfig holds Paystack provider configuration.
type PaystackConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

// AlipayConfig holds Alipay provider configuration.
type AlipayConfig struct {
	AppID           string `mapstructure:"app_id"`
	PrivateKey      string `mapstructure:"private_key"`
	AlipayPublicKey string `mapstructure:"alipay_public_key"`
	IsProd          bool   `mapstructure:"is_prod"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/atelier")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file; defaults plus environment.
	}

	v.SetEnvPrefix("ATELIER")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Sensitive values always win from the environment.
	if secret := os.Getenv("ATELIER_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("ATELIER_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if key := os.Getenv("ATELIER_STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if key := os.Getenv("ATELIER_PAYSTACK_SECRET_KEY"); key != "" {
		cfg.Paystack.SecretKey = key
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "atelier")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("payment.default_provider", "paystack")
	v.SetDefault("payment.default_currency", "USD")
	v.SetDefault("payment.default_periods", 3)
	v.SetDefault("payment.student_periods", 6)
	v.SetDefault("payment.suit_periods", 2)
	v.SetDefault("payment.fulfillment_lead", 14*24*time.Hour)
	v.SetDefault("payment.deadline_buffer", 3*24*time.Hour)
	v.SetDefault("payment.webhook_dedup_ttl", 10*time.Minute)
	v.SetDefault("payment.success_path", "/payment/success")
	v.SetDefault("payment.cancel_path", "/payment/cancel")

	v.SetDefault("paystack.base_url", "https://api.paystack.co")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
