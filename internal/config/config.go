package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	Email        EmailConfig        `mapstructure:"email"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	API          APIConfig          `mapstructure:"api"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	HTTPS           bool          `mapstructure:"https"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Path     string `mapstructure:"path"` // sqlite file
}

// RedisConfig holds redis configuration. An empty address disables
// idempotency claims and event publishing.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// VaultConfig holds Vault configuration
type VaultConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	ServiceName string `mapstructure:"service_name"`
}

// IdentityConfig selects and configures the identity collaborator
type IdentityConfig struct {
	Provider            string        `mapstructure:"provider"` // supabase, database
	SupabaseURL         string        `mapstructure:"supabase_url"`
	SupabaseServiceKey  string        `mapstructure:"supabase_service_key"`
	RecoveryRedirectURL string        `mapstructure:"recovery_redirect_url"`
	RecoveryTTL         time.Duration `mapstructure:"recovery_ttl"`
}

// EmailConfig holds email configuration
type EmailConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// WebhookConfig holds inbound webhook configuration
type WebhookConfig struct {
	Provider    string        `mapstructure:"provider"`
	DefaultPlan string        `mapstructure:"default_plan"`
	Secret      string        `mapstructure:"secret"`
	DedupTTL    time.Duration `mapstructure:"dedup_ttl"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Burst       int           `mapstructure:"burst"`
}

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// ProvisioningConfig holds provisioning configuration
type ProvisioningConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// APIConfig holds the key required by the access and audit endpoints.
type APIConfig struct {
	Key string `mapstructure:"key"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var envBindings = map[string]string{
	"server.port":                    "SERVER_PORT",
	"server.host":                    "SERVER_HOST",
	"server.https":                   "SERVER_HTTPS",
	"server.cert_file":               "SERVER_CERT_FILE",
	"server.key_file":                "SERVER_KEY_FILE",
	"database.driver":                "DATABASE_DRIVER",
	"database.host":                  "DATABASE_HOST",
	"database.port":                  "DATABASE_PORT",
	"database.name":                  "DATABASE_NAME",
	"database.user":                  "DATABASE_USER",
	"database.password":              "DATABASE_PASSWORD",
	"database.ssl_mode":              "DATABASE_SSL_MODE",
	"database.path":                  "DATABASE_PATH",
	"redis.addr":                     "REDIS_ADDR",
	"redis.password":                 "REDIS_PASSWORD",
	"redis.db":                       "REDIS_DB",
	"vault.url":                      "VAULT_ADDR",
	"vault.token":                    "VAULT_TOKEN",
	"identity.provider":              "IDENTITY_PROVIDER",
	"identity.supabase_url":          "SUPABASE_URL",
	"identity.supabase_service_key":  "SUPABASE_SERVICE_ROLE_KEY",
	"identity.recovery_redirect_url": "RECOVERY_REDIRECT_URL",
	"email.host":                     "EMAIL_HOST",
	"email.port":                     "EMAIL_PORT",
	"email.username":                 "EMAIL_USERNAME",
	"email.password":                 "EMAIL_PASSWORD",
	"email.from_email":               "EMAIL_FROM",
	"webhook.provider":               "WEBHOOK_PROVIDER",
	"webhook.secret":                 "WEBHOOK_SECRET",
	"stripe.webhook_secret":          "STRIPE_WEBHOOK_SECRET",
	"provisioning.call_timeout":      "PROVISIONING_CALL_TIMEOUT",
	"api.key":                        "API_KEY",
	"log.level":                      "LOG_LEVEL",
}

// Load loads configuration from an optional .env file, a config file and
// environment variables.
func Load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app/config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.AutomaticEnv()

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8085")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.https", false)
	viper.SetDefault("server.cert_file", "./certs/server.crt")
	viper.SetDefault("server.key_file", "./certs/server.key")
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.read_header_timeout", 5*time.Second)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "puzzle_access")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.path", "puzzle_access.db")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("vault.service_name", "puzzle-access")
	viper.SetDefault("identity.provider", "database")
	viper.SetDefault("identity.recovery_ttl", 24*time.Hour)
	viper.SetDefault("email.port", 587)
	viper.SetDefault("email.from_name", "Quebra-Cabeça Bíblico")
	viper.SetDefault("webhook.provider", "kirvano")
	viper.SetDefault("webhook.default_plan", "lifetime")
	viper.SetDefault("webhook.dedup_ttl", 24*time.Hour)
	viper.SetDefault("webhook.rate_limit", 100.0)
	viper.SetDefault("webhook.burst", 200)
	viper.SetDefault("provisioning.call_timeout", 10*time.Second)
	viper.SetDefault("log.level", "info")
}

// Get returns the current configuration
func Get() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
