package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`
	GRPCPort string `mapstructure:"GRPC_PORT"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	AccessSecret  string `mapstructure:"ACCESS_SECRET"`
	RefreshSecret string `mapstructure:"REFRESH_SECRET"`

	StripeSecretKey     string        `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeTimeout       time.Duration `mapstructure:"STRIPE_TIMEOUT"`

	PublicBaseURL  string `mapstructure:"PUBLIC_BASE_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	EmailFrom      string `mapstructure:"EMAIL_FROM"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	ReconcileSchedule string        `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileAfter    time.Duration `mapstructure:"RECONCILE_AFTER"`
}

var keys = []string{
	"HTTP_PORT", "GRPC_PORT",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"REDIS_ADDR", "ACCESS_SECRET", "REFRESH_SECRET",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_TIMEOUT",
	"PUBLIC_BASE_URL", "ALLOWED_ORIGINS",
	"SENDGRID_API_KEY", "EMAIL_FROM",
	"LOG_LEVEL", "LOG_PRETTY",
	"RECONCILE_SCHEDULE", "RECONCILE_AFTER",
}

func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("GRPC_PORT", "50051")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("STRIPE_TIMEOUT", "10s")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RECONCILE_SCHEDULE", "@every 5m")
	v.SetDefault("RECONCILE_AFTER", "30m")

	v.AutomaticEnv()

	// Явно биндим переменные, чтобы Viper их видел без файла
	for _, k := range keys {
		if err = v.BindEnv(k); err != nil {
			return
		}
	}

	// Файла может не быть, тогда работаем на ENV
	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// Validate падает сразу, если не заданы секреты, без которых сервис не работает.
func (c Config) Validate() error {
	var missing []string
	for name, val := range map[string]string{
		"DB_HOST":               c.DBHost,
		"DB_USER":               c.DBUser,
		"DB_NAME":               c.DBName,
		"ACCESS_SECRET":         c.AccessSecret,
		"REFRESH_SECRET":        c.RefreshSecret,
		"STRIPE_SECRET_KEY":     c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	if c.StripeTimeout <= 0 {
		return fmt.Errorf("config: STRIPE_TIMEOUT must be positive")
	}
	if c.ReconcileAfter <= 0 {
		return fmt.Errorf("config: RECONCILE_AFTER must be positive")
	}
	return nil
}

func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
