package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	TDFCronSpec  string
	TKTSCronSpec string

	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	EmailFrom     string
	EmailTemplate string

	LogLevel    string
	HTTPTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, is applied first without overriding real variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		zap.S().Warnf("config: load .env: %v", err)
	}

	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		PostgresDSN:   getEnv("POSTGRES_DSN", "host=localhost user=ticketwatch password=ticketwatch dbname=ticketwatch port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		TDFCronSpec:   getEnv("TDF_CRON_SPEC", "*/15 * * * *"),
		TKTSCronSpec:  getEnv("TKTS_CRON_SPEC", "*/30 * * * *"),
		SMTPHost:      getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:      getEnvInt("SMTP_PORT", 465),
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		EmailFrom:     getEnv("EMAIL_FROM", ""),
		EmailTemplate: getEnv("EMAIL_TEMPLATE", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
	}
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = cfg.SMTPUser
	}

	zap.S().Infof("config loaded: port=%s tdf_cron=%s tkts_cron=%s smtp=%s:%d",
		cfg.AppPort, cfg.TDFCronSpec, cfg.TKTSCronSpec, cfg.SMTPHost, cfg.SMTPPort)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		zap.S().Warnf("config: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		zap.S().Warnf("config: %s=%q is not a valid duration, using %s", key, v, def)
		return def
	}
	return d
}
