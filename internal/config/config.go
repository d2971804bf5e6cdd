// Package config loads application configuration from environment
// variables.  A .env file in the working directory is read first when
// present.
package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.
type Config struct {
	Env      string // APP_ENV: dev, test or prod
	Port     string // APP_PORT
	LogLevel string // LOG_LEVEL: debug, info, warn, error

	StoreDriver   string // STORE_DRIVER: mysql or memory
	DBUser        string
	DBPass        string // may be empty
	DBHost        string
	DBPort        string
	DBName        string
	DBAutoMigrate bool // DB_AUTO_MIGRATE runs the embedded schema at startup

	JWTSecret         string        // shared with the identity provider
	CancelTokenSecret string        // CANCEL_TOKEN_SECRET, falls back to JWT_SECRET
	CancelTokenMaxAge time.Duration // CANCEL_TOKEN_MAX_AGE
	CancelCutoff      time.Duration // CANCEL_CUTOFF before the start time
	Currency          string

	PendingExpiry    time.Duration // age after which pending checkouts are expired
	ExpireSchedule   string        // cron spec; empty disables
	GenerateSchedule string        // cron spec; empty disables
	GenerateDays     int           // rolling generation horizon

	RabbitMQURL   string // empty disables publishing
	MailerSendKey string // empty makes the consumer log instead of mail
	MailFromName  string
	MailFromEmail string
	CancelURL     string // link template placed in guest emails

	WhatsAppEnabled bool
	TwilioSID       string
	TwilioToken     string
	WhatsAppFrom    string
	WhatsAppAdmins  []string

	MetricsEnabled  bool
	ShutdownTimeout time.Duration
}

// Load reads the configuration.  Required variables are enforced by
// must() and a missing value stops the program.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     envStr("APP_PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		StoreDriver:   strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		DBAutoMigrate: envBool("DB_AUTO_MIGRATE", false),

		JWTSecret:         must("JWT_SECRET"),
		CancelTokenSecret: os.Getenv("CANCEL_TOKEN_SECRET"),
		CancelTokenMaxAge: envDur("CANCEL_TOKEN_MAX_AGE", 7*24*time.Hour),
		CancelCutoff:      envDur("CANCEL_CUTOFF", 2*time.Hour),
		Currency:          strings.ToLower(envStr("CURRENCY", "gbp")),

		PendingExpiry:    envDur("PENDING_EXPIRY", 30*time.Minute),
		ExpireSchedule:   os.Getenv("EXPIRE_SCHEDULE"),
		GenerateSchedule: os.Getenv("GENERATE_SCHEDULE"),
		GenerateDays:     envInt("GENERATE_DAYS", 30),

		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		MailerSendKey: os.Getenv("MAILERSEND_API_KEY"),
		MailFromName:  envStr("MAIL_FROM_NAME", "Studio"),
		MailFromEmail: envStr("MAIL_FROM_EMAIL", "no-reply@example.com"),
		CancelURL:     os.Getenv("CANCEL_URL"),

		WhatsAppEnabled: envBool("WHATSAPP_NOTIFICATIONS_ENABLED", false),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		WhatsAppFrom:    os.Getenv("TWILIO_WHATSAPP_FROM"),
		WhatsAppAdmins:  envList("TWILIO_WHATSAPP_ADMIN_RECIPIENTS"),

		MetricsEnabled:  envBool("METRICS_ENABLED", true),
		ShutdownTimeout: envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if _, ok := os.LookupEnv("EXPIRE_SCHEDULE"); !ok {
		cfg.ExpireSchedule = "@every 5m"
	}
	if _, ok := os.LookupEnv("GENERATE_SCHEDULE"); !ok {
		cfg.GenerateSchedule = "@daily"
	}
	if cfg.CancelTokenSecret == "" {
		cfg.CancelTokenSecret = cfg.JWTSecret
	}
	switch cfg.StoreDriver {
	case DriverMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case DriverMemory:
	default:
		log.Fatalf("invalid STORE_DRIVER: %q", cfg.StoreDriver)
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
