package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Payment  PaymentConfig
	Tickets  TicketConfig
	Checkout CheckoutConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port         string
	ScannerPort  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	BookingStatus    string
	TicketsIssued    string
	PaymentConfirmed string
}

type PaymentConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	Timeout             time.Duration
	// Decimal string in [0,1], e.g. "0.02".
	PlatformFeePercentage string
}

type TicketConfig struct {
	SigningKey  string
	RetiredKeys []RetiredKey
	KeyGrace    time.Duration
	PDFFontPath string
}

// RetiredKey is a signing key that was replaced at RetiredAt.
type RetiredKey struct {
	Secret    string
	RetiredAt time.Time
}

type CheckoutConfig struct {
	SessionTTL         time.Duration
	IssuanceMaxRetries int
}

type AuthConfig struct {
	OIDCIssuer string
	// HS256 secret accepted instead of OIDC when no issuer is configured.
	DevJWTSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ScannerPort:  getEnv("SCANNER_PORT", ":8085"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "engagements-group"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				BookingStatus:    getEnv("KAFKA_TOPIC_BOOKING_STATUS", "engagements.booking.status"),
				TicketsIssued:    getEnv("KAFKA_TOPIC_TICKETS_ISSUED", "engagements.tickets.issued"),
				PaymentConfirmed: getEnv("KAFKA_TOPIC_PAYMENT_CONFIRMED", "payments.confirmed"),
			},
		},
		Payment: PaymentConfig{
			StripeSecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:              getEnv("PAYMENT_CURRENCY", "usd"),
			Timeout:               time.Duration(getEnvInt("PAYMENT_TIMEOUT_SECONDS", 10)) * time.Second,
			PlatformFeePercentage: getEnv("PLATFORM_FEE_PERCENTAGE", "0.02"),
		},
		Tickets: TicketConfig{
			SigningKey:  getEnv("TICKET_SIGNING_KEY", ""),
			RetiredKeys: ParseRetiredKeys(getEnv("TICKET_RETIRED_KEYS", "")),
			KeyGrace:    time.Duration(getEnvInt("TICKET_KEY_GRACE_HOURS", 72)) * time.Hour,
			PDFFontPath: getEnv("TICKET_PDF_FONT", "./fonts/DejaVuSans.ttf"),
		},
		Checkout: CheckoutConfig{
			SessionTTL:         time.Duration(getEnvInt("CHECKOUT_SESSION_TTL_MINUTES", 30)) * time.Minute,
			IssuanceMaxRetries: getEnvInt("ISSUANCE_MAX_RETRIES", 3),
		},
		Auth: AuthConfig{
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			DevJWTSecret: getEnv("AUTH_DEV_JWT_SECRET", ""),
		},
	}
}

// ParseRetiredKeys reads "secret@2026-01-02T15:04:05Z,other@..." pairs.
// Entries with a missing or unparsable timestamp are skipped.
func ParseRetiredKeys(raw string) []RetiredKey {
	var keys []RetiredKey
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		idx := strings.LastIndex(item, "@")
		if idx <= 0 {
			continue
		}
		retiredAt, err := time.Parse(time.RFC3339, item[idx+1:])
		if err != nil {
			continue
		}
		keys = append(keys, RetiredKey{Secret: item[:idx], RetiredAt: retiredAt})
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
