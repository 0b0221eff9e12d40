package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `validate:"required,oneof=development stage production"`
	Http Http

	Cors CORS `validate:"required"`

	Kafka Kafka `validate:"required"`

	Postgres Postgres `validate:"required"`

	Cache Cache `validate:"required"`

	Sweep Sweep `validate:"required"`

	Admission Admission `validate:"required"`
}

type Http struct {
	Host string `validate:"required,hostname|ip"`
	Port string `validate:"required,gt=0,lte=65535"`
}

type Kafka struct {
	Brokers []string `validate:"required,min=1,dive,hostname_port"`
	Topic   string   `validate:"required"`

	BatchTimeout  time.Duration `validate:"gte=0"`
	PublishBuffer int           `validate:"gte=1"`
}

type Postgres struct {
	Host     string `validate:"required,hostname|ip"`
	Port     int    `validate:"required,gt=0,lte=65535"`
	DBName   string `validate:"required"`
	User     string `validate:"required"`
	Password string `validate:"required"`

	SSLMode string `validate:"required,oneof=disable require verify-ca verify-full"`

	MaxOpenConns    int           `validate:"gte=1"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
}

type CORS struct {
	AllowedOrigins []string `validate:"required,min=1,dive,url"`
}

type Cache struct {
	Capacity int           `validate:"gte=1"`
	TTL      time.Duration `validate:"gt=0"`
}

type Sweep struct {
	Interval  time.Duration `validate:"gt=0"`
	BatchSize int           `validate:"gte=1"`
}

type Admission struct {
	ResponseWindow       time.Duration `validate:"gt=0"`
	DefaultBusySurcharge int           `validate:"gte=0"`
	PrepMinsPerItem      int           `validate:"gte=0"`

	BuyerRateInterval time.Duration `validate:"gt=0"`
	BuyerRateBurst    int           `validate:"gte=1"`
}

func New() Config {
	return Config{
		Env: env("ENV", "development"),

		Http: Http{
			Host: env("HOST", "localhost"),
			Port: env("PORT", "8080"),
		},

		Cors: CORS{
			AllowedOrigins: strings.Split(env("ALLOWED_CORS_ORIGINS", "http://localhost:3000"), ","),
		},

		Kafka: Kafka{
			Topic:   env("KAFKA_TOPIC", "marketplace-notifications"),
			Brokers: strings.Split(env("KAFKA_BROKERS", "localhost:9092"), ","),

			BatchTimeout:  envDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
			PublishBuffer: envInt("KAFKA_PUBLISH_BUFFER", 1024),
		},

		Postgres: Postgres{
			Port:     envInt("POSTGRES_PORT", 5432),
			Host:     env("POSTGRES_HOST", "localhost"),
			DBName:   env("POSTGRES_DB", "marketplace"),
			User:     env("POSTGRES_USER", ""),
			Password: env("POSTGRES_PASSWORD", ""),

			SSLMode: env("POSTGRES_SSL_MODE", "disable"),

			MaxOpenConns:    envInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("POSTGRES_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: envDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Cache: Cache{
			Capacity: envInt("SHOP_CACHE_CAPACITY", 10000),
			TTL:      envDuration("SHOP_CACHE_TTL", time.Minute),
		},

		Sweep: Sweep{
			Interval:  envDuration("SWEEP_INTERVAL", time.Minute),
			BatchSize: envInt("SWEEP_BATCH_SIZE", 100),
		},

		Admission: Admission{
			ResponseWindow:       envDuration("ORDER_RESPONSE_WINDOW", 15*time.Minute),
			DefaultBusySurcharge: envInt("DEFAULT_BUSY_SURCHARGE_MINS", 15),
			PrepMinsPerItem:      envInt("PREP_MINS_PER_ITEM", 2),

			BuyerRateInterval: envDuration("BUYER_RATE_INTERVAL", 100*time.Second),
			BuyerRateBurst:    envInt("BUYER_RATE_BURST", 3),
		},
	}
}

func (c Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func env(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if len(fallback) == 0 {
		return ""
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}
