package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port           string
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseURL    string
	LogLevel       string
	LogFormat      string // "console" or "json"
	APIToken       string // optional shared bearer token for the HTTP API

	// Build-time style values with hard-coded fallbacks.
	AppDomain       string
	EvolutionAPIURL string
	N8nAPIURL       string

	HTTPTimeout     time.Duration
	PairingInterval time.Duration
	PairingTimeout  time.Duration
	ConfigCacheTTL  time.Duration

	HealthSweepSchedule string

	QRTerminal  bool
	QRImageSize int

	RabbitMQURL         string
	RabbitMQQueue       string
	RabbitMQQueuePrefix string
	KafkaBrokers        []string
	KafkaTopic          string

	DeliveryMaxRetries   int
	DeliveryRetryBackoff time.Duration
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present.
func LoadConfig() (*Config, error) {
	// Environment variables take precedence over the .env file.
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found or error loading it, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:                os.Getenv("PORT"),
		DatabaseDriver:      os.Getenv("DATABASE_DRIVER"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		LogFormat:           os.Getenv("LOG_FORMAT"),
		APIToken:            os.Getenv("API_TOKEN"),
		AppDomain:           os.Getenv("APP_DOMAIN"),
		EvolutionAPIURL:     os.Getenv("EVOLUTION_API_URL"),
		N8nAPIURL:           os.Getenv("N8N_API_URL"),
		HealthSweepSchedule: os.Getenv("HEALTH_SWEEP_SCHEDULE"),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue:       os.Getenv("RABBITMQ_QUEUE"),
		RabbitMQQueuePrefix: os.Getenv("RABBITMQ_QUEUE_PREFIX"),
		KafkaTopic:          os.Getenv("KAFKA_TOPIC"),
	}

	defaultString(&cfg.Port, "PORT", "8080")
	defaultString(&cfg.DatabaseDriver, "DATABASE_DRIVER", "sqlite")
	defaultString(&cfg.DatabaseURL, "DATABASE_URL", "crm.db")
	defaultString(&cfg.AppDomain, "APP_DOMAIN", "localhost")
	defaultString(&cfg.EvolutionAPIURL, "EVOLUTION_API_URL", "http://localhost:8080")
	defaultString(&cfg.N8nAPIURL, "N8N_API_URL", "http://localhost:5678")
	defaultString(&cfg.RabbitMQQueue, "RABBITMQ_QUEUE", "crm_events")
	defaultString(&cfg.RabbitMQQueuePrefix, "RABBITMQ_QUEUE_PREFIX", "crm")
	defaultString(&cfg.KafkaTopic, "KAFKA_TOPIC", "crm.events")

	if cfg.DatabaseDriver != "sqlite" && cfg.DatabaseDriver != "postgres" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", cfg.DatabaseDriver)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PairingInterval, err = envDuration("PAIRING_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PairingTimeout, err = envDuration("PAIRING_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConfigCacheTTL, err = envDuration("CONFIG_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryRetryBackoff, err = envDuration("DELIVERY_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.QRImageSize, err = envInt("QR_IMAGE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.DeliveryMaxRetries, err = envInt("DELIVERY_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.QRTerminal, err = envBool("QR_TERMINAL", false); err != nil {
		return nil, err
	}

	if cfg.PairingInterval >= cfg.PairingTimeout {
		return nil, fmt.Errorf("PAIRING_INTERVAL (%s) must be shorter than PAIRING_TIMEOUT (%s)", cfg.PairingInterval, cfg.PairingTimeout)
	}

	log.Info().
		Str("port", cfg.Port).
		Str("databaseDriver", cfg.DatabaseDriver).
		Str("evolutionAPIURL", cfg.EvolutionAPIURL).
		Str("n8nAPIURL", cfg.N8nAPIURL).
		Dur("pairingInterval", cfg.PairingInterval).
		Dur("pairingTimeout", cfg.PairingTimeout).
		Msg("Configuration loading complete")
	return cfg, nil
}

func defaultString(field *string, name, fallback string) {
	if *field == "" {
		*field = fallback
		log.Info().Str("default", fallback).Msgf("%s not set, using default", name)
	}
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return d, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return n, nil
}

func envBool(name string, fallback bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return b, nil
}
