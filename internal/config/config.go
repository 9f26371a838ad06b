/**
 * @description
 * This package handles configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an
 * optional .env file, providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */
package config

import (
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	MeuDanfeAPIBaseURL    string `mapstructure:"MEUDANFE_API_BASE_URL"`
	MeuDanfeAPIKey        string `mapstructure:"MEUDANFE_API_KEY"`
	EvolutionURL          string `mapstructure:"EVOLUTION_URL"`
	EvolutionAPIKey       string `mapstructure:"EVOLUTION_APIKEY"`
	EvolutionInstance     string `mapstructure:"EVOLUTION_INSTANCE"`
	MercadoPagoBaseURL    string `mapstructure:"MERCADOPAGO_API_BASE_URL"`
	MercadoPagoToken      string `mapstructure:"MERCADOPAGO_ACCESS_TOKEN"`
	MercadoPagoSecret     string `mapstructure:"MERCADOPAGO_WEBHOOK_SECRET"`
	WebhookBaseURL        string `mapstructure:"WEBHOOK_BASE_URL"`
	SubscriptionCents     int64  `mapstructure:"SUBSCRIPTION_PRICE_CENTS"`
	FreeLookups           int    `mapstructure:"FREE_LOOKUPS"`
	MonthlyLookupLimit    int    `mapstructure:"MONTHLY_LOOKUP_LIMIT"`
	SubscriptionDays      int    `mapstructure:"SUBSCRIPTION_DAYS"`
	ChargeExpiryMinutes   int    `mapstructure:"CHARGE_EXPIRY_MINUTES"`
	LookupMaxAttempts     int    `mapstructure:"LOOKUP_MAX_ATTEMPTS"`
	LookupBackoffBaseSecs int    `mapstructure:"LOOKUP_BACKOFF_BASE_SECONDS"`
	LookupRatePerMinute   int    `mapstructure:"LOOKUP_RATE_LIMIT_PER_MINUTE"`
	OutboundMessageQueue  string `mapstructure:"OUTBOUND_MESSAGE_QUEUE"`
	MessageExchange       string `mapstructure:"MESSAGE_EXCHANGE"`
	ReconcileSchedule     string `mapstructure:"PAYMENT_RECONCILE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MEUDANFE_API_BASE_URL", "https://api.meudanfe.com.br/v2")
	viper.SetDefault("MERCADOPAGO_API_BASE_URL", "https://api.mercadopago.com")
	viper.SetDefault("SUBSCRIPTION_PRICE_CENTS", 1490)
	viper.SetDefault("FREE_LOOKUPS", 5)
	viper.SetDefault("MONTHLY_LOOKUP_LIMIT", 100)
	viper.SetDefault("SUBSCRIPTION_DAYS", 30)
	viper.SetDefault("CHARGE_EXPIRY_MINUTES", 30)
	viper.SetDefault("LOOKUP_MAX_ATTEMPTS", 3)
	viper.SetDefault("LOOKUP_BACKOFF_BASE_SECONDS", 2)
	viper.SetDefault("LOOKUP_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("OUTBOUND_MESSAGE_QUEUE", "danfe_service.outbound_messages")
	viper.SetDefault("MESSAGE_EXCHANGE", "danfe_service.events")
	viper.SetDefault("PAYMENT_RECONCILE_SCHEDULE", "*/5 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("MEUDANFE_API_BASE_URL")
	_ = viper.BindEnv("MEUDANFE_API_KEY")
	_ = viper.BindEnv("EVOLUTION_URL")
	_ = viper.BindEnv("EVOLUTION_APIKEY")
	_ = viper.BindEnv("EVOLUTION_INSTANCE")
	_ = viper.BindEnv("MERCADOPAGO_API_BASE_URL")
	_ = viper.BindEnv("MERCADOPAGO_ACCESS_TOKEN")
	_ = viper.BindEnv("MERCADOPAGO_WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_BASE_URL")
	_ = viper.BindEnv("SUBSCRIPTION_PRICE_CENTS")
	_ = viper.BindEnv("SUBSCRIPTION_PRICE")
	_ = viper.BindEnv("FREE_LOOKUPS")
	_ = viper.BindEnv("MONTHLY_LOOKUP_LIMIT")
	_ = viper.BindEnv("SUBSCRIPTION_DAYS")
	_ = viper.BindEnv("CHARGE_EXPIRY_MINUTES")
	_ = viper.BindEnv("LOOKUP_MAX_ATTEMPTS")
	_ = viper.BindEnv("LOOKUP_BACKOFF_BASE_SECONDS")
	_ = viper.BindEnv("LOOKUP_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OUTBOUND_MESSAGE_QUEUE")
	_ = viper.BindEnv("MESSAGE_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_RECONCILE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// Allow specifying the subscription price in whole currency units.
	if viper.IsSet("SUBSCRIPTION_PRICE") {
		priceStr := strings.TrimSpace(viper.GetString("SUBSCRIPTION_PRICE"))
		if priceStr != "" {
			priceValue, parseErr := strconv.ParseFloat(priceStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid SUBSCRIPTION_PRICE\" value=%q err=%v", priceStr, parseErr)
			} else {
				config.SubscriptionCents = int64(math.Round(priceValue * 100))
			}
		}
	}

	if config.SubscriptionCents < 0 {
		log.Printf("level=warn component=config msg=\"negative subscription price configured; coercing to zero\" price_cents=%d", config.SubscriptionCents)
		config.SubscriptionCents = 0
	}
	if config.FreeLookups < 0 {
		config.FreeLookups = 0
	}
	if config.MonthlyLookupLimit <= 0 {
		config.MonthlyLookupLimit = 100
	}
	if config.SubscriptionDays <= 0 {
		config.SubscriptionDays = 30
	}
	if config.ChargeExpiryMinutes <= 0 {
		config.ChargeExpiryMinutes = 30
	}
	if config.LookupMaxAttempts <= 0 {
		config.LookupMaxAttempts = 3
	}
	if config.LookupBackoffBaseSecs <= 0 {
		config.LookupBackoffBaseSecs = 2
	}
	if config.LookupRatePerMinute < 0 {
		config.LookupRatePerMinute = 0
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.MercadoPagoSecret = strings.TrimSpace(config.MercadoPagoSecret)

	return
}
