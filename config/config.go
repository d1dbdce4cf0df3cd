package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseDriver   string // "postgres" or "sqlite"
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	SQLitePath       string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Market data configuration
	MarketDataBaseURL string
	QuoteAsset        string
	MaxSymbols        int

	// Telegram configuration
	Telegram TelegramConfig

	// LLM configuration
	LLM LLMConfig

	// Dispatch configuration
	Dispatch DispatchConfig

	// Webhook signing secret (outbound X-Signature and inbound verification)
	WebhookSecret string
}

// TelegramConfig holds chat bot delivery configuration
type TelegramConfig struct {
	Enabled  bool
	BotToken string
}

// LLMConfig holds optional analysis enrichment configuration
type LLMConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Model    string
}

// DispatchConfig holds dispatch cycle parameters and defaults
type DispatchConfig struct {
	CycleIntervalMinutes   int
	DefaultCadenceMinutes  int
	DefaultTimeframe       string
	SignalCacheTTLMinutes  int
	OutcomeExpiryHours     int
	OutcomeIntervalMinutes int
	MinHistoryBars         int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		DatabaseDriver:   getEnvOrDefault("DB_DRIVER", "postgres"),
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "signalhub"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "signalhub"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "signalhub123"),
		SQLitePath:       getEnvOrDefault("SQLITE_PATH", "signalhub.db"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		MarketDataBaseURL: getEnvOrDefault("MARKET_DATA_URL", "https://api.binance.com"),
		QuoteAsset:        getEnvOrDefault("MARKET_QUOTE_ASSET", "USDT"),
		MaxSymbols:        getEnvInt("MARKET_MAX_SYMBOLS", 50),

		Telegram: TelegramConfig{
			Enabled:  getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true",
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},

		LLM: LLMConfig{
			Enabled:  getEnvOrDefault("LLM_ENABLED", "false") == "true",
			Endpoint: getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:   getEnvOrDefault("LLM_API_KEY", ""),
			Model:    getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},

		Dispatch: DispatchConfig{
			CycleIntervalMinutes:   getEnvInt("DISPATCH_CYCLE_INTERVAL", 5),
			DefaultCadenceMinutes:  getEnvInt("DISPATCH_DEFAULT_CADENCE", 15),
			DefaultTimeframe:       getEnvOrDefault("DISPATCH_DEFAULT_TIMEFRAME", "1h"),
			SignalCacheTTLMinutes:  getEnvInt("SIGNAL_CACHE_TTL", 15),
			OutcomeExpiryHours:     getEnvInt("OUTCOME_EXPIRY_HOURS", 24),
			OutcomeIntervalMinutes: getEnvInt("OUTCOME_CHECK_INTERVAL", 2),
			MinHistoryBars:         getEnvInt("MIN_HISTORY_BARS", 200),
		},

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// UseEmbeddedStore reports whether the embedded sqlite store is configured
func (c *Config) UseEmbeddedStore() bool {
	return strings.EqualFold(c.DatabaseDriver, "sqlite")
}
