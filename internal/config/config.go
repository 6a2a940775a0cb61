// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	// Instrument and range
	Derivative string
	ExpiryType string
	StartDate  time.Time
	EndDate    time.Time
	Interval   int // minutes
	LotSize    int
	NumLots    int

	// Strategy
	StrategySlug string
	RulesPath    string // inline rules JSON file, used when no slug

	// Risk management
	TPPct       float64
	SLPct       float64
	TrailingPct float64
	IndexSL     float64
	MaxHoldBars int

	// Execution frictions
	SlippagePct     float64
	BrokeragePerLot float64
	Capital         float64

	// Sideways window
	SidewaysSkip bool

	// Data sources
	SpotCSV       string
	ClickHouseDSN string
	UseVIX        bool
	NSESymbols    bool

	// PostgreSQL (optional; empty host disables persistence)
	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDBName   string
	PGSSLMode  string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64

	// Debug
	DebugMode bool
	DebugPath string

	LogLevel string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.Derivative = getEnvWithDefault("DERIVATIVE", "NIFTY")
	cfg.ExpiryType = getEnvWithDefault("EXPIRY_TYPE", "weekly")
	cfg.StartDate = getEnvDateWithDefault("START_DATE", time.Now().AddDate(0, -1, 0))
	cfg.EndDate = getEnvDateWithDefault("END_DATE", time.Now())
	cfg.Interval = getEnvIntWithDefault("INTERVAL_MINUTES", 5)
	cfg.LotSize = getEnvIntWithDefault("LOT_SIZE", 50)
	cfg.NumLots = getEnvIntWithDefault("NUM_LOTS", 1)

	cfg.StrategySlug = os.Getenv("STRATEGY_SLUG")
	cfg.RulesPath = os.Getenv("RULES_PATH")

	cfg.TPPct = getEnvFloatWithDefault("TP_PCT", 0.30)
	cfg.SLPct = getEnvFloatWithDefault("SL_PCT", 0.25)
	cfg.TrailingPct = getEnvFloatWithDefault("TRAILING_PCT", 0)
	cfg.IndexSL = getEnvFloatWithDefault("INDEX_SL", 0)
	cfg.MaxHoldBars = getEnvIntWithDefault("MAX_HOLD_BARS", 0)

	cfg.SlippagePct = getEnvFloatWithDefault("SLIPPAGE_PCT", 0.0025)
	cfg.BrokeragePerLot = getEnvFloatWithDefault("BROKERAGE_PER_LOT", 20)
	cfg.Capital = getEnvFloatWithDefault("CAPITAL", 100000)

	cfg.SidewaysSkip = getEnvBoolWithDefault("SIDEWAYS_SKIP", false)

	cfg.SpotCSV = os.Getenv("SPOT_CSV")
	cfg.ClickHouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.UseVIX = getEnvBoolWithDefault("USE_VIX", true)
	cfg.NSESymbols = getEnvBoolWithDefault("NSE_SYMBOLS", true)

	cfg.PGHost = os.Getenv("PG_HOST")
	cfg.PGPort = getEnvWithDefault("PG_PORT", "5432")
	cfg.PGUser = getEnvWithDefault("PG_USER", "postgres")
	cfg.PGPassword = os.Getenv("PG_PASSWORD")
	cfg.PGDBName = getEnvWithDefault("PG_DBNAME", "optionbt")
	cfg.PGSSLMode = getEnvWithDefault("PG_SSLMODE", "disable")

	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = getEnvInt64WithDefault("TELEGRAM_CHAT_ID", 0)

	cfg.DebugMode = getEnvBoolWithDefault("DEBUG_MODE", false)
	cfg.DebugPath = getEnvWithDefault("DEBUG_PATH", "debug/candles.json")

	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")

	return &cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDateWithDefault(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if ts, err := time.ParseInLocation("2006-01-02", value, time.UTC); err == nil {
			return ts
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Unparseable date, using default")
	}
	return defaultValue
}
