package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"trailbot/internal/adapters/logger"
	"trailbot/internal/risk"
	"trailbot/internal/trailing"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market data
	Timeframe    string        // kline interval string (e.g., "15m")
	TimeframeDur time.Duration // parsed Timeframe, used for bar counting
	KlineLimit   int           // candles fetched per evaluation
	ATRLength    int
	ADXPeriod    int
	Stop         risk.StopParams // default-stop derivation for adopted positions

	// Monitor loop
	MonitorInterval   time.Duration
	ReconcileInterval time.Duration
	StopFailureAlerts int // consecutive stop-update failures before notifying

	// Trailing engine
	Trailing trailing.Config

	// Database
	DBPath string

	// Logging
	LogLevel  zerolog.Level
	LogPretty bool

	// Telegram (send-only; empty token disables notifications)
	TelegramToken  string
	TelegramChatID int64
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Market data
	cfg.Timeframe = getEnv("TIMEFRAME", "15m")
	cfg.TimeframeDur, err = parseTimeframe(cfg.Timeframe)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TIMEFRAME: %v", err))
	}
	cfg.KlineLimit = getEnvAsInt("KLINE_LIMIT", 120)
	if cfg.KlineLimit <= 0 {
		errs = append(errs, "KLINE_LIMIT must be positive")
	}
	cfg.ATRLength = getEnvAsInt("ATR_LENGTH", 14)
	cfg.ADXPeriod = getEnvAsInt("ADX_PERIOD", 14)
	if cfg.ATRLength <= 0 || cfg.ADXPeriod <= 0 {
		errs = append(errs, "ATR_LENGTH and ADX_PERIOD must be positive")
	}

	cfg.Stop = risk.DefaultStopParams()
	cfg.Stop.SuperTrendPeriod = getEnvAsInt("SUPERTREND_PERIOD", cfg.Stop.SuperTrendPeriod)
	cfg.Stop.SuperTrendMult = getEnvAsFloat("SUPERTREND_MULT", cfg.Stop.SuperTrendMult)
	cfg.Stop.ATRLength = cfg.ATRLength

	// Monitor loop
	monitorSecs := getEnvAsInt("MONITOR_INTERVAL", 20)
	if monitorSecs <= 0 {
		errs = append(errs, "MONITOR_INTERVAL must be positive (seconds)")
	}
	cfg.MonitorInterval = time.Duration(monitorSecs) * time.Second

	reconcileSecs := getEnvAsInt("RECONCILE_INTERVAL", 3600)
	if reconcileSecs <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL must be positive (seconds)")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSecs) * time.Second

	cfg.StopFailureAlerts = getEnvAsInt("STOP_FAILURE_ALERTS", 3)
	if cfg.StopFailureAlerts <= 0 {
		errs = append(errs, "STOP_FAILURE_ALERTS must be positive")
	}

	// Trailing engine
	tcfg, terrs := loadTrailing()
	cfg.Trailing = tcfg
	errs = append(errs, terrs...)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trailbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", false)

	// Telegram
	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "")
	if chatIDStr != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
		}
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		errs = append(errs, "TELEGRAM_CHAT_ID must be set when TELEGRAM_BOT_TOKEN is set")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadTrailing builds the trailing engine configuration from the
// environment on top of the engine defaults.
func loadTrailing() (trailing.Config, []string) {
	var errs []string
	tcfg := trailing.DefaultConfig()

	// The two break-even trigger modes are mutually exclusive; an explicit
	// percentage trigger replaces the R-based gate entirely.
	rSet := os.Getenv("BE_TRIGGER_R") != ""
	pctSet := os.Getenv("BE_TRIGGER_PCT") != ""
	if rSet && pctSet {
		errs = append(errs, "BE_TRIGGER_R and BE_TRIGGER_PCT are mutually exclusive; set only one")
	}
	tcfg.BETriggerR = getEnvAsFloat("BE_TRIGGER_R", tcfg.BETriggerR)
	if pctSet && !rSet {
		pct := getEnvAsFloat("BE_TRIGGER_PCT", 0)
		tcfg.BETriggerPct = &pct
	}

	tcfg.BEOffsetPct = getEnvAsFloat("BE_OFFSET_PCT", tcfg.BEOffsetPct)
	tcfg.NoTrailBars = getEnvAsInt("NO_TRAIL_BARS", tcfg.NoTrailBars)
	tcfg.PivotLookback = getEnvAsInt("PIVOT_LOOKBACK", tcfg.PivotLookback)
	tcfg.ATRMultStrong = getEnvAsFloat("TRAIL_ATR_MULT_STRONG", tcfg.ATRMultStrong)
	tcfg.ATRMultWeak = getEnvAsFloat("TRAIL_ATR_MULT_WEAK", tcfg.ATRMultWeak)
	tcfg.TrailBufferMult = getEnvAsFloat("TRAIL_BUFFER_MULT", tcfg.TrailBufferMult)
	tcfg.ADXTrendMin = getEnvAsFloat("ADX_TREND_MIN", tcfg.ADXTrendMin)
	tcfg.AdaptiveTrail = getEnvAsBool("USE_ADAPTIVE_TRAIL", tcfg.AdaptiveTrail)
	if s := os.Getenv("MIN_SL_MOVE_PCT"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid MIN_SL_MOVE_PCT: %v", err))
		} else {
			tcfg.MinSLMovePct = &v
		}
	}
	tcfg.StackedPartialClosePct = getEnvAsFloat("STACKED_PARTIAL_CLOSE_PCT", tcfg.StackedPartialClosePct)
	tcfg.StackedWiderMultBonus = getEnvAsFloat("STACKED_WIDER_MULT_BONUS", tcfg.StackedWiderMultBonus)
	tcfg.Disabled = getEnvAsBool("TRAIL_DISABLED", tcfg.Disabled)

	if err := tcfg.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid trailing configuration: %v", err))
	}
	return tcfg, errs
}

// parseTimeframe converts a kline interval string ("1m", "15m", "1h", "1d")
// into a duration.
func parseTimeframe(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("timeframe is empty")
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe unit %q in %q", string(unit), s)
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
