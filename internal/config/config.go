package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CetLoc is used for operator-facing timestamps.
var CetLoc = time.FixedZone("CET", 3600)

// Config holds every tunable of the trading loop.
type Config struct {
	Version  string
	LogLevel string

	MaxLogSizeMB  int64
	MaxLogBackups int

	// Drivers
	CycleIntervalMins   int
	MonitorIntervalSecs int
	TradingEnabled      bool
	MarketHoursOnly     bool
	Paper               bool

	// Universe & screening
	Universe             []string
	MinSignalConfidence  float64
	MaxCandidates        int
	ValidatorBypassConf  float64
	ValidatorNeutralConf float64
	ResearchMaxChars     int
	AnalysisMode         string
	DecisionBatchSize    int
	CallTimeoutSecs      int
	PaperRiskRelaxation  bool
	MaxPositionPct       float64

	// Safety gates
	CooldownMins              int
	MaxConcentrationPct       float64
	RotationEnabled           bool
	RotationMinBuyingPowerPct float64
	PDTEquityThreshold        float64
	PDTMaxDayTrades           int

	// Exits
	DefaultStopLossPct   float64
	DefaultTakeProfitPct float64
	MaxHoldDays          int

	// Decision inference
	GeminiAPIKey      string
	GeminiModel       string
	LLMMaxConcurrent  int
	LLMCallsPerMin    int
	LLMMaxRetries     int
	LLMBackoffBaseMs  int
	LLMBackoffMaxSecs int

	// Research validator
	ResearchAPIKey string
	ResearchAPIURL string
	ResearchModel  string

	// Storage
	RecordDBPath string
	StateFile    string

	// Operator channel
	TelegramBotToken string
	TelegramChatID   string
}

// requiredSecretVars are critical and confidential.
var requiredSecretVars = map[string]bool{
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
	"APCA_API_BASE_URL":   true,
}

// maskedVars are echoed with only their last 4 chars.
var maskedVars = map[string]bool{
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
	"GEMINI_API_KEY":      true,
	"RESEARCH_API_KEY":    true,
	"TELEGRAM_BOT_TOKEN":  true,
	"TELEGRAM_CHAT_ID":    true,
}

// Load reads .env (if present) and the process environment into a Config.
// Missing broker credentials are fatal.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	echoEnvFile()

	cfg := &Config{
		LogLevel:      getEnvAsString("LOG_LEVEL", "info"),
		MaxLogSizeMB:  int64(getEnvAsInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 5),

		CycleIntervalMins:   getEnvAsInt("CYCLE_INTERVAL_MINS", 15),
		MonitorIntervalSecs: getEnvAsInt("MONITOR_INTERVAL_SECS", 60),
		TradingEnabled:      getEnvAsBool("TRADING_ENABLED", false),
		MarketHoursOnly:     getEnvAsBool("MARKET_HOURS_ONLY", true),
		Paper:               strings.Contains(strings.ToLower(os.Getenv("APCA_API_BASE_URL")), "paper"),

		Universe:             getEnvAsList("UNIVERSE", []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "XLE", "GLD"}),
		MinSignalConfidence:  getEnvAsFloat64("MIN_SIGNAL_CONFIDENCE", 60),
		MaxCandidates:        getEnvAsInt("MAX_CANDIDATES", 5),
		ValidatorBypassConf:  getEnvAsFloat64("VALIDATOR_BYPASS_CONFIDENCE", 65),
		ValidatorNeutralConf: getEnvAsFloat64("VALIDATOR_NEUTRAL_CONFIDENCE", 75),
		ResearchMaxChars:     getEnvAsInt("RESEARCH_MAX_CHARS", 1500),
		AnalysisMode:         getEnvAsString("ANALYSIS_MODE", "standard"),
		DecisionBatchSize:    getEnvAsInt("DECISION_BATCH_SIZE", 5),
		CallTimeoutSecs:      getEnvAsInt("CALL_TIMEOUT_SECS", 30),
		PaperRiskRelaxation:  getEnvAsBool("PAPER_RISK_RELAXATION", false),
		MaxPositionPct:       getEnvAsFloat64("MAX_POSITION_PCT", 20),

		CooldownMins:              getEnvAsInt("COOLDOWN_MINS", 30),
		MaxConcentrationPct:       getEnvAsFloat64("MAX_CONCENTRATION_PCT", 20),
		RotationEnabled:           getEnvAsBool("ROTATION_ENABLED", true),
		RotationMinBuyingPowerPct: getEnvAsFloat64("ROTATION_MIN_BUYING_POWER_PCT", 10),
		PDTEquityThreshold:        getEnvAsFloat64("PDT_EQUITY_THRESHOLD", 25000),
		PDTMaxDayTrades:           getEnvAsInt("PDT_MAX_DAY_TRADES", 3),

		DefaultStopLossPct:   getEnvAsFloat64("DEFAULT_STOP_LOSS_PCT", 5),
		DefaultTakeProfitPct: getEnvAsFloat64("DEFAULT_TAKE_PROFIT_PCT", 15),
		MaxHoldDays:          getEnvAsInt("MAX_HOLD_DAYS", 0),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnvAsString("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMMaxConcurrent:  getEnvAsInt("LLM_MAX_CONCURRENT", 2),
		LLMCallsPerMin:    getEnvAsInt("LLM_CALLS_PER_MIN", 10),
		LLMMaxRetries:     getEnvAsInt("LLM_MAX_RETRIES", 4),
		LLMBackoffBaseMs:  getEnvAsInt("LLM_BACKOFF_BASE_MS", 1000),
		LLMBackoffMaxSecs: getEnvAsInt("LLM_BACKOFF_MAX_SECS", 60),

		ResearchAPIKey: os.Getenv("RESEARCH_API_KEY"),
		ResearchAPIURL: getEnvAsString("RESEARCH_API_URL", "https://api.perplexity.ai"),
		ResearchModel:  getEnvAsString("RESEARCH_MODEL", "sonar"),

		RecordDBPath: getEnvAsString("RECORD_DB_PATH", "data/trades.db"),
		StateFile:    getEnvAsString("STATE_FILE", "autotrader_state.json"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}

	cfg.sanitize()
	return cfg
}

// sanitize clamps values that would otherwise wedge a driver.
func (c *Config) sanitize() {
	if c.CycleIntervalMins < 1 {
		log.Printf("Warning: CYCLE_INTERVAL_MINS %d too small, using 1", c.CycleIntervalMins)
		c.CycleIntervalMins = 1
	}
	if c.MonitorIntervalSecs < 5 {
		log.Printf("Warning: MONITOR_INTERVAL_SECS %d too small, using 5", c.MonitorIntervalSecs)
		c.MonitorIntervalSecs = 5
	}
	if c.MaxCandidates < 1 {
		c.MaxCandidates = 1
	}
	if c.DecisionBatchSize < 1 {
		c.DecisionBatchSize = 1
	}
	if c.LLMMaxConcurrent < 1 {
		c.LLMMaxConcurrent = 1
	}
	if c.LLMCallsPerMin < 1 {
		c.LLMCallsPerMin = 1
	}
	if c.CallTimeoutSecs < 1 {
		c.CallTimeoutSecs = 30
	}
}

// CycleInterval is the orchestrator cadence.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMins) * time.Minute
}

// MonitorInterval is the position monitor cadence.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSecs) * time.Second
}

// CallTimeout bounds every external call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// Cooldown is the minimum gap between two opening trades on one ticker.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMins) * time.Minute
}

// MaxHold is zero when hold-time exits are disabled.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.MaxHoldDays) * 24 * time.Hour
}

// echoEnvFile prints variables defined in .env, masking secrets.
func echoEnvFile() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	log.Println("--- .env File Variables ---")
	for key, val := range envMap {
		if maskedVars[key] {
			masked := "***"
			if len(val) > 4 {
				masked = "***" + val[len(val)-4:]
			}
			log.Printf("%s=%s", key, masked)
		} else {
			log.Printf("%s=%s", key, val)
		}
	}
	log.Println("---------------------------")
}
