// Package cfg provides configuration management for the signal bot.
// It supports loading configuration from a YAML file and from environment
// variables, with environment variables taking precedence over YAML settings.
//
// The package validates every policy block (risk, sizing, entry, duplicate,
// cooldown, emergency) and provides sensible defaults for optional settings.
// Live trading requires an explicit environment opt-in.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"signal-bot/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StopLossMode selects where the protective stop comes from.
type StopLossMode string

const (
	StopFromSignal StopLossMode = "FromSignal" // Use the published stop when it clears liquidation
	StopCalculate  StopLossMode = "Calculate"  // Always derive the stop from the liquidation distance
)

// SizingMode selects how the position notional is derived.
type SizingMode string

const (
	SizeRiskPercent   SizingMode = "RiskPercent"
	SizeFixedAmount   SizingMode = "FixedAmount"
	SizeFixedMargin   SizingMode = "FixedMargin"
	SizeFixedQuantity SizingMode = "FixedQuantity"
)

// DeviationAction is the policy applied when the live mark price has drifted
// from the signal's published entry beyond the configured threshold.
type DeviationAction string

const (
	DeviationSkip          DeviationAction = "Skip"
	DeviationEnterAtMarket DeviationAction = "EnterAtMarket"
	DeviationPlaceLimit    DeviationAction = "PlaceLimitAtEntry"
	DeviationAdjustTargets DeviationAction = "EnterAndAdjustTargets"
)

// DuplicateAction is the policy applied when a signal arrives for a symbol
// that already has an open position.
type DuplicateAction string

const (
	DuplicateIgnore         DuplicateAction = "Ignore"
	DuplicateOpenNew        DuplicateAction = "OpenNew"
	DuplicateUpdateTargets  DuplicateAction = "UpdateTargets"
	DuplicateCloseAndReopen DuplicateAction = "CloseAndReopen"
	DuplicateCloseOnly      DuplicateAction = "CloseOnly"
	DuplicateReverse        DuplicateAction = "Reverse"
)

// ExchangeConfig holds venue selection and credentials.
type ExchangeConfig struct {
	Venue       string        // "binance", "bitunix" or "paper"
	Key         string        // API key
	Secret      string        // API secret for request signing
	BaseURL     string        // REST base URL override (venue default when empty)
	WsURL       string        // WebSocket URL override
	Testnet     bool          // Route to the venue testnet
	RESTTimeout time.Duration // Per-request timeout
	MarginMode  string        // ISOLATED or CROSSED
}

// RiskPolicy drives stop-loss and leverage adjustment in the validator.
type RiskPolicy struct {
	MaxLeverage          int          // Hard leverage cap
	UseSignalLeverage    bool         // Take min(signal, cap) instead of always cap
	StopLossMode         StopLossMode // FromSignal or Calculate
	SafeDistanceFraction float64      // Fraction of the liquidation distance used for a substituted stop, in (0,1)
	MaintenanceBuffer    float64      // Maintenance margin buffer in the liquidation formula
}

// SizingPolicy drives position sizing and portfolio limits.
type SizingPolicy struct {
	Mode                    SizingMode
	RiskPercent             float64            // Equity percent risked per trade (RiskPercent mode)
	FixedAmount             float64            // Notional in quote currency (FixedAmount mode)
	FixedAmountPerSymbol    map[string]float64 // Per-symbol FixedAmount overrides
	FixedMargin             float64            // Margin in quote currency (FixedMargin mode)
	FixedQuantity           float64            // Base quantity (FixedQuantity mode)
	MaxNotional             float64            // Absolute notional cap, 0 disables
	MaxPositionPercent      float64            // Per-position cap as percent of equity, 0 disables
	MaxTotalExposurePercent float64            // Portfolio exposure cap as percent of equity, 0 disables
}

// EntryPolicy drives the price-deviation check at open time.
type EntryPolicy struct {
	MaxDeviationPercent float64         // Allowed |mark-entry|/entry before the action applies
	Action              DeviationAction // What to do beyond the threshold
	LimitTTL            time.Duration   // TTL for PlaceLimitAtEntry (reserved)
	MaxSlippagePercent  float64         // Warn threshold on entry fill slippage
}

// DuplicatePolicy drives handling of signals for symbols with open positions.
type DuplicatePolicy struct {
	SameDirection     DuplicateAction // Ignore, OpenNew, UpdateTargets or CloseAndReopen
	OppositeDirection DuplicateAction // Ignore, CloseOnly or Reverse
	MaxPerSymbol      int             // Cap for OpenNew
	MinInterval       time.Duration   // Duplicates inside this window are dropped
}

// CooldownPolicy drives the consecutive-loss cooldown controller.
type CooldownPolicy struct {
	Short             time.Duration // Cooldown after a loss below the long threshold
	Long              time.Duration // Cooldown at or above LongThreshold consecutive losses
	Liquidation       time.Duration // Cooldown after a liquidation close
	LongThreshold     int           // Consecutive losses that switch to the long cooldown
	WinsToReset       int           // Consecutive wins that clear the loss counter
	ReduceAfterLosses bool          // Enable the size multiplier ladder
	Multipliers       []float64     // Size multipliers for 1, 2 and >=3 consecutive losses
}

// EmergencyPolicy drives automatic emergency-stop transitions.
type EmergencyPolicy struct {
	MaxDailyLossPercent   float64 // Daily realized loss percent that trips the stop, 0 disables
	MaxSessionLossPercent float64 // Session realized loss percent that trips the stop, 0 disables
	CloseAllOnEmergency   bool    // Flatten every open position on the transition
}

// TelegramConfig holds the notifier and command surface settings.
type TelegramConfig struct {
	Token          string  // Bot token; empty disables Telegram entirely
	ChatID         int64   // Chat for outbound notifications
	AllowedUserIDs []int64 // Users allowed to issue commands
}

// Settings contains all configuration parameters for the signal bot.
type Settings struct {
	Exchange  ExchangeConfig
	Risk      RiskPolicy
	Sizing    SizingPolicy
	Entry     EntryPolicy
	Duplicate DuplicatePolicy
	Cooldown  CooldownPolicy
	Emergency EmergencyPolicy
	Telegram  TelegramConfig

	// Signal intake
	DefaultMode     string   // Operating mode at startup
	Parsers         []string // Parser registration list, tried in order
	QuoteCurrency   string   // Quote asset for balance lookups
	SignalSuffix    string   // Quote suffix as published by channels
	ExecutionSuffix string   // Quote suffix used on the execution venue

	// Lifecycle management
	MaxConcurrentPositions int           // Open-position count gate
	BreakevenMigration     bool          // Move the stop after target fills
	ReconcileInterval      time.Duration // External-close reconciliation cadence

	// System
	DataPath        string // Directory for positions.json, statistics.json and the journal
	MetricsPort     int    // Prometheus metrics port
	MaxOrderRetries int    // Attempts for order placement
	DryRun          bool   // Route to the paper exchange regardless of venue
}

// ConfigFile is the YAML mirror of Settings.
type ConfigFile struct {
	Exchange struct {
		Venue       string `yaml:"venue"`
		Key         string `yaml:"key"`
		Secret      string `yaml:"secret"`
		BaseURL     string `yaml:"baseURL"`
		WsURL       string `yaml:"wsURL"`
		Testnet     bool   `yaml:"testnet"`
		RESTTimeout string `yaml:"restTimeout"`
		MarginMode  string `yaml:"marginMode"`
	} `yaml:"exchange"`

	Signals struct {
		DefaultMode     string   `yaml:"defaultMode"`
		Parsers         []string `yaml:"parsers"`
		QuoteCurrency   string   `yaml:"quoteCurrency"`
		SignalSuffix    string   `yaml:"signalSuffix"`
		ExecutionSuffix string   `yaml:"executionSuffix"`
	} `yaml:"signals"`

	Risk struct {
		MaxLeverage          int     `yaml:"maxLeverage"`
		UseSignalLeverage    bool    `yaml:"useSignalLeverage"`
		StopLossMode         string  `yaml:"stopLossMode"`
		SafeDistanceFraction float64 `yaml:"safeDistanceFraction"`
		MaintenanceBuffer    float64 `yaml:"maintenanceBuffer"`
	} `yaml:"risk"`

	Sizing struct {
		Mode                    string             `yaml:"mode"`
		RiskPercent             float64            `yaml:"riskPercent"`
		FixedAmount             float64            `yaml:"fixedAmount"`
		FixedAmountPerSymbol    map[string]float64 `yaml:"fixedAmountPerSymbol"`
		FixedMargin             float64            `yaml:"fixedMargin"`
		FixedQuantity           float64            `yaml:"fixedQuantity"`
		MaxNotional             float64            `yaml:"maxNotional"`
		MaxPositionPercent      float64            `yaml:"maxPositionPercent"`
		MaxTotalExposurePercent float64            `yaml:"maxTotalExposurePercent"`
	} `yaml:"sizing"`

	Entry struct {
		MaxDeviationPercent float64 `yaml:"maxDeviationPercent"`
		Action              string  `yaml:"action"`
		LimitTTL            string  `yaml:"limitTTL"`
		MaxSlippagePercent  float64 `yaml:"maxSlippagePercent"`
	} `yaml:"entry"`

	Duplicate struct {
		SameDirection     string `yaml:"sameDirection"`
		OppositeDirection string `yaml:"oppositeDirection"`
		MaxPerSymbol      int    `yaml:"maxPerSymbol"`
		MinInterval       string `yaml:"minInterval"`
	} `yaml:"duplicate"`

	Cooldown struct {
		Short             string    `yaml:"short"`
		Long              string    `yaml:"long"`
		Liquidation       string    `yaml:"liquidation"`
		LongThreshold     int       `yaml:"longThreshold"`
		WinsToReset       int       `yaml:"winsToReset"`
		ReduceAfterLosses bool      `yaml:"reduceAfterLosses"`
		Multipliers       []float64 `yaml:"multipliers"`
	} `yaml:"cooldown"`

	Emergency struct {
		MaxDailyLossPercent   float64 `yaml:"maxDailyLossPercent"`
		MaxSessionLossPercent float64 `yaml:"maxSessionLossPercent"`
		CloseAllOnEmergency   bool    `yaml:"closeAllOnEmergency"`
	} `yaml:"emergency"`

	Telegram struct {
		Token          string  `yaml:"token"`
		ChatID         int64   `yaml:"chatID"`
		AllowedUserIDs []int64 `yaml:"allowedUserIDs"`
	} `yaml:"telegram"`

	System struct {
		DataPath               string `yaml:"dataPath"`
		MetricsPort            int    `yaml:"metricsPort"`
		MaxOrderRetries        int    `yaml:"maxOrderRetries"`
		MaxConcurrentPositions int    `yaml:"maxConcurrentPositions"`
		BreakevenMigration     bool   `yaml:"breakevenMigration"`
		ReconcileInterval      string `yaml:"reconcileInterval"`
		DryRun                 bool   `yaml:"dryRun"`
	} `yaml:"system"`
}

// Load loads configuration from the YAML file named by CONFIG_FILE, then
// applies environment variable overrides and validates the result.
// A .env file is honored when present.
func Load() (Settings, error) {
	_ = godotenv.Load()

	path := os.Getenv(common.EnvConfigFile)
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds Settings from raw YAML, applying env overrides and defaults.
func Parse(data []byte) (Settings, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	s := Settings{
		Exchange: ExchangeConfig{
			Venue:       getEnvOrDefault(common.EnvExchangeVenue, stringOr(file.Exchange.Venue, common.DefaultVenue)),
			Key:         getEnvOrDefault(common.EnvExchangeAPIKey, file.Exchange.Key),
			Secret:      getEnvOrDefault(common.EnvExchangeSecret, file.Exchange.Secret),
			BaseURL:     getEnvOrDefault(common.EnvBaseURL, file.Exchange.BaseURL),
			WsURL:       getEnvOrDefault(common.EnvWsURL, file.Exchange.WsURL),
			Testnet:     getBoolOrDefault(common.EnvTestnet, file.Exchange.Testnet),
			RESTTimeout: getDurationOrDefault(common.EnvRESTTimeout, parseDurationOr(file.Exchange.RESTTimeout, 5*time.Second)),
			MarginMode:  getEnvOrDefault(common.EnvMarginMode, stringOr(file.Exchange.MarginMode, common.DefaultMarginMode)),
		},
		Risk: RiskPolicy{
			MaxLeverage:          intOr(getIntOrDefault(common.EnvMaxLeverage, file.Risk.MaxLeverage), common.DefaultMaxLeverage),
			UseSignalLeverage:    file.Risk.UseSignalLeverage,
			StopLossMode:         StopLossMode(stringOr(file.Risk.StopLossMode, string(StopFromSignal))),
			SafeDistanceFraction: floatOr(file.Risk.SafeDistanceFraction, common.DefaultSafeDistance),
			MaintenanceBuffer:    floatOr(file.Risk.MaintenanceBuffer, common.DefaultMaintenanceBuffer),
		},
		Sizing: SizingPolicy{
			Mode:                    SizingMode(stringOr(file.Sizing.Mode, string(SizeRiskPercent))),
			RiskPercent:             floatOr(file.Sizing.RiskPercent, common.DefaultRiskPercent),
			FixedAmount:             file.Sizing.FixedAmount,
			FixedAmountPerSymbol:    file.Sizing.FixedAmountPerSymbol,
			FixedMargin:             file.Sizing.FixedMargin,
			FixedQuantity:           file.Sizing.FixedQuantity,
			MaxNotional:             file.Sizing.MaxNotional,
			MaxPositionPercent:      file.Sizing.MaxPositionPercent,
			MaxTotalExposurePercent: file.Sizing.MaxTotalExposurePercent,
		},
		Entry: EntryPolicy{
			MaxDeviationPercent: floatOr(file.Entry.MaxDeviationPercent, 1.0),
			Action:              DeviationAction(stringOr(file.Entry.Action, string(DeviationEnterAtMarket))),
			LimitTTL:            parseDurationOr(file.Entry.LimitTTL, time.Minute),
			MaxSlippagePercent:  floatOr(file.Entry.MaxSlippagePercent, 0.5),
		},
		Duplicate: DuplicatePolicy{
			SameDirection:     DuplicateAction(stringOr(file.Duplicate.SameDirection, string(DuplicateIgnore))),
			OppositeDirection: DuplicateAction(stringOr(file.Duplicate.OppositeDirection, string(DuplicateIgnore))),
			MaxPerSymbol:      intOr(file.Duplicate.MaxPerSymbol, common.DefaultMaxPerSymbol),
			MinInterval:       parseDurationOr(file.Duplicate.MinInterval, time.Minute),
		},
		Cooldown: CooldownPolicy{
			Short:             parseDurationOr(file.Cooldown.Short, 30*time.Minute),
			Long:              parseDurationOr(file.Cooldown.Long, 2*time.Hour),
			Liquidation:       parseDurationOr(file.Cooldown.Liquidation, 6*time.Hour),
			LongThreshold:     intOr(file.Cooldown.LongThreshold, 3),
			WinsToReset:       intOr(file.Cooldown.WinsToReset, 2),
			ReduceAfterLosses: file.Cooldown.ReduceAfterLosses,
			Multipliers:       multipliersOr(file.Cooldown.Multipliers),
		},
		Emergency: EmergencyPolicy{
			MaxDailyLossPercent:   file.Emergency.MaxDailyLossPercent,
			MaxSessionLossPercent: file.Emergency.MaxSessionLossPercent,
			CloseAllOnEmergency:   file.Emergency.CloseAllOnEmergency,
		},
		Telegram: TelegramConfig{
			Token:          getEnvOrDefault(common.EnvTelegramToken, file.Telegram.Token),
			ChatID:         getInt64OrDefault(common.EnvTelegramChatID, file.Telegram.ChatID),
			AllowedUserIDs: file.Telegram.AllowedUserIDs,
		},
		DefaultMode:            stringOr(file.Signals.DefaultMode, "Automatic"),
		Parsers:                parsersOr(file.Signals.Parsers),
		QuoteCurrency:          getEnvOrDefault(common.EnvQuoteCurrency, stringOr(file.Signals.QuoteCurrency, common.DefaultQuoteCurrency)),
		SignalSuffix:           getEnvOrDefault(common.EnvSignalSuffix, stringOr(file.Signals.SignalSuffix, common.DefaultQuoteCurrency)),
		ExecutionSuffix:        getEnvOrDefault(common.EnvExecutionSuffix, stringOr(file.Signals.ExecutionSuffix, common.DefaultQuoteCurrency)),
		MaxConcurrentPositions: intOr(file.System.MaxConcurrentPositions, common.DefaultMaxConcurrent),
		BreakevenMigration:     file.System.BreakevenMigration,
		ReconcileInterval:      parseDurationOr(file.System.ReconcileInterval, time.Minute),
		DataPath:               getEnvOrDefault(common.EnvDataPath, file.System.DataPath),
		MetricsPort:            getIntOrDefault(common.EnvMetricsPort, intOr(file.System.MetricsPort, common.DefaultMetricsPort)),
		MaxOrderRetries:        getIntOrDefault(common.EnvMaxOrderRetries, intOr(file.System.MaxOrderRetries, common.DefaultMaxOrderRetries)),
		DryRun:                 file.System.DryRun,
	}

	if err := validateSettings(&s); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func stringOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func intOr(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func floatOr(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func parsersOr(v []string) []string {
	if len(v) > 0 {
		return v
	}
	return []string{"keyvalue", "compact", "emoji"}
}

func multipliersOr(v []float64) []float64 {
	if len(v) == 3 {
		return v
	}
	return []float64{0.75, 0.5, 0.25}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values.
func validateSettings(s *Settings) error {
	if err := validateExchange(s); err != nil {
		return err
	}
	if err := validateRiskPolicy(s); err != nil {
		return err
	}
	if err := validateSizingPolicy(s); err != nil {
		return err
	}
	if err := validatePolicies(s); err != nil {
		return err
	}
	if err := validateSystem(s); err != nil {
		return err
	}
	return validateLiveTradingRestrictions(s)
}

func validateExchange(s *Settings) error {
	switch s.Exchange.Venue {
	case "binance", "bitunix", "paper":
	default:
		return fmt.Errorf("unknown exchange venue %q", s.Exchange.Venue)
	}
	if s.Exchange.Venue != "paper" && !s.DryRun {
		if s.Exchange.Key == "" || s.Exchange.Secret == "" {
			return fmt.Errorf(common.ErrMsgAPIKeyRequired)
		}
	}
	if s.Exchange.RESTTimeout < time.Second || s.Exchange.RESTTimeout > time.Minute {
		return fmt.Errorf("restTimeout must be between 1s and 1m")
	}
	switch s.Exchange.MarginMode {
	case "ISOLATED", "CROSSED":
	default:
		return fmt.Errorf("marginMode must be ISOLATED or CROSSED")
	}
	return nil
}

func validateRiskPolicy(s *Settings) error {
	if s.Risk.MaxLeverage < 1 || s.Risk.MaxLeverage > common.MaxLeverageLimit {
		return fmt.Errorf("maxLeverage must be between 1 and %d", common.MaxLeverageLimit)
	}
	switch s.Risk.StopLossMode {
	case StopFromSignal, StopCalculate:
	default:
		return fmt.Errorf("unknown stopLossMode %q", s.Risk.StopLossMode)
	}
	if s.Risk.SafeDistanceFraction <= 0 || s.Risk.SafeDistanceFraction >= 1 {
		return fmt.Errorf("safeDistanceFraction must be in (0, 1)")
	}
	if s.Risk.MaintenanceBuffer < 0 || s.Risk.MaintenanceBuffer >= 1 {
		return fmt.Errorf("maintenanceBuffer must be in [0, 1)")
	}
	return nil
}

func validateSizingPolicy(s *Settings) error {
	switch s.Sizing.Mode {
	case SizeRiskPercent:
		if s.Sizing.RiskPercent <= 0 || s.Sizing.RiskPercent > common.MaxRiskPercent {
			return fmt.Errorf("riskPercent must be between 0 and %g", common.MaxRiskPercent)
		}
	case SizeFixedAmount:
		if s.Sizing.FixedAmount <= 0 {
			return fmt.Errorf("fixedAmount must be positive")
		}
	case SizeFixedMargin:
		if s.Sizing.FixedMargin <= 0 {
			return fmt.Errorf("fixedMargin must be positive")
		}
	case SizeFixedQuantity:
		if s.Sizing.FixedQuantity <= 0 {
			return fmt.Errorf("fixedQuantity must be positive")
		}
	default:
		return fmt.Errorf("unknown sizing mode %q", s.Sizing.Mode)
	}
	for sym, amount := range s.Sizing.FixedAmountPerSymbol {
		if amount <= 0 {
			return fmt.Errorf("symbol %s: fixedAmount override must be positive", sym)
		}
	}
	return nil
}

func validatePolicies(s *Settings) error {
	switch s.Entry.Action {
	case DeviationSkip, DeviationEnterAtMarket, DeviationPlaceLimit, DeviationAdjustTargets:
	default:
		return fmt.Errorf("unknown deviation action %q", s.Entry.Action)
	}
	if s.Entry.MaxDeviationPercent <= 0 {
		return fmt.Errorf("maxDeviationPercent must be positive")
	}
	switch s.Duplicate.SameDirection {
	case DuplicateIgnore, DuplicateOpenNew, DuplicateUpdateTargets, DuplicateCloseAndReopen:
	default:
		return fmt.Errorf("unknown same-direction duplicate action %q", s.Duplicate.SameDirection)
	}
	switch s.Duplicate.OppositeDirection {
	case DuplicateIgnore, DuplicateCloseOnly, DuplicateReverse:
	default:
		return fmt.Errorf("unknown opposite-direction duplicate action %q", s.Duplicate.OppositeDirection)
	}
	if s.Duplicate.MaxPerSymbol < 1 {
		return fmt.Errorf("maxPerSymbol must be at least 1")
	}
	if len(s.Cooldown.Multipliers) != 3 {
		return fmt.Errorf("cooldown multipliers must have exactly 3 entries")
	}
	for i, m := range s.Cooldown.Multipliers {
		if m <= 0 || m > 1 {
			return fmt.Errorf("cooldown multiplier %d must be in (0, 1]", i)
		}
	}
	if s.Cooldown.LongThreshold < 1 {
		return fmt.Errorf("cooldown longThreshold must be at least 1")
	}
	if s.Cooldown.WinsToReset < 1 {
		return fmt.Errorf("cooldown winsToReset must be at least 1")
	}
	return nil
}

func validateSystem(s *Settings) error {
	if s.DataPath == "" {
		return fmt.Errorf(common.ErrMsgDataPathRequired)
	}
	if s.MetricsPort < common.MinMetricsPort || s.MetricsPort > common.MaxMetricsPort {
		return fmt.Errorf("metricsPort must be between %d and %d", common.MinMetricsPort, common.MaxMetricsPort)
	}
	if s.MaxOrderRetries < 1 || s.MaxOrderRetries > common.MaxOrderRetryLimit {
		return fmt.Errorf("maxOrderRetries must be between 1 and %d", common.MaxOrderRetryLimit)
	}
	if s.MaxConcurrentPositions < 1 {
		return fmt.Errorf("maxConcurrentPositions must be at least 1")
	}
	if len(s.Parsers) == 0 {
		return fmt.Errorf("at least one parser must be registered")
	}
	if s.SignalSuffix == "" || s.ExecutionSuffix == "" {
		return fmt.Errorf("signalSuffix and executionSuffix are required")
	}
	return nil
}

func validateLiveTradingRestrictions(s *Settings) error {
	if s.DryRun || s.Exchange.Venue == "paper" {
		return nil
	}
	if os.Getenv(common.EnvForceLiveTrading) != "true" {
		return fmt.Errorf(common.ErrMsgForceLiveTradingRequired)
	}
	return nil
}

// FixedAmountFor returns the FixedAmount notional for a symbol, honoring
// per-symbol overrides.
func (p SizingPolicy) FixedAmountFor(symbol string) float64 {
	if v, ok := p.FixedAmountPerSymbol[symbol]; ok {
		return v
	}
	return p.FixedAmount
}

// Multiplier maps a consecutive-loss count to a position size multiplier.
func (p CooldownPolicy) Multiplier(consecutiveLosses int) float64 {
	if !p.ReduceAfterLosses || consecutiveLosses <= 0 {
		return 1.0
	}
	if consecutiveLosses > len(p.Multipliers) {
		consecutiveLosses = len(p.Multipliers)
	}
	return p.Multipliers[consecutiveLosses-1]
}

// SuffixList is a convenience for logging the configured suffix pair.
func (s Settings) SuffixList() string {
	return strings.Join([]string{s.SignalSuffix, s.ExecutionSuffix}, "->")
}
