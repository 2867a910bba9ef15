package common

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvExchangeAPIKey   = "EXCHANGE_API_KEY"
	EnvExchangeSecret   = "EXCHANGE_API_SECRET"
	EnvExchangeVenue    = "EXCHANGE_VENUE"
	EnvBaseURL          = "BASE_URL"
	EnvWsURL            = "WS_URL"
	EnvTestnet          = "TESTNET"
	EnvForceLiveTrading = "FORCE_LIVE_TRADING"
	EnvDataPath         = "DATA_PATH"
	EnvMetricsPort      = "METRICS_PORT"
	EnvRESTTimeout      = "REST_TIMEOUT"
	EnvMaxOrderRetries  = "MAX_ORDER_RETRIES"
	EnvQuoteCurrency    = "QUOTE_CURRENCY"
	EnvSignalSuffix     = "SIGNAL_SUFFIX"
	EnvExecutionSuffix  = "EXECUTION_SUFFIX"
	EnvMaxLeverage      = "MAX_LEVERAGE"
	EnvMarginMode       = "MARGIN_MODE"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
)

// Configuration defaults
const (
	DefaultVenue             = "binance"
	DefaultQuoteCurrency     = "USDT"
	DefaultMetricsPort       = 8080
	DefaultMaxLeverage       = 20
	DefaultMarginMode        = "ISOLATED"
	DefaultMaxOrderRetries   = 3
	DefaultRiskPercent       = 1.0
	DefaultSafeDistance      = 0.5
	DefaultMaintenanceBuffer = 0.02
	DefaultMaxConcurrent     = 5
	DefaultMaxPerSymbol      = 1
)

// Common error messages
const (
	ErrMsgAPIKeyRequired           = "API key and secret are required"
	ErrMsgDataPathRequired         = "dataPath is required"
	ErrMsgForceLiveTradingRequired = "live trading requires FORCE_LIVE_TRADING=true environment variable"
)

// Validation bounds
const (
	MinMetricsPort     = 1024
	MaxMetricsPort     = 65535
	MaxLeverageLimit   = 125
	MaxRiskPercent     = 10.0
	MaxOrderRetryLimit = 10
)
