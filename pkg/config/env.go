package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/models"
)

const (
	// DefaultAPIPort is the port the client-facing Intent API listens on
	DefaultAPIPort = "8080"

	// DefaultMetricsPort is the port for the health and metrics server
	DefaultMetricsPort = "9090"

	// DefaultPollingInterval defines the default worker polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultFundingTimeout bounds how long the watcher waits for an
	// attached funding transaction to appear on chain
	DefaultFundingTimeout = 30 * time.Minute

	// DefaultIssueMinDelay is the minimum delay between burn settlement
	// and issue submission, decorrelating the two pool operations
	DefaultIssueMinDelay = 30 * time.Second

	// DefaultRetryBackoffBase is the base delay for exponential backoff
	DefaultRetryBackoffBase = 10 * time.Second

	// DefaultMaxPoolAttempts bounds shielded pool submission retries
	DefaultMaxPoolAttempts = 5

	// DefaultMaxPayoutAttempts bounds solver submission retries
	DefaultMaxPayoutAttempts = 5

	// DefaultOverfundTolerance accepts confirmed amounts up to this
	// fraction above the quote before flagging an overfund
	DefaultOverfundTolerance = "0.05"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultSolverEndpoint is the payout solver API endpoint
	DefaultSolverEndpoint = "https://solver.zuripay.example"

	// Default chain settings

	DefaultEthereumChainID       = 11155111 // Sepolia
	DefaultEthereumRPCURL        = "https://rpc.sepolia.org"
	DefaultEthereumConfirmations = 3

	DefaultSolanaRPCURL        = "https://api.devnet.solana.com"
	DefaultSolanaConfirmations = 32
)

// defaultDwellTimeouts bound time spent in each non-terminal phase.
var defaultDwellTimeouts = map[models.Status]time.Duration{
	models.StatusCreated:           2 * time.Hour,
	models.StatusWaitingForFunding: time.Hour,
	models.StatusFundingSeen:       time.Hour,
	models.StatusFunded:            time.Hour,
	models.StatusPrivacyPending:    2 * time.Hour,
	models.StatusPrivacyDone:       time.Hour,
	models.StatusPayoutPending:     2 * time.Hour,
}

// dwellEnvNames maps a phase to its override environment variable.
var dwellEnvNames = map[models.Status]string{
	models.StatusCreated:           "DWELL_CREATED",
	models.StatusWaitingForFunding: "DWELL_WAITING_FOR_FUNDING",
	models.StatusFundingSeen:       "DWELL_FUNDING_SEEN",
	models.StatusFunded:            "DWELL_FUNDED",
	models.StatusPrivacyPending:    "DWELL_PRIVACY_PENDING",
	models.StatusPrivacyDone:       "DWELL_PRIVACY_DONE",
	models.StatusPayoutPending:     "DWELL_PAYOUT_PENDING",
}

// GetEnvString returns the environment variable or the default.
func GetEnvString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvFundingTimeout returns how long to wait for an attached funding
// transaction to be observed on chain
func GetEnvFundingTimeout() (time.Duration, error) {
	return getEnvDuration("FUNDING_TIMEOUT", DefaultFundingTimeout)
}

// GetEnvIssueMinDelay returns the minimum burn-to-issue delay
func GetEnvIssueMinDelay() (time.Duration, error) {
	return getEnvDuration("ISSUE_MIN_DELAY", DefaultIssueMinDelay)
}

// GetEnvRetryBackoffBase returns the base delay for exponential backoff
func GetEnvRetryBackoffBase() (time.Duration, error) {
	return getEnvDuration("RETRY_BACKOFF_BASE", DefaultRetryBackoffBase)
}

// GetEnvMaxPoolAttempts returns the shielded pool submission retry bound
func GetEnvMaxPoolAttempts() (int, error) {
	return getEnvPositiveInt("MAX_POOL_ATTEMPTS", DefaultMaxPoolAttempts)
}

// GetEnvMaxPayoutAttempts returns the solver submission retry bound
func GetEnvMaxPayoutAttempts() (int, error) {
	return getEnvPositiveInt("MAX_PAYOUT_ATTEMPTS", DefaultMaxPayoutAttempts)
}

// GetEnvOverfundTolerance returns the accepted overfund fraction
func GetEnvOverfundTolerance() (decimal.Decimal, error) {
	tolerance := os.Getenv("OVERFUND_TOLERANCE")
	if tolerance == "" {
		tolerance = DefaultOverfundTolerance
	}

	dec, err := decimal.NewFromString(tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid OVERFUND_TOLERANCE value: %s, must be a decimal", tolerance)
	}
	if dec.IsNegative() {
		return decimal.Zero, fmt.Errorf("OVERFUND_TOLERANCE must not be negative")
	}
	return dec, nil
}

// GetEnvDwellTimeouts returns the per-phase max dwell times
func GetEnvDwellTimeouts() (map[models.Status]time.Duration, error) {
	out := make(map[models.Status]time.Duration, len(defaultDwellTimeouts))
	for status, def := range defaultDwellTimeouts {
		d, err := getEnvDuration(dwellEnvNames[status], def)
		if err != nil {
			return nil, err
		}
		out[status] = d
	}
	return out, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be debug, info, notice or error", level)
	}
}

// GetEnvLogColoring returns whether log coloring is enabled
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}
	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}
	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvChainConfigs returns the observed chain configurations
func GetEnvChainConfigs() ([]ChainConfig, error) {
	ethConfirmations, err := getEnvPositiveInt("ETHEREUM_CONFIRMATIONS", DefaultEthereumConfirmations)
	if err != nil {
		return nil, err
	}
	ethPoll, err := getEnvDuration("ETHEREUM_POLL_INTERVAL", time.Duration(DefaultPollingInterval)*time.Second)
	if err != nil {
		return nil, err
	}

	ethChainID, err := getEnvPositiveInt("ETHEREUM_CHAIN_ID", DefaultEthereumChainID)
	if err != nil {
		return nil, err
	}

	solConfirmations, err := getEnvPositiveInt("SOLANA_CONFIRMATIONS", DefaultSolanaConfirmations)
	if err != nil {
		return nil, err
	}
	solPoll, err := getEnvDuration("SOLANA_POLL_INTERVAL", time.Duration(DefaultPollingInterval)*time.Second)
	if err != nil {
		return nil, err
	}

	return []ChainConfig{
		{
			Family:        chains.FamilyEVM,
			ChainID:       ethChainID,
			RPCURL:        GetEnvString("ETHEREUM_RPC_URL", DefaultEthereumRPCURL),
			Confirmations: uint64(ethConfirmations),
			PollInterval:  ethPoll,
		},
		{
			Family:        chains.FamilySolana,
			RPCURL:        GetEnvString("SOLANA_RPC_URL", DefaultSolanaRPCURL),
			Confirmations: uint64(solConfirmations),
			PollInterval:  solPoll,
		},
	}, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, val)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return parsed, nil
}

func getEnvPositiveInt(key string, def int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, val)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}
