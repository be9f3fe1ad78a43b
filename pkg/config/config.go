package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/privacy"
)

// Config holds the configuration for the settlement orchestrator. One
// instance is built at process start and injected into every component;
// there is no global mutable configuration.
type Config struct {
	APIPort     string
	MetricsPort string

	// DatabaseURL selects the Postgres store; empty runs in-memory.
	DatabaseURL string

	Routes chains.Spec

	PollingInterval   time.Duration
	FundingTimeout    time.Duration
	IssueMinDelay     time.Duration
	RetryBackoffBase  time.Duration
	MaxPoolAttempts   int
	MaxPayoutAttempts int
	OverfundTolerance decimal.Decimal

	// DwellTimeouts bound how long an intent may sit in each
	// non-terminal phase before it is errored out.
	DwellTimeouts map[models.Status]time.Duration

	Chains []ChainConfig

	SolverEndpoint string
	SolverAPIKey   string

	Zcash privacy.ZcashConfig

	// PoolIssueDest is the pool-side reference issues pay toward to
	// fund the dispatch account.
	PoolIssueDest string

	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// ChainConfig holds the configuration for one observed chain.
type ChainConfig struct {
	Family        chains.Family
	ChainID       int
	RPCURL        string
	Confirmations uint64
	PollInterval  time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging.
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables and the
// optional routes YAML file.
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	fundingTimeout, err := GetEnvFundingTimeout()
	if err != nil {
		return nil, err
	}

	issueMinDelay, err := GetEnvIssueMinDelay()
	if err != nil {
		return nil, err
	}

	retryBackoffBase, err := GetEnvRetryBackoffBase()
	if err != nil {
		return nil, err
	}

	maxPoolAttempts, err := GetEnvMaxPoolAttempts()
	if err != nil {
		return nil, err
	}

	maxPayoutAttempts, err := GetEnvMaxPayoutAttempts()
	if err != nil {
		return nil, err
	}

	overfundTolerance, err := GetEnvOverfundTolerance()
	if err != nil {
		return nil, err
	}

	dwellTimeouts, err := GetEnvDwellTimeouts()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	routes, err := loadRoutes(os.Getenv("ROUTES_FILE"))
	if err != nil {
		return nil, err
	}

	chainConfigs, err := GetEnvChainConfigs()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIPort:           GetEnvString("API_PORT", DefaultAPIPort),
		MetricsPort:       GetEnvString("METRICS_PORT", DefaultMetricsPort),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Routes:            routes,
		PollingInterval:   pollingInterval,
		FundingTimeout:    fundingTimeout,
		IssueMinDelay:     issueMinDelay,
		RetryBackoffBase:  retryBackoffBase,
		MaxPoolAttempts:   maxPoolAttempts,
		MaxPayoutAttempts: maxPayoutAttempts,
		OverfundTolerance: overfundTolerance,
		DwellTimeouts:     dwellTimeouts,
		Chains:            chainConfigs,
		SolverEndpoint:    GetEnvString("SOLVER_ENDPOINT", DefaultSolverEndpoint),
		SolverAPIKey:      os.Getenv("SOLVER_API_KEY"),
		Zcash: privacy.ZcashConfig{
			URL:         os.Getenv("ZCASH_RPC_URL"),
			Username:    os.Getenv("ZCASH_RPC_USER"),
			Password:    os.Getenv("ZCASH_RPC_PASS"),
			BurnAddress: os.Getenv("ZCASH_BURN_ADDRESS"),
			FromAccount: os.Getenv("ZCASH_FROM_ACCOUNT"),
		},
		PoolIssueDest: os.Getenv("POOL_ISSUE_DEST"),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRoutes reads the asset/route catalog, falling back to the built-in
// launch catalog when no file is configured.
func loadRoutes(path string) (chains.Spec, error) {
	if path == "" {
		return chains.DefaultSpec(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return chains.Spec{}, fmt.Errorf("failed to read routes file %s: %w", path, err)
	}

	var spec chains.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return chains.Spec{}, fmt.Errorf("failed to parse routes file %s: %w", path, err)
	}
	if spec.FeeRate == "" {
		spec.FeeRate = chains.DefaultSpec().FeeRate
	}
	return spec, nil
}

// validateConfig validates the configuration.
func validateConfig(cfg *Config) error {
	if len(cfg.Routes.Assets) == 0 {
		return fmt.Errorf("at least one asset is required in the routes catalog")
	}
	if len(cfg.Routes.Routes) == 0 {
		return fmt.Errorf("at least one route is required in the routes catalog")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	if cfg.Zcash.URL != "" && cfg.Zcash.BurnAddress == "" {
		return fmt.Errorf("ZCASH_BURN_ADDRESS is required when ZCASH_RPC_URL is set")
	}
	return nil
}
