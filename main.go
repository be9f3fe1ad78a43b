package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zuripay/zuri-settler/pkg/api"
	"github.com/zuripay/zuri-settler/pkg/chainclient"
	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/circuitbreaker"
	"github.com/zuripay/zuri-settler/pkg/config"
	"github.com/zuripay/zuri-settler/pkg/dispatcher"
	"github.com/zuripay/zuri-settler/pkg/health"
	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/orchestrator"
	"github.com/zuripay/zuri-settler/pkg/privacy"
	"github.com/zuripay/zuri-settler/pkg/relay"
	"github.com/zuripay/zuri-settler/pkg/solver"
	"github.com/zuripay/zuri-settler/pkg/store"
	"github.com/zuripay/zuri-settler/pkg/watcher"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	registry, err := chains.NewRegistry(cfg.Routes)
	if err != nil {
		log.Fatalf("Failed to build route registry: %v", err)
	}

	// Intent store: Postgres when configured, in-memory otherwise
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		st = pg
	} else {
		stdLogger.Notice("No DATABASE_URL configured, running with the in-memory store")
		st = store.NewMemStore()
	}

	// Chain providers for funding observation
	providers := make(map[chains.Family]chainclient.Provider)
	confirmations := make(map[chains.Family]uint64)
	pollIntervals := make(map[chains.Family]time.Duration)
	for _, chainCfg := range cfg.Chains {
		switch chainCfg.Family {
		case chains.FamilyEVM:
			provider, err := chainclient.NewEVMProvider(ctx, chainCfg.ChainID, chainCfg.RPCURL, stdLogger)
			if err != nil {
				log.Fatalf("Failed to connect to EVM chain %d: %v", chainCfg.ChainID, err)
			}
			providers[chains.FamilyEVM] = provider
		case chains.FamilySolana:
			providers[chains.FamilySolana] = chainclient.NewSolanaProvider(chainCfg.RPCURL, stdLogger)
		default:
			log.Fatalf("Unknown chain family %q in configuration", chainCfg.Family)
		}
		confirmations[chainCfg.Family] = chainCfg.Confirmations
		pollIntervals[chainCfg.Family] = chainCfg.PollInterval
	}

	// Shielded pool
	var pool privacy.Pool
	if cfg.Zcash.URL != "" {
		pool = privacy.NewZcashPool(cfg.Zcash, stdLogger)
	} else {
		stdLogger.Notice("No ZCASH_RPC_URL configured, running with the fake pool")
		pool = privacy.NewFakePool()
	}

	// Payout solver behind a circuit breaker
	solverClient := solver.NewHTTPClient(cfg.SolverEndpoint, cfg.SolverAPIKey, stdLogger)
	solverBreaker := circuitbreaker.NewCircuitBreaker(
		"solver",
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		stdLogger,
	)

	svc := orchestrator.NewService(st, registry, chains.KeygenAllocator{}, cfg.DwellTimeouts, cfg.PollingInterval, stdLogger)

	svc.AddWorker(watcher.NewWatcher(st, registry, providers, watcher.Config{
		PollInterval:      cfg.PollingInterval,
		PollIntervals:     pollIntervals,
		FundingTimeout:    cfg.FundingTimeout,
		Confirmations:     confirmations,
		OverfundTolerance: cfg.OverfundTolerance,
	}, stdLogger))

	svc.AddWorker(relay.NewRelay(st, pool, relay.FixedDelayPolicy{MinDelay: cfg.IssueMinDelay}, relay.Config{
		PollInterval: cfg.PollingInterval,
		BackoffBase:  cfg.RetryBackoffBase,
		MaxAttempts:  cfg.MaxPoolAttempts,
		IssueDestRef: cfg.PoolIssueDest,
	}, stdLogger))

	svc.AddWorker(dispatcher.NewDispatcher(st, solverClient, solverBreaker, registry, providers, dispatcher.Config{
		PollInterval:  cfg.PollingInterval,
		BackoffBase:   cfg.RetryBackoffBase,
		MaxAttempts:   cfg.MaxPayoutAttempts,
		Confirmations: confirmations,
	}, stdLogger))

	svc.Start(ctx)

	// Health and metrics server
	healthServer := health.NewServer(cfg.MetricsPort, st, providers, solverBreaker, stdLogger)
	go healthServer.Start()

	// Client-facing Intent API
	apiServer := api.NewServer(svc, stdLogger)
	if err := apiServer.Start(cfg.APIPort); err != nil {
		log.Fatalf("Intent API server failed: %v", err)
	}
}
