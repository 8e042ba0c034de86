package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cowprotocol/tenderly-watch-tower/blockprocessor"
	"github.com/cowprotocol/tenderly-watch-tower/chainevents"
	"github.com/cowprotocol/tenderly-watch-tower/chainwatcher"
	"github.com/cowprotocol/tenderly-watch-tower/composable"
	"github.com/cowprotocol/tenderly-watch-tower/conditionalorderhandler"
	"github.com/cowprotocol/tenderly-watch-tower/config"
	"github.com/cowprotocol/tenderly-watch-tower/filterpolicy"
	"github.com/cowprotocol/tenderly-watch-tower/health"
	"github.com/cowprotocol/tenderly-watch-tower/httpapi"
	"github.com/cowprotocol/tenderly-watch-tower/metrics"
	"github.com/cowprotocol/tenderly-watch-tower/notify"
	"github.com/cowprotocol/tenderly-watch-tower/observability/logging"
	"github.com/cowprotocol/tenderly-watch-tower/orderbookclient"
	"github.com/cowprotocol/tenderly-watch-tower/poller"
	"github.com/cowprotocol/tenderly-watch-tower/provider"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
	"github.com/cowprotocol/tenderly-watch-tower/registrystore"
	"github.com/cowprotocol/tenderly-watch-tower/storage"
)

func cmdRun(fs *flag.FlagSet, args []string) error {
	cfg, err := config.ParseRun(fs, args)
	if err != nil {
		return err
	}
	return runService(cfg)
}

func cmdRunMulti(fs *flag.FlagSet, args []string) error {
	cfg, err := config.ParseRunMulti(fs, args)
	if err != nil {
		return err
	}
	return runService(cfg)
}

// runService is the shared body of `run` and `run-multi`: one process,
// one database, one HTTP health surface, N chain watchers.
func runService(cfg *config.Config) error {
	log, _ := logging.Setup("watch-tower", logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := storage.NewLevelDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer func() { _ = kv.Close() }()

	promReg := prometheus.NewRegistry()
	sink := metrics.NewPrometheus(promReg, log)
	agg := health.NewAggregator()

	var notifier notify.Sink = notify.Noop{}
	if !cfg.Silent && cfg.SlackWebhook != "" {
		notifier = notify.NewSlack(cfg.SlackWebhook)
	}

	var httpSrv *httpapi.Server
	if !cfg.DisableAPI {
		httpSrv = httpapi.New(fmt.Sprintf(":%d", cfg.APIPort), agg, promReg)
		go func() {
			log.Info("watchtower: health/metrics listening", slog.Int("port", cfg.APIPort))
			if err := httpSrv.ListenAndServe(); err != nil {
				log.Error("watchtower: http server exited", slog.Any("error", err))
			}
		}()
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		chainCfg := chainCfg
		wg.Add(1)
		go func() {
			defer wg.Done()
			chainLog := log.With(slog.String("chain_id", chainCfg.ChainID), slog.String("rpc_url", chainCfg.RPC))
			if err := runChain(ctx, cfg, chainCfg, kv, sink, agg, notifier, chainLog); err != nil {
				errs <- fmt.Errorf("chain %s: %w", chainCfg.RPC, err)
			}
		}()
	}

	wg.Wait()
	close(errs)

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runChain wires and runs a single chain watcher to completion (either
// ctx cancellation, or an unrecoverable chain-watcher error).
func runChain(ctx context.Context, cfg *config.Config, chainCfg config.Chain, kv storage.KV, sink metrics.Sink, agg *health.Aggregator, notifier notify.Sink, log *slog.Logger) error {
	prov, err := provider.Dial(ctx, chainCfg.RPC, provider.ApproxBlockInterval)
	if err != nil {
		return fmt.Errorf("dial provider: %w", err)
	}
	defer func() { _ = prov.Close() }()

	chainIDNum, err := prov.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}
	chainID := strconv.FormatUint(chainIDNum, 10)
	if chainCfg.ChainID != "" {
		chainID = chainCfg.ChainID
	}
	log = log.With(slog.String("chain_id", chainID))

	parsedABI, err := chainevents.ParseABI()
	if err != nil {
		return fmt.Errorf("parse abi: %w", err)
	}
	contracts := make([]common.Address, 0, len(chainCfg.Contracts))
	for _, c := range chainCfg.Contracts {
		contracts = append(contracts, common.HexToAddress(c))
	}
	source := chainevents.New(prov, parsedABI, nil)

	store := registrystore.New(kv, chainID, log)
	reg := registry.New(chainID, log, store)
	if err := store.Load(ctx, reg); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	var policyLoader *filterpolicy.Loader
	policyFn := func() *filterpolicy.Policy { return &filterpolicy.Policy{DefaultAction: filterpolicy.ActionAccept} }
	if cfg.FilterPolicyURL != "" {
		policyLoader = filterpolicy.NewLoader(cfg.FilterPolicyURL, nil, log)
		go policyLoader.Run(ctx)
		policyFn = policyLoader.Current
	}

	var orderBook poller.OrderBook = orderbookclient.Noop{}
	if cfg.OrderBookURL != "" {
		orderBook = orderbookclient.New(cfg.OrderBookURL)
	}
	var handler poller.Handler = conditionalorderhandler.Deferred{}

	poll := poller.New(handler, orderBook, policyFn, sink, log, chainID, cfg.DryRun)
	compat := composable.New(prov)
	proc := blockprocessor.New(reg, poll, compat, sink, log, chainID, 1)

	watcher := chainwatcher.New(chainwatcher.Config{
		ChainID:         chainID,
		Contracts:       contracts,
		DeploymentBlock: chainCfg.DeploymentBlock,
		PageSize:        cfg.PageSize,
		WatchdogTimeout: cfg.WatchdogTimeout,
		InPod:           cfg.InPod,
		OnFatalWatchdog: func() {
			_ = reg.Write(context.Background())
			_ = kv.Close()
		},
	}, prov, source, proc, agg, sink, log)

	startFrom := chainCfg.DeploymentBlock
	if reg.LastProcessedBlock != nil {
		startFrom = reg.LastProcessedBlock.Number + 1
	}

	runErr := watcher.Run(ctx, startFrom, cfg.OneShot)

	if writeErr := reg.Write(context.Background()); writeErr != nil {
		log.Error("watchtower: final registry write failed", slog.Any("error", writeErr))
	}

	if runErr != nil && notify.ShouldNotify(reg.LastNotifiedError, time.Now()) {
		now := time.Now()
		reg.NoteError(now)
		_ = reg.Write(context.Background())
		_ = notifier.Notify(context.Background(), notify.Event{ChainID: chainID, Severity: "error", Message: runErr.Error(), Timestamp: now})
	}

	if runErr != nil && ctx.Err() != nil {
		// Cancellation-driven shutdown is not a failure.
		return nil
	}
	return runErr
}
