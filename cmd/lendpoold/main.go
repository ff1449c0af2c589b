package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendpool/config"
	"lendpool/core/types"
	"lendpool/native/credit"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/native/reputation"
	"lendpool/observability"
	"lendpool/observability/logging"
	"lendpool/rpc"
	"lendpool/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("LENDPOOL_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("lendpoold", env, cfg.LogFile)

	governance, err := cfg.GovernanceAddress()
	if err != nil {
		panic(fmt.Sprintf("Failed to parse governance address: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	policies := lending.NewPolicyRegistry(governance)
	for _, asset := range cfg.Assets {
		policy := lending.AssetPolicy{
			AssetID:                 asset.AssetID,
			IsStable:                asset.IsStable,
			LTVBps:                  asset.LTVBps,
			LiquidationThresholdBps: asset.LiquidationThresholdBps,
		}
		if err := policies.SetPolicy(governance, policy); err != nil {
			panic(fmt.Sprintf("Failed to register asset %s: %v", asset.AssetID, err))
		}
	}

	feed := oracle.NewStaticOracle()
	for _, price := range cfg.Prices {
		rate, ok := price.Price()
		if !ok {
			panic(fmt.Sprintf("Failed to parse price for asset %s", price.AssetID))
		}
		feed.SetPrice(price.AssetID, rate, time.Now())
	}
	aggregator := oracle.NewAggregator(cfg.OracleMaxAge())
	aggregator.Register("static", feed)

	tiers := make([]credit.Tier, 0, len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		cap, ok := tier.Cap()
		if !ok {
			panic(fmt.Sprintf("Failed to parse credit tier cap %q", tier.CapWei))
		}
		tiers = append(tiers, credit.Tier{MinScore: tier.MinScore, CapWei: cap})
	}
	creditRegistry, err := credit.NewRegistry(governance, tiers)
	if err != nil {
		panic(fmt.Sprintf("Failed to build credit registry: %v", err))
	}

	model, err := lending.NewInterestModel(
		cfg.RateModel.Base,
		cfg.RateModel.Slope1,
		cfg.RateModel.Slope2,
		cfg.RateModel.Kink,
		cfg.RateModel.ReserveFactor,
	)
	if err != nil {
		panic(fmt.Sprintf("Failed to build interest model: %v", err))
	}

	engine := lending.NewEngine(lending.NewStore(db), policies, aggregator, creditRegistry)
	engine.SetInterestModel(model)
	engine.SetAccrualEnabled(cfg.AccrualEnabled)
	engine.SetGracePeriod(cfg.GracePeriod())
	engine.SetLiquidityReserve(cfg.LiquidityReserveWei())

	ledger := reputation.NewLedger(db)
	engine.SetRecorder(ledger)

	manager, err := lending.NewManager(engine, policies, creditRegistry, governance)
	if err != nil {
		panic(fmt.Sprintf("Failed to build pool manager: %v", err))
	}
	manager.SetEmitter(func(event *types.Event) {
		logger.Info("pool event", slog.String("type", event.Type), slog.Any("attributes", event.Attributes))
	})

	if cfg.RPCToken == "" {
		logger.Warn("RPC auth token not configured; governance methods are unreachable")
	}
	server := rpc.NewServer(manager, aggregator, ledger, cfg.RPCToken, cfg.RPCRateLimit)

	stop := make(chan struct{})
	go runUpkeepLoop(manager, cfg.UpkeepPollInterval(), logger, stop)
	go runSnapshotLoop(manager, logger, stop)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("address", cfg.RPCAddress))
		errCh <- server.Start(cfg.RPCAddress, cfg.MetricsPath)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		close(stop)
		panic(fmt.Sprintf("RPC server stopped: %v", err))
	case sig := <-sigCh:
		close(stop)
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}
}

// runUpkeepLoop drives the liquidation state machine the way an external
// keeper network would: poll checkUpkeep, and when work is reported, feed the
// payload straight back into performUpkeep.
func runUpkeepLoop(manager *lending.Manager, interval time.Duration, logger *slog.Logger, stop <-chan struct{}) {
	metrics := observability.Upkeep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			needed, data, err := manager.CheckUpkeep()
			if err != nil {
				logger.Error("upkeep check failed", slog.Any("error", err))
				continue
			}
			metrics.RecordCheck(needed, now)
			if !needed {
				continue
			}
			if err := manager.PerformUpkeep(data); err != nil {
				logger.Error("upkeep execution failed", slog.Any("error", err))
				continue
			}
			metrics.RecordLiquidation()
			logger.Info("upkeep executed", slog.String("data", string(data)))
		}
	}
}

func runSnapshotLoop(manager *lending.Manager, logger *slog.Logger, stop <-chan struct{}) {
	metrics := observability.Pool()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pool, err := manager.PoolSnapshot()
			if err != nil {
				logger.Error("pool snapshot failed", slog.Any("error", err))
				continue
			}
			utilization, borrow, supply, err := manager.Rates()
			if err != nil {
				logger.Error("rates snapshot failed", slog.Any("error", err))
				continue
			}
			metrics.RecordSnapshot(pool.Balance, pool.TotalDebt, utilization, borrow, supply, pool.Paused)
		}
	}
}
