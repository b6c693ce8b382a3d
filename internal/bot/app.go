// internal/bot/app.go
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rovshanmuradov/meteora-bot/internal/batch"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/meteora-bot/internal/config"
	"github.com/rovshanmuradov/meteora-bot/internal/dex/jupiter"
	"github.com/rovshanmuradov/meteora-bot/internal/dex/meteora"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"github.com/rovshanmuradov/meteora-bot/internal/httpx"
	"github.com/rovshanmuradov/meteora-bot/internal/lifecycle"
	"github.com/rovshanmuradov/meteora-bot/internal/monitor"
	"github.com/rovshanmuradov/meteora-bot/internal/rebalance"
	"github.com/rovshanmuradov/meteora-bot/internal/storage"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/metrics"
	"github.com/rovshanmuradov/meteora-bot/internal/wallet"
	"go.uber.org/zap"
)

const eventBufferSize = 256

// PriceSource котирует SOL в USD.
type PriceSource interface {
	NativeUSDPrice(ctx context.Context) (float64, error)
}

// Gateway - всё, что дает адаптер Meteora.
type Gateway interface {
	domain.ChainGateway
	domain.PoolReader
	domain.FeeClaimer
}

// Funds - всё, что дает адаптер ребаланса.
type Funds interface {
	domain.RebalanceGateway
	domain.BalanceReader
}

// Deps - адаптеры, на которых работает App. Prices, Pools, Journal и Metrics могут быть nil.
type Deps struct {
	Chain   Gateway
	Swap    domain.SwapGateway
	Funds   Funds
	Prices  PriceSource
	Pools   domain.PoolFinder
	Wallets *wallet.Store
	Bus     *events.Bus
	Journal storage.Journal
	Metrics *metrics.Collector
}

// App хранит собранные компоненты, на которых работают команды CLI.
type App struct {
	cfg       *config.Config
	deps      Deps
	main      *domain.Account
	exec      *batch.Executor
	lifecycle *lifecycle.Controller
	daemon    *monitor.Daemon
	funds     *rebalance.Helper
	shutdown  *ShutdownHandler
	logger    *zap.Logger
}

// NewApp подключается к RPC-нодам и API из конфига и собирает все компоненты.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	wallets, err := wallet.Load(cfg.WalletsFile)
	if err != nil {
		return nil, err
	}

	poolCfg := rpc.DefaultPoolConfig()
	poolCfg.RateLimit = cfg.RPCRateLimit
	pool, err := rpc.NewPool(cfg.RPCList, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}
	client := solbc.NewClient(pool, logger)

	mode, err := solbc.ParseTxMode(cfg.TransactionMode)
	if err != nil {
		return nil, err
	}
	senderCfg := solbc.DefaultSenderConfig()
	senderCfg.Mode = mode
	sender := solbc.NewSender(client, senderCfg, logger)
	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector()
		sender.WithObserver(collector)
	}

	httpClient := httpx.New(httpx.DefaultConfig(), logger)
	pairs := meteora.NewAPI(httpClient, cfg.MeteoraAPIURL)
	chain := meteora.NewGateway(client, sender, pairs, meteoraConfig(cfg), logger)

	jupAPI := jupiter.NewAPI(httpClient, cfg.JupiterAPIURL, cfg.JupiterAPIKey)
	jupCfg := jupiter.DefaultConfig()
	jupCfg.SlippageBps = cfg.SlippageBps
	jupCfg.MinSellUIAmount = cfg.MinSellUIAmount
	swap := jupiter.NewGateway(jupAPI, client, sender, jupCfg, logger)

	funds := rebalance.NewSolanaGateway(client, sender, rebalance.DefaultGatewayConfig(), logger)

	deps := Deps{
		Chain:   chain,
		Swap:    swap,
		Funds:   funds,
		Prices:  jupAPI,
		Pools:   pairs,
		Wallets: wallets,
		Bus:     events.NewBus(logger, eventBufferSize),
		Metrics: collector,
	}
	if cfg.JournalPath != "" {
		j, err := storage.OpenBolt(cfg.JournalPath)
		if err != nil {
			logger.Warn("Journal unavailable, history will not be recorded",
				zap.String("path", cfg.JournalPath), zap.Error(err))
		} else {
			deps.Journal = j
		}
	}

	logger.Info("🔌 Connected",
		zap.Int("rpc_nodes", len(cfg.RPCList)),
		zap.Int("wallets", wallets.Len()),
		zap.String("tx_mode", string(mode)))
	return newApp(cfg, deps, logger)
}

func newApp(cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	mainAcc, err := deps.Wallets.Main(cfg.MainWallet)
	if err != nil {
		return nil, err
	}
	policy, err := lifecycle.PolicyByName(cfg.RetryMode, cfg.MaxRetryRounds)
	if err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(logger, eventBufferSize)
	}

	exec := batch.NewExecutor(logger, batch.Options{
		Concurrency: cfg.BatchConcurrency,
		JitterMin:   cfg.JitterMin(),
		JitterMax:   cfg.JitterMax(),
	})

	lcCfg := lifecycle.DefaultConfig()
	lcCfg.OpenSettle = cfg.OpenSettle()
	lcCfg.RemoveSettle = cfg.RemoveSettle()
	lcCfg.RepollDelay = cfg.RepollDelay()
	lcCfg.MaxRounds = cfg.MaxRetryRounds

	retryCfg := rebalance.DefaultRetryConfig()
	retryCfg.DustUI = cfg.MinSellUIAmount
	retryCfg.Delay = cfg.RepollDelay()
	helper := rebalance.NewHelper(deps.Funds, deps.Swap, deps.Funds, retryCfg, logger)

	monCfg := monitor.DefaultConfig()
	monCfg.PollInterval = cfg.MonitorPoll()
	monCfg.WatchInterval = cfg.RotateWatch()
	monCfg.RotateThreshold = cfg.RotateThreshold
	monCfg.RotateWidth = cfg.RangeInterval
	monCfg.CloseSettle = cfg.RemoveSettle()
	monCfg.OpenSettle = cfg.OpenSettle()
	monCfg.LegBackoff = cfg.RepollDelay()

	app := &App{
		cfg:       cfg,
		deps:      deps,
		main:      mainAcc,
		exec:      exec,
		lifecycle: lifecycle.NewController(deps.Chain, exec, policy, lcCfg, deps.Bus, logger),
		daemon:    monitor.NewDaemon(deps.Chain, helper, exec, monCfg, deps.Bus, logger),
		funds:     helper,
		shutdown:  NewShutdownHandler(logger.Named("shutdown"), 10*time.Second),
		logger:    logger,
	}

	// Закрываем в порядке LIFO: шина сбрасывает события подписчикам до закрытия журнала.
	bus := deps.Bus
	if deps.Journal != nil {
		app.shutdown.Add("journal", deps.Journal)
		rec := storage.NewRecorder(bus, deps.Journal, logger)
		app.shutdown.AddFunc("journal recorder", func() error {
			rec.Stop()
			return nil
		})
	}
	if deps.Metrics != nil {
		if srv, err := deps.Metrics.Serve(cfg.MetricsAddr, logger); err != nil {
			logger.Warn("Metrics server not started", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
		} else {
			app.shutdown.Add("metrics server", srv)
		}
		stop := deps.Metrics.Subscribe(bus)
		app.shutdown.AddFunc("metrics", func() error {
			stop()
			return nil
		})
	}
	app.shutdown.AddFunc("event bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bus.Shutdown(ctx)
	})
	return app, nil
}

// Close досылает события из очереди и закрывает журнал.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

// Journal возвращает журнал истории или nil, если он выключен.
func (a *App) Journal() storage.Journal {
	return a.deps.Journal
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// accounts находит кошельки по именам; пустой список - все кошельки.
func (a *App) accounts(ids []string) ([]domain.Account, error) {
	return a.deps.Wallets.Select(ids)
}

func (a *App) requireMain() (*domain.Account, error) {
	if a.main == nil {
		return nil, &domain.ValidationError{Field: "main_wallet", Reason: "this command needs main_wallet to be set"}
	}
	return a.main, nil
}

func meteoraConfig(cfg *config.Config) meteora.Config {
	out := meteora.DefaultConfig()
	out.OpenPriority = solbc.PriorityConfig{ComputeUnits: cfg.ComputeUnits, PriorityFee: cfg.PriorityFeeOpen}
	out.ClosePriority = solbc.PriorityConfig{ComputeUnits: cfg.ComputeUnits, PriorityFee: cfg.PriorityFeeRemove}
	return out
}
